// Package webhook persists inbound JSON payloads into an endpoint-configured
// table: one row per request, carrying the raw body, environment, webhook id
// and receipt timestamp.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/sqlstore"
	"github.com/r3e-network/odata-gateway/infrastructure/clock"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
)

// Executor inserts webhook deliveries into their configured sink table.
type Executor struct {
	pools   *sqlstore.Manager
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New builds an Executor. clk may be nil (defaults to clock.Real{}).
func New(pools *sqlstore.Manager, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{pools: pools, clock: clk, logger: logger, metrics: m}
}

// Request is one inbound webhook delivery.
type Request struct {
	ConnectionString string
	Endpoint         *endpoint.WebhookEndpoint
	Env              string
	ID               string
	Body             []byte
}

// Result mirrors the `{ success }` response shape.
type Result struct {
	Success bool
}

// Persist validates {id} against the endpoint's allow-list and inserts one
// row containing the raw payload, env, id and a receipt timestamp.
func (e *Executor) Persist(ctx context.Context, req Request) (Result, error) {
	def := req.Endpoint
	if def.AllowedWebhookIDs.Len() > 0 && !def.AllowedWebhookIDs.Has(req.ID) {
		return Result{}, errors.UnknownWebhook(req.ID)
	}

	if !json.Valid(req.Body) {
		return Result{}, errors.InvalidInput("body", "must be valid JSON")
	}

	db, err := e.pools.Get(ctx, req.ConnectionString)
	if err != nil {
		return Result{}, errors.DatabaseError("acquire pool", err)
	}

	receivedAt := e.clock.Now().UTC()
	query := "INSERT INTO " + bracket(def.Schema) + "." + bracket(def.Table) +
		" ([WebhookId], [Environment], [Payload], [ReceivedAt]) VALUES (@id, @env, @payload, @receivedAt)"

	start := time.Now()
	_, err = db.ExecContext(ctx, query,
		sql.Named("id", req.ID),
		sql.Named("env", req.Env),
		sql.Named("payload", string(req.Body)),
		sql.Named("receivedAt", receivedAt),
	)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordDatabaseQuery("gateway", "webhook_insert", status, time.Since(start))
	}
	if err != nil {
		return Result{}, errors.DatabaseError("insert "+def.Table, err)
	}

	return Result{Success: true}, nil
}

func bracket(ident string) string { return "[" + ident + "]" }
