// Package sqlexec implements the SQL endpoint executor: OData-flavoured
// paginated reads and stored-procedure dispatch for writes.
package sqlexec

import (
	"context"
	"database/sql"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/odata"
	"github.com/r3e-network/odata-gateway/domain/sqlstore"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
)

// Executor runs reads and stored-procedure writes against a per-environment
// connection pool.
type Executor struct {
	pools   *sqlstore.Manager
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New builds an Executor over a shared pool manager.
func New(pools *sqlstore.Manager, logger *logging.Logger, m *metrics.Metrics) *Executor {
	return &Executor{pools: pools, logger: logger, metrics: m}
}

// GetRequest carries everything needed to answer one paginated read.
type GetRequest struct {
	ConnectionString string
	Endpoint         *endpoint.SQLEndpoint
	Select           string
	Filter           string
	OrderBy          string
	Top              string
	Skip             string
	// RequestURL, with query, is used to build NextLink by overriding $skip.
	RequestURL *url.URL
}

// GetResult is the `{ Count, Value, NextLink }` response shape returned to
// callers of a SQL-backed endpoint.
type GetResult struct {
	Count    int
	Value    []map[string]any
	NextLink *string
}

// Get executes one paginated read. It requests top+1 rows to detect whether
// a further page exists without a separate COUNT query.
func (e *Executor) Get(ctx context.Context, req GetRequest) (GetResult, error) {
	def := req.Endpoint
	if !def.AllowedMethods.Has("GET") {
		return GetResult{}, errors.MethodNotAllowed("GET", def.AllowedMethods.Values())
	}

	selectCols, err := resolveSelect(def, req.Select)
	if err != nil {
		return GetResult{}, err
	}

	params := odata.Params{Select: selectCols, Filter: req.Filter, OrderBy: req.OrderBy, Top: req.Top, Skip: req.Skip}
	query, err := odata.Translate(def.Schema, def.ObjectName, params)
	if err != nil {
		return GetResult{}, err
	}

	db, err := e.pools.Get(ctx, req.ConnectionString)
	if err != nil {
		return GetResult{}, errors.DatabaseError("acquire pool", err)
	}

	start := time.Now()
	rows, err := db.QueryxContext(ctx, query.SQL, namedArgs(query.Bindings)...)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordDatabaseQuery("gateway", "sql_get", status, time.Since(start))
	}
	if err != nil {
		return GetResult{}, errors.DatabaseError("query "+def.ObjectName, err)
	}
	defer rows.Close()

	values := make([]map[string]any, 0, query.Top)
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return GetResult{}, errors.DatabaseError("scan "+def.ObjectName, err)
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return GetResult{}, errors.DatabaseError("iterate "+def.ObjectName, err)
	}

	result := GetResult{Value: values}
	if len(values) > query.Top {
		result.Value = values[:query.Top]
		result.NextLink = nextLink(req.RequestURL, query.Skip+query.Top)
	}
	result.Count = len(result.Value)
	return result, nil
}

// resolveSelect rejects any requested $select column outside allowedColumns
// before touching the database; when $select is absent and allowedColumns
// is non-empty, it projects exactly that set.
func resolveSelect(def *endpoint.SQLEndpoint, rawSelect string) (string, error) {
	if strings.TrimSpace(rawSelect) != "" {
		cols := odata.SplitSelect(rawSelect)
		if def.AllowedColumns.Len() > 0 {
			for _, c := range cols {
				if !def.AllowedColumns.Has(c) {
					return "", errors.DisallowedColumn(c)
				}
			}
		}
		return rawSelect, nil
	}
	if def.AllowedColumns.Len() > 0 {
		return strings.Join(def.AllowedColumns.Values(), ","), nil
	}
	return "", nil
}

func nextLink(reqURL *url.URL, newSkip int) *string {
	if reqURL == nil {
		return nil
	}
	u := *reqURL
	q := u.Query()
	q.Set("$skip", strconv.Itoa(newSkip))
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}

func namedArgs(bindings map[string]any) []any {
	args := make([]any, 0, len(bindings))
	for name, value := range bindings {
		args = append(args, sql.Named(name, value))
	}
	return args
}
