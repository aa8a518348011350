package webhook

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/sqlstore"
	"github.com/r3e-network/odata-gateway/infrastructure/clock"
)

const connStr = "test-conn"

func newExecutorWithMock(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr := sqlstore.NewManager(sqlstore.Config{}, nil, nil)
	t.Cleanup(func() { mgr.Close() })
	mgr.Put(connStr, sqlx.NewDb(db, "sqlmock"))

	fixed := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(mgr, fixed, nil, nil), mock
}

func ordersWebhook() *endpoint.WebhookEndpoint {
	return &endpoint.WebhookEndpoint{
		Name:              "Orders",
		Schema:            "dbo",
		Table:             "WebhookEvents",
		AllowedWebhookIDs: endpoint.NewStringSet("order-created", "order-cancelled"),
	}
}

func TestPersist_InsertsRow(t *testing.T) {
	exec, mock := newExecutorWithMock(t)
	mock.ExpectExec(`INSERT INTO \[dbo\]\.\[WebhookEvents\]`).WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := exec.Persist(context.Background(), Request{
		ConnectionString: connStr,
		Endpoint:         ordersWebhook(),
		Env:              "prod",
		ID:               "order-created",
		Body:             []byte(`{"orderId":"1"}`),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_UnknownIDRejectedWithoutQuery(t *testing.T) {
	exec, mock := newExecutorWithMock(t)
	_, err := exec.Persist(context.Background(), Request{
		ConnectionString: connStr,
		Endpoint:         ordersWebhook(),
		Env:              "prod",
		ID:               "unknown-event",
		Body:             []byte(`{}`),
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_MalformedJSONRejected(t *testing.T) {
	exec, mock := newExecutorWithMock(t)
	_, err := exec.Persist(context.Background(), Request{
		ConnectionString: connStr,
		Endpoint:         ordersWebhook(),
		Env:              "prod",
		ID:               "order-created",
		Body:             []byte(`not json`),
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_NoAllowListAcceptsAnyID(t *testing.T) {
	exec, mock := newExecutorWithMock(t)
	mock.ExpectExec(`INSERT INTO \[dbo\]\.\[WebhookEvents\]`).WillReturnResult(sqlmock.NewResult(1, 1))

	def := ordersWebhook()
	def.AllowedWebhookIDs = endpoint.NewStringSet()

	result, err := exec.Persist(context.Background(), Request{
		ConnectionString: connStr,
		Endpoint:         def,
		Env:              "prod",
		ID:               "anything",
		Body:             []byte(`{}`),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_DatabaseErrorPropagates(t *testing.T) {
	exec, mock := newExecutorWithMock(t)
	mock.ExpectExec(`INSERT INTO \[dbo\]\.\[WebhookEvents\]`).WillReturnError(assert.AnError)

	_, err := exec.Persist(context.Background(), Request{
		ConnectionString: connStr,
		Endpoint:         ordersWebhook(),
		Env:              "prod",
		ID:               "order-created",
		Body:             []byte(`{"orderId":"1"}`),
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
