// Package sqlstore manages one pooled database/sql handle per resolved
// connection string, created lazily on first use and kept for the process
// lifetime.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver

	"github.com/r3e-network/odata-gateway/domain/environment"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
)

// Config bounds a single connection string's pool.
type Config struct {
	// WarmConnections is the number of idle connections opened eagerly at
	// creation time, so the first requests don't pay connection-setup cost.
	WarmConnections int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// StatusLogInterval drives the periodic active/idle log line. Zero
	// disables periodic logging.
	StatusLogInterval time.Duration
}

// DefaultConfig carries conservative defaults for a gateway fronting many
// tenants on one process.
func DefaultConfig() Config {
	return Config{
		WarmConnections:   2,
		MaxOpenConns:      20,
		MaxIdleConns:      5,
		ConnMaxLifetime:   30 * time.Minute,
		StatusLogInterval: time.Minute,
	}
}

// Manager creates and caches one *sqlx.DB per connection string.
type Manager struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	pools map[string]*sqlx.DB

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager builds a Manager. metrics may be nil.
func NewManager(cfg Config, logger *logging.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		pools:   make(map[string]*sqlx.DB),
		stop:    make(chan struct{}),
	}
	if cfg.StatusLogInterval > 0 {
		go mgr.logStatusLoop()
	}
	return mgr
}

// Get returns the pooled handle for connStr, opening and warming it on
// first use. Subsequent calls with the same connStr reuse the handle.
func (m *Manager) Get(ctx context.Context, connStr string) (*sqlx.DB, error) {
	m.mu.Lock()
	if db, ok := m.pools[connStr]; ok {
		m.mu.Unlock()
		return db, nil
	}
	m.mu.Unlock()

	db, err := sqlx.Open("sqlserver", connStr)
	if err != nil {
		return nil, err
	}
	if m.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	}
	if m.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	}
	if m.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	}

	m.mu.Lock()
	if existing, ok := m.pools[connStr]; ok {
		m.mu.Unlock()
		db.Close()
		return existing, nil
	}
	m.pools[connStr] = db
	m.mu.Unlock()

	m.warm(ctx, db)
	return db, nil
}

func (m *Manager) warm(ctx context.Context, db *sqlx.DB) {
	n := m.cfg.WarmConnections
	if n <= 0 {
		return
	}
	conns := make([]*sql.Conn, 0, n)
	for i := 0; i < n; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			if m.logger != nil {
				m.logger.WithError(err).Warn("pool warm-up connection failed")
			}
			break
		}
		conns = append(conns, conn)
	}
	for _, c := range conns {
		c.Close()
	}
}

// Status is a snapshot of one pool's connection counts, surfaced by
// /health/details.
type Status struct {
	ConnectionString string
	Open             int
	Idle             int
	InUse            int
}

// Statuses returns a point-in-time snapshot of every pool this Manager has
// created.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.pools))
	for connStr, db := range m.pools {
		stats := db.Stats()
		out = append(out, Status{
			ConnectionString: environment.SanitizeConnectionString(connStr),
			Open:             stats.OpenConnections,
			Idle:             stats.Idle,
			InUse:            stats.InUse,
		})
	}
	return out
}

func (m *Manager) logStatusLoop() {
	ticker := time.NewTicker(m.cfg.StatusLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, st := range m.Statuses() {
				if m.logger != nil {
					m.logger.WithField("open", st.Open).WithField("idle", st.Idle).WithField("in_use", st.InUse).Debug("sql pool status")
				}
				if m.metrics != nil {
					m.metrics.SetDatabaseConnections("gateway", st.ConnectionString, st.Open)
				}
			}
		case <-m.stop:
			return
		}
	}
}

// Ping verifies every pool this Manager has already opened is reachable.
// A gateway with no pools opened yet (no SQL/webhook traffic served) is
// vacuously healthy. Used by the /health aggregate check.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	pools := make(map[string]*sqlx.DB, len(m.pools))
	for connStr, db := range m.pools {
		pools[connStr] = db
	}
	m.mu.Unlock()

	for connStr, db := range pools {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("pool %s: %w", environment.SanitizeConnectionString(connStr), err)
		}
	}
	return nil
}

// Put registers an already-open handle under connStr without going through
// Get's sqlx.Open/warm-up path. It exists so tests (in this package and
// callers like domain/sqlexec) can substitute a sqlmock-backed *sqlx.DB;
// production code should always go through Get.
func (m *Manager) Put(connStr string, db *sqlx.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[connStr] = db
}

// Close stops the status-logging loop and closes every open pool.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, db := range m.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
