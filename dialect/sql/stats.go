package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/storm/dialect"
)

// QueryStats holds statement execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements and calls executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of statement errors.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of statement statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver wraps a Driver with statement statistics collection. It is
// also a prometheus.Collector exporting the statistics as counters.
type StatsDriver struct {
	*Driver
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex

	queries  *prometheus.Desc
	duration *prometheus.Desc
	slow     *prometheus.Desc
	errors   *prometheus.Desc
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to the given logger, or the default
// logger when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		l.WarnContext(ctx, "slow query detected", "duration", duration, "query", query, "args", args)
	})
}

// NewStatsDriver wraps a Driver with statistics collection.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	statsDriver := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(nil),
//	)
//	prometheus.MustRegister(statsDriver)
//	client := storm.NewClient(statsDriver)
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	labels := prometheus.Labels{"driver": drv.Dialect()}
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
		queries: prometheus.NewDesc("storm_statements_total",
			"Number of executed statements.", []string{"kind"}, labels),
		duration: prometheus.NewDesc("storm_statement_duration_seconds_total",
			"Total time spent executing statements.", nil, labels),
		slow: prometheus.NewDesc("storm_slow_statements_total",
			"Number of statements exceeding the slow threshold.", nil, labels),
		errors: prometheus.NewDesc("storm_statement_errors_total",
			"Number of failed statements.", nil, labels),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Conn returns a connection whose statements record statistics.
func (d *StatsDriver) Conn(ctx context.Context) (dialect.Conn, error) {
	c, err := d.Driver.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &statsConn{Conn: c, driver: d}, nil
}

// Describe implements prometheus.Collector.
func (d *StatsDriver) Describe(ch chan<- *prometheus.Desc) {
	ch <- d.queries
	ch <- d.duration
	ch <- d.slow
	ch <- d.errors
}

// Collect implements prometheus.Collector.
func (d *StatsDriver) Collect(ch chan<- prometheus.Metric) {
	s := d.stats.Stats()
	ch <- prometheus.MustNewConstMetric(d.queries, prometheus.CounterValue, float64(s.TotalQueries), "query")
	ch <- prometheus.MustNewConstMetric(d.queries, prometheus.CounterValue, float64(s.TotalExecs), "exec")
	ch <- prometheus.MustNewConstMetric(d.duration, prometheus.CounterValue, s.TotalDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(d.slow, prometheus.CounterValue, float64(s.SlowQueries))
	ch <- prometheus.MustNewConstMetric(d.errors, prometheus.CounterValue, float64(s.Errors))
}

func (d *StatsDriver) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		d.stats.Errors.Add(1)
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

type statsConn struct {
	dialect.Conn
	driver *StatsDriver
}

func (c *statsConn) Prepare(ctx context.Context, query string, keys bool) (dialect.Stmt, error) {
	st, err := c.Conn.Prepare(ctx, query, keys)
	if err != nil {
		c.driver.stats.Errors.Add(1)
		return nil, err
	}
	return &statsStmt{Stmt: st, query: query, driver: c.driver}, nil
}

func (c *statsConn) PrepareCall(ctx context.Context, query string) (dialect.CallStmt, error) {
	st, err := c.Conn.PrepareCall(ctx, query)
	if err != nil {
		c.driver.stats.Errors.Add(1)
		return nil, err
	}
	return &statsCall{CallStmt: st, query: query, driver: c.driver}, nil
}

type statsStmt struct {
	dialect.Stmt
	query  string
	driver *StatsDriver
}

func (s *statsStmt) Exec(ctx context.Context, args ...any) (int64, error) {
	start := time.Now()
	n, err := s.Stmt.Exec(ctx, args...)
	s.driver.record(ctx, s.query, args, start, err, false)
	return n, err
}

func (s *statsStmt) Query(ctx context.Context, args ...any) (dialect.Rows, error) {
	start := time.Now()
	rows, err := s.Stmt.Query(ctx, args...)
	s.driver.record(ctx, s.query, args, start, err, true)
	return rows, err
}

type statsCall struct {
	dialect.CallStmt
	query  string
	driver *StatsDriver
}

func (s *statsCall) Exec(ctx context.Context, args ...any) error {
	start := time.Now()
	err := s.CallStmt.Exec(ctx, args...)
	s.driver.record(ctx, s.query, args, start, err, false)
	return err
}

// DebugDriver wraps a Driver with logging of connection and transaction
// events.
type DebugDriver struct {
	*Driver
	log func(context.Context, ...any)
}

// DebugOption configures the DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLog sets a custom log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugDriver) {
		d.log = logFunc
	}
}

// NewDebugDriver wraps a Driver with debug logging.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	debugDriver := sql.NewDebugDriver(drv, sql.DebugWithLog(func(ctx context.Context, v ...any) {
//	    log.Println(v...)
//	}))
//	client := storm.NewClient(debugDriver)
func NewDebugDriver(drv *Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{
		Driver: drv,
		log: func(ctx context.Context, v ...any) {
			slog.DebugContext(ctx, fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Conn opens a connection and logs its events.
func (d *DebugDriver) Conn(ctx context.Context) (dialect.Conn, error) {
	c, err := d.Driver.Conn(ctx)
	if err != nil {
		return nil, err
	}
	d.log(ctx, "open connection")
	return &debugConn{Conn: c, log: d.log}, nil
}

type debugConn struct {
	dialect.Conn
	log func(context.Context, ...any)
}

func (c *debugConn) SetAutoCommit(ctx context.Context, on bool) error {
	c.log(ctx, fmt.Sprintf("auto-commit %t", on))
	return c.Conn.SetAutoCommit(ctx, on)
}

func (c *debugConn) Commit(ctx context.Context) error {
	c.log(ctx, "commit transaction")
	return c.Conn.Commit(ctx)
}

func (c *debugConn) Rollback(ctx context.Context) error {
	c.log(ctx, "rollback transaction")
	return c.Conn.Rollback(ctx)
}

func (c *debugConn) Savepoint(ctx context.Context, name string) error {
	c.log(ctx, "savepoint ", name)
	return c.Conn.Savepoint(ctx, name)
}

func (c *debugConn) ReleaseSavepoint(ctx context.Context, name string) error {
	c.log(ctx, "release savepoint ", name)
	return c.Conn.ReleaseSavepoint(ctx, name)
}

func (c *debugConn) RollbackTo(ctx context.Context, name string) error {
	c.log(ctx, "rollback to savepoint ", name)
	return c.Conn.RollbackTo(ctx, name)
}

func (c *debugConn) Close() error {
	c.log(context.Background(), "close connection")
	return c.Conn.Close()
}

// Ensure interfaces are implemented.
var (
	_ dialect.Connectivity = (*StatsDriver)(nil)
	_ dialect.Connectivity = (*DebugDriver)(nil)
	_ prometheus.Collector = (*StatsDriver)(nil)
	_ dialect.CallStmt     = (*statsCall)(nil)
)
