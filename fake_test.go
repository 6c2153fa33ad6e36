package storm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/syssam/storm/dialect"
	"github.com/syssam/storm/entity"
)

type Item struct {
	entity.Lazy
	ID   int64
	Name string
	Age  *int
}

type Team struct {
	entity.Lazy
	ID   int64
	Name string
}

type Player struct {
	entity.Lazy
	ID    int64
	Name  string
	Team  *Team
	Coach *Team
}

type Membership struct {
	TeamID   int64
	PlayerID int64
}

var (
	items = entity.Define[Item]("ENTITY",
		[]entity.Column{entity.Field("ID", func(i *Item) int64 { return i.ID }, func(i *Item, v int64) { i.ID = v })},
		[]entity.Column{
			entity.Field("Name", func(i *Item) string { return i.Name }, func(i *Item, v string) { i.Name = v }).DB("NAME"),
			entity.Nullable("Age", func(i *Item) *int { return i.Age }, func(i *Item, v *int) { i.Age = v }).DB("AGE"),
		},
	)
	teams = entity.Define[Team]("TEAM",
		[]entity.Column{entity.Field("ID", func(t *Team) int64 { return t.ID }, func(t *Team, v int64) { t.ID = v })},
		[]entity.Column{entity.Field("Name", func(t *Team) string { return t.Name }, func(t *Team, v string) { t.Name = v }).DB("NAME")},
	)
	players = entity.Define[Player]("PLAYER",
		[]entity.Column{
			entity.Field("ID", func(p *Player) int64 { return p.ID }, func(p *Player, v int64) { p.ID = v }).Seq("PLAYER_SEQ"),
		},
		[]entity.Column{
			entity.Field("Name", func(p *Player) string { return p.Name }, func(p *Player, v string) { p.Name = v }).DB("NAME"),
			entity.Ref("Team", func(p *Player) *Team { return p.Team }, func(p *Player, v *Team) { p.Team = v }).DB("TEAM_ID"),
			entity.Ref("Coach", func(p *Player) *Team { return p.Coach }, func(p *Player, v *Team) { p.Coach = v }).DB("COACH_ID"),
		},
	)
	memberships = entity.Define[Membership]("MEMBERSHIP",
		[]entity.Column{
			entity.Field("TeamID", func(m *Membership) int64 { return m.TeamID }, func(m *Membership, v int64) { m.TeamID = v }).DB("TEAM_ID"),
			entity.Field("PlayerID", func(m *Membership) int64 { return m.PlayerID }, func(m *Membership, v int64) { m.PlayerID = v }).DB("PLAYER_ID"),
		},
		nil,
	)
)

func intp(v int) *int { return &v }

// result is the canned response of the fake database to one query.
type result struct {
	cols []string
	rows [][]any
	err  error
}

// fakeDB is a dialect.Connectivity recording every call it receives.
type fakeDB struct {
	mu       sync.Mutex
	events   []string
	open     int
	md       dialect.Metadata
	results  map[string]result
	execErr  map[string]error
	affected int64
	keys     result
	outs     map[int]any
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		md:       dialect.Metadata{ProductName: "SQLite", ProductVersion: "3.45.1", Major: 3, Minor: 45},
		results:  make(map[string]result),
		execErr:  make(map[string]error),
		affected: 1,
		outs:     make(map[int]any),
	}
}

// on sets the rows returned by query.
func (f *fakeDB) on(query string, cols []string, rows ...[]any) *fakeDB {
	f.results[query] = result{cols: cols, rows: rows}
	return f
}

func (f *fakeDB) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf(format, args...))
}

// Events returns the recorded calls.
func (f *fakeDB) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// statements returns the prepared statements, in order.
func (f *fakeDB) statements() []string {
	var out []string
	for _, e := range f.Events() {
		if q, ok := strings.CutPrefix(e, "prepare "); ok {
			out = append(out, q)
		}
	}
	return out
}

func (f *fakeDB) Conn(context.Context) (dialect.Conn, error) {
	f.mu.Lock()
	f.open++
	f.mu.Unlock()
	f.record("open")
	return &fakeConn{db: f}, nil
}

type fakeConn struct {
	db     *fakeDB
	closed bool
}

func (c *fakeConn) Metadata(context.Context) (dialect.Metadata, error) {
	c.db.record("metadata")
	return c.db.md, nil
}

func (c *fakeConn) Prepare(_ context.Context, query string, keys bool) (dialect.Stmt, error) {
	if keys {
		c.db.record("prepare %s", query)
		c.db.record("keys")
	} else {
		c.db.record("prepare %s", query)
	}
	return &fakeStmt{db: c.db, query: query}, nil
}

func (c *fakeConn) PrepareCall(_ context.Context, query string) (dialect.CallStmt, error) {
	c.db.record("prepare call %s", query)
	return &fakeCall{db: c.db, outs: make(map[int]reflect.Type)}, nil
}

func (c *fakeConn) SetAutoCommit(_ context.Context, on bool) error {
	c.db.record("autocommit %t", on)
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.db.record("commit")
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.db.record("rollback")
	return nil
}

func (c *fakeConn) Savepoint(_ context.Context, name string) error {
	c.db.record("savepoint %s", name)
	return nil
}

func (c *fakeConn) ReleaseSavepoint(_ context.Context, name string) error {
	c.db.record("release %s", name)
	return nil
}

func (c *fakeConn) RollbackTo(_ context.Context, name string) error {
	c.db.record("rollback to %s", name)
	return nil
}

func (c *fakeConn) Close() error {
	if c.closed {
		return errors.New("connection closed twice")
	}
	c.closed = true
	c.db.mu.Lock()
	c.db.open--
	c.db.mu.Unlock()
	c.db.record("close")
	return nil
}

type fakeStmt struct {
	db    *fakeDB
	query string
}

func (s *fakeStmt) Exec(_ context.Context, args ...any) (int64, error) {
	s.db.record("exec %v", args)
	if err := s.db.execErr[s.query]; err != nil {
		return 0, err
	}
	return s.db.affected, nil
}

func (s *fakeStmt) Query(_ context.Context, args ...any) (dialect.Rows, error) {
	s.db.record("query %v", args)
	r := s.db.results[s.query]
	if r.err != nil {
		return nil, r.err
	}
	return &fakeRows{result: r}, nil
}

func (s *fakeStmt) GeneratedKeys(context.Context) (dialect.Rows, error) {
	return &fakeRows{result: s.db.keys}, nil
}

func (s *fakeStmt) Close() error {
	s.db.record("close statement")
	return nil
}

type fakeCall struct {
	db   *fakeDB
	outs map[int]reflect.Type
}

func (c *fakeCall) RegisterOut(i int, t reflect.Type) {
	c.db.record("out %d %v", i, t)
	c.outs[i] = t
}

func (c *fakeCall) Exec(_ context.Context, args ...any) error {
	c.db.record("call %v", args)
	return nil
}

func (c *fakeCall) Out(i int) (any, error) {
	if _, ok := c.outs[i]; !ok {
		return nil, fmt.Errorf("parameter %d is not an output", i)
	}
	return c.db.outs[i], nil
}

func (c *fakeCall) Close() error {
	c.db.record("close statement")
	return nil
}

type fakeRows struct {
	result
	pos int
}

func (r *fakeRows) Columns() ([]string, error) { return r.cols, nil }
func (r *fakeRows) Err() error                 { return nil }
func (r *fakeRows) Close() error               { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }

// newTestClient returns a client over a fake database, and the buffer
// receiving its logs.
func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeDB, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := entity.NewRegistry(entity.WithLogger(logger))
	reg.Register(items, teams, players, memberships)
	db := newFakeDB()
	opts = append([]Option{WithLogger(logger), WithRegistry(reg)}, opts...)
	c := NewClient(db, opts...)
	t.Cleanup(func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		if db.open != 0 {
			t.Errorf("%d connections left open", db.open)
		}
	})
	return c, db, &buf
}
