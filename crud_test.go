package storm

import (
	"context"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/storm/dialect"
	"github.com/syssam/storm/entity"
)

const insertItem = "INSERT INTO ENTITY (NAME, AGE, ID) VALUES (?, ?, ?)"

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("WithID", func(t *testing.T) {
		c, db, logs := newTestClient(t, WithDialect(dialect.SQLite))
		it := &Item{ID: 5, Name: "x", Age: intp(3)}
		require.NoError(t, c.Create(ctx, it))
		assert.Equal(t, []string{
			"open",
			"prepare " + insertItem,
			"keys",
			"exec [x 3 5]",
			"close statement",
			"close",
		}, db.Events())
		assert.True(t, it.Populated())
		assert.Contains(t, logs.String(), insertItem+" -- [x 3 5]")
	})

	t.Run("KeysByIndex", func(t *testing.T) {
		c, db, _ := newTestClient(t)
		db.keys = result{cols: []string{"GENERATED_KEY"}, rows: [][]any{{int64(42)}}}
		it := &Item{Name: "x"}
		require.NoError(t, c.Create(ctx, it))
		assert.Equal(t, int64(42), it.ID)
		assert.Equal(t, []string{
			"open",
			"metadata",
			"prepare " + insertItem,
			"keys",
			"exec [x <nil> <nil>]",
			"close statement",
			"close",
		}, db.Events())
	})

	t.Run("KeysByName", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.SQLServerNew))
		db.keys = result{cols: []string{"ID"}, rows: [][]any{{int64(77)}}}
		it := &Item{Name: "y"}
		require.NoError(t, c.Create(ctx, it))
		assert.Equal(t, int64(77), it.ID)
		assert.True(t, it.Populated())
	})

	t.Run("KeysNone", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.OracleNew))
		db.keys = result{cols: []string{"ID"}, rows: [][]any{{int64(77)}}}
		it := &Item{Name: "z"}
		require.NoError(t, c.Create(ctx, it))
		assert.Zero(t, it.ID)
		assert.NotContains(t, db.Events(), "keys")
	})

	t.Run("NothingInserted", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.SQLite))
		db.affected = 0
		db.keys = result{cols: []string{"GENERATED_KEY"}, rows: [][]any{{int64(42)}}}
		it := &Item{Name: "x"}
		require.NoError(t, c.Create(ctx, it))
		assert.Zero(t, it.ID)
	})

	t.Run("CompositeKey", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.SQLite))
		require.NoError(t, c.Create(ctx, &Membership{TeamID: 1, PlayerID: 2}))
		assert.Equal(t, []string{
			"INSERT INTO MEMBERSHIP (TEAM_ID, PLAYER_ID) VALUES (?, ?)",
		}, db.statements())
		assert.Contains(t, db.Events(), "exec [1 2]")
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		c, db, _ := newTestClient(t)
		type unknown struct{ ID int }
		err := c.Create(ctx, &unknown{})
		require.ErrorIs(t, err, ErrUnknownEntity)
		assert.Empty(t, db.Events())
	})

	t.Run("Constraint", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.MySQLNew))
		db.execErr[insertItem] = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '5' for key 'PRIMARY'"}
		err := c.Create(ctx, &Item{ID: 5, Name: "x"})
		require.Error(t, err)
		assert.True(t, IsUniqueConstraintError(err))
		assert.True(t, IsConstraintError(err))
		assert.Contains(t, err.Error(), "storm: create Item:")
	})
}

func TestCreate_Sequence(t *testing.T) {
	ctx := context.Background()

	t.Run("Fetched", func(t *testing.T) {
		c, db, logs := newTestClient(t, WithDialect(dialect.PostgreSQL))
		db.on("SELECT nextval('PLAYER_SEQ')", []string{"nextval"}, []any{int64(11)})
		p := &Player{Name: "p", Team: &Team{ID: 10}}
		require.NoError(t, c.Create(ctx, p))
		assert.Equal(t, int64(11), p.ID)
		assert.Equal(t, []string{
			"SELECT nextval('PLAYER_SEQ')",
			"INSERT INTO PLAYER (NAME, TEAM_ID, COACH_ID, ID) VALUES (?, ?, ?, ?)",
		}, db.statements())
		assert.Contains(t, db.Events(), "exec [p 10 <nil> 11]")
		assert.Contains(t, logs.String(), "Sequence PLAYER_SEQ incremented to 11")

		var opened int
		for _, e := range db.Events() {
			if e == "open" {
				opened++
			}
		}
		assert.Equal(t, 1, opened)
	})

	t.Run("KeptWhenSet", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.PostgreSQL))
		p := &Player{ID: 3, Name: "p"}
		require.NoError(t, c.Create(ctx, p))
		assert.Equal(t, []string{
			"INSERT INTO PLAYER (NAME, TEAM_ID, COACH_ID, ID) VALUES (?, ?, ?, ?)",
		}, db.statements())
	})

	t.Run("NoSequences", func(t *testing.T) {
		c, db, _ := newTestClient(t, WithDialect(dialect.SQLite))
		db.keys = result{cols: []string{"GENERATED_KEY"}, rows: [][]any{{int64(12)}}}
		p := &Player{Name: "p"}
		require.NoError(t, c.Create(ctx, p))
		assert.Equal(t, int64(12), p.ID)
		assert.Len(t, db.statements(), 1)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c, db, _ := newTestClient(t)

	require.NoError(t, c.Update(ctx, &Item{ID: 5, Name: "n"}))
	assert.Equal(t, []string{"UPDATE ENTITY SET NAME = ?, AGE = ? WHERE ID = ?"}, db.statements())
	assert.Contains(t, db.Events(), "exec [n <nil> 5]")

	t.Run("NullID", func(t *testing.T) {
		c, db, _ := newTestClient(t)
		err := c.Update(ctx, &Item{Name: "n"})
		require.ErrorIs(t, err, ErrNullID)
		assert.Contains(t, err.Error(), "value of primary key ID is null in Item")
		assert.Empty(t, db.Events())
	})

	t.Run("NoRestColumns", func(t *testing.T) {
		reg := entity.NewRegistry()
		type tag struct{ ID string }
		reg.Register(entity.Define[tag]("TAG",
			[]entity.Column{entity.Field("ID", func(t *tag) string { return t.ID }, func(t *tag, v string) { t.ID = v })},
			nil,
		))
		c, db, _ := newTestClient(t, WithRegistry(reg))
		require.NoError(t, c.Update(ctx, &tag{ID: "a"}))
		assert.Empty(t, db.Events())
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c, db, _ := newTestClient(t)

	require.NoError(t, c.Delete(ctx, &Item{ID: 5}))
	assert.Equal(t, []string{"DELETE FROM ENTITY WHERE ID = ?"}, db.statements())
	assert.Contains(t, db.Events(), "exec [5]")

	require.NoError(t, c.Delete(ctx, &Membership{TeamID: 1, PlayerID: 2}))
	assert.Contains(t, db.statements(), "DELETE FROM MEMBERSHIP WHERE TEAM_ID = ? AND PLAYER_ID = ?")

	err := c.Delete(ctx, &Membership{TeamID: 1})
	require.ErrorIs(t, err, ErrNullID)
	assert.Contains(t, err.Error(), "PlayerID")
}

func TestPopulate(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		c, db, _ := newTestClient(t)
		db.on("SELECT * FROM ENTITY WHERE ID = ?", itemCols, []any{int64(8), "h", int64(40)})
		it := &Item{ID: 8}
		require.NoError(t, c.Populate(ctx, it))
		assert.Equal(t, "h", it.Name)
		assert.Equal(t, intp(40), it.Age)
		assert.True(t, it.Populated())
	})

	t.Run("NotFound", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		err := c.Populate(ctx, &Item{ID: 8})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Item", nf.Label())
		assert.Equal(t, int64(8), nf.ID())
		assert.Equal(t, "storm: populate Item: storm: Item not found (id=8)", err.Error())
	})

	t.Run("NullID", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		require.ErrorIs(t, c.Populate(ctx, &Item{}), ErrNullID)
	})
}

type badge struct {
	ID   int64
	Team *Team
}

var badges = entity.Define[badge]("BADGE",
	[]entity.Column{entity.Field("ID", func(b *badge) int64 { return b.ID }, func(b *badge, v int64) { b.ID = v })},
	[]entity.Column{entity.Ref("Team", func(b *badge) *Team { return b.Team }, func(b *badge, v *Team) { b.Team = v }).DB("TEAM_ID")},
)

func TestDetails(t *testing.T) {
	ctx := context.Background()
	team := &Team{ID: 10, Name: "red"}

	t.Run("SingleCandidate", func(t *testing.T) {
		c, db, _ := newTestClient(t)
		c.Registry().Register(badges)
		db.on("SELECT * FROM BADGE WHERE TEAM_ID = ?", []string{"ID", "TEAM_ID"},
			[]any{int64(1), int64(10)},
			[]any{int64(2), int64(10)},
		)
		list, err := Details[*badge](ctx, c, team)
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, b := range list {
			assert.Same(t, team, b.Team)
		}
		assert.Contains(t, db.Events(), "query [10]")
	})

	t.Run("NamedField", func(t *testing.T) {
		c, db, _ := newTestClient(t)
		db.on("SELECT * FROM PLAYER WHERE COACH_ID = ?", []string{"ID", "NAME", "TEAM_ID", "COACH_ID"},
			[]any{int64(1), "p", int64(3), int64(10)},
		)
		list, err := Details[*Player](ctx, c, team, "coach")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Same(t, team, list[0].Coach)
		assert.Equal(t, int64(3), list[0].Team.ID)
	})

	t.Run("Ambiguous", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := Details[*Player](ctx, c, team)
		require.ErrorIs(t, err, ErrForeignKey)
		assert.Contains(t, err.Error(), "2 fields of type Team found in Player")
	})

	t.Run("NoCandidate", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := Details[*Item](ctx, c, team)
		require.ErrorIs(t, err, ErrForeignKey)
		assert.Contains(t, err.Error(), "no field of type Team found in Item")
	})

	t.Run("WrongType", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := Details[*Player](ctx, c, team, "Name")
		require.ErrorIs(t, err, ErrForeignKey)
		assert.Contains(t, err.Error(), "field Name is not of type Team in Player")
	})

	t.Run("MissingField", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := Details[*Player](ctx, c, team, "Owner")
		require.ErrorIs(t, err, ErrForeignKey)
		assert.Contains(t, err.Error(), "field Owner not found in Player")
	})

	t.Run("CompositeParent", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := Details[*Player](ctx, c, &Membership{TeamID: 1, PlayerID: 2})
		require.ErrorIs(t, err, ErrCompositeKey)
	})

	t.Run("NullParent", func(t *testing.T) {
		c, _, _ := newTestClient(t)
		_, err := Details[*Player](ctx, c, &Team{})
		require.ErrorIs(t, err, ErrNullID)
	})
}
