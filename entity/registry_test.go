package entity_test

import (
	"bytes"
	"log/slog"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/storm/convert"
	"github.com/syssam/storm/entity"
)

type Team struct {
	entity.Lazy
	ID   int64
	Name string
}

type Player struct {
	entity.Lazy
	ID    int64
	Name  string
	Age   *int
	Team  *Team
	Coach *Team
}

type Membership struct {
	TeamID   int64
	PlayerID int64
	Role     string
}

var (
	teams = entity.Define[Team]("TEAM",
		[]entity.Column{entity.Field("ID", func(t *Team) int64 { return t.ID }, func(t *Team, v int64) { t.ID = v })},
		[]entity.Column{entity.Field("Name", func(t *Team) string { return t.Name }, func(t *Team, v string) { t.Name = v })},
	)
	players = entity.Define[Player]("PLAYER",
		[]entity.Column{
			entity.Field("ID", func(p *Player) int64 { return p.ID }, func(p *Player, v int64) { p.ID = v }).Seq("PLAYER_SEQ"),
		},
		[]entity.Column{
			entity.Field("Name", func(p *Player) string { return p.Name }, func(p *Player, v string) { p.Name = v }).DB("NAME"),
			entity.Nullable("Age", func(p *Player) *int { return p.Age }, func(p *Player, v *int) { p.Age = v }).DB("AGE"),
			entity.Ref("Team", func(p *Player) *Team { return p.Team }, func(p *Player, v *Team) { p.Team = v }).DB("TEAM_ID"),
			entity.Ref("Coach", func(p *Player) *Team { return p.Coach }, func(p *Player, v *Team) { p.Coach = v }).DB("COACH_ID"),
		},
	)
	memberships = entity.Define[Membership]("",
		[]entity.Column{
			entity.Field("TeamID", func(m *Membership) int64 { return m.TeamID }, func(m *Membership, v int64) { m.TeamID = v }).DB("TEAM_ID"),
			entity.Field("PlayerID", func(m *Membership) int64 { return m.PlayerID }, func(m *Membership, v int64) { m.PlayerID = v }).DB("PLAYER_ID"),
		},
		[]entity.Column{entity.Field("Role", func(m *Membership) string { return m.Role }, func(m *Membership, v string) { m.Role = v })},
	)
)

func newRegistry(t *testing.T, opts ...entity.Option) (*entity.Registry, *convert.Graph) {
	t.Helper()
	reg := entity.NewRegistry(opts...)
	reg.Register(teams, players, memberships)
	return reg, convert.New(reg)
}

func TestDefine_Templates(t *testing.T) {
	assert.Equal(t, "SELECT * FROM PLAYER WHERE ID = ?", players.PopulateQuery)
	assert.Equal(t, "INSERT INTO PLAYER (NAME, AGE, TEAM_ID, COACH_ID, ID) VALUES (?, ?, ?, ?, ?)", players.InsertQuery)
	assert.Equal(t, "UPDATE PLAYER SET NAME = ?, AGE = ?, TEAM_ID = ?, COACH_ID = ? WHERE ID = ?", players.UpdateQuery)
	assert.Equal(t, "DELETE FROM PLAYER WHERE ID = ?", players.DeleteQuery)

	assert.Equal(t, "membership", memberships.Table)
	assert.Equal(t, "SELECT * FROM membership WHERE TEAM_ID = ? AND PLAYER_ID = ?", memberships.PopulateQuery)
	assert.Equal(t, "PLAYER_SEQ", players.IDs[0].Sequence)
	assert.Equal(t, reflect.TypeFor[*Team](), players.Rest[2].Type)
	assert.Equal(t, reflect.TypeFor[int](), players.Rest[1].Type)
}

func TestDefine_NoRestColumns(t *testing.T) {
	type Tag struct{ Code string }
	d := entity.Define[Tag]("TAG",
		[]entity.Column{entity.Field("Code", func(t *Tag) string { return t.Code }, func(t *Tag, v string) { t.Code = v })},
		nil,
	)
	assert.Empty(t, d.UpdateQuery)
	assert.Equal(t, "INSERT INTO TAG (Code) VALUES (?)", d.InsertQuery)
}

func TestRegistry_Retrieve(t *testing.T) {
	reg, _ := newRegistry(t)
	d, err := reg.Retrieve(reflect.TypeFor[*Player]())
	require.NoError(t, err)
	assert.Same(t, players, d)

	_, err = reg.Retrieve(reflect.TypeFor[*testing.T]())
	require.ErrorIs(t, err, entity.ErrUnknownEntity)

	assert.True(t, reg.IsEntity(reflect.TypeFor[*Team]()))
	assert.False(t, reg.IsEntity(reflect.TypeFor[Team]()))

	// Last registration wins.
	other := entity.Define[Team]("TEAMS", teams.IDs, teams.Rest)
	reg.Register(other)
	d, err = reg.Retrieve(reflect.TypeFor[*Team]())
	require.NoError(t, err)
	assert.Equal(t, "TEAMS", d.Table)
}

func TestRegistry_FieldType(t *testing.T) {
	reg, _ := newRegistry(t)
	typ, err := reg.FieldType(reflect.TypeFor[*Player](), "age")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[int](), typ)

	_, err = reg.FieldType(reflect.TypeFor[*Player](), "missing")
	require.ErrorIs(t, err, entity.ErrUnknownField)
}

func TestRegistry_SetField(t *testing.T) {
	var buf bytes.Buffer
	reg, g := newRegistry(t, entity.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	p := &Player{}

	ok, err := reg.SetField(p, "name", []byte("ann"), g, true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ann", p.Name)

	_, err = reg.SetField(p, "AGE", int64(31), g, true)
	require.NoError(t, err)
	require.NotNil(t, p.Age)
	assert.Equal(t, 31, *p.Age)

	_, err = reg.SetField(p, "AGE", nil, g, true)
	require.NoError(t, err)
	assert.Nil(t, p.Age)

	_, err = reg.SetField(p, "team_id", int64(9), g, true)
	require.NoError(t, err)
	require.NotNil(t, p.Team)
	assert.Equal(t, int64(9), p.Team.ID)
	assert.False(t, p.Team.Populated())

	_, err = reg.SetField(p, "EXTRA", 1, g, true)
	require.ErrorIs(t, err, entity.ErrUnknownField)

	ok, err = reg.SetField(p, "EXTRA", 1, g, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "unable to set field")

	_, err = reg.SetField(p, "AGE", "old", g, true)
	require.ErrorIs(t, err, convert.ErrConversion)
}

func TestRegistry_SingleID(t *testing.T) {
	reg, _ := newRegistry(t)
	id, err := reg.SingleID(&Player{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	_, err = reg.SingleID(&Membership{TeamID: 1, PlayerID: 2})
	require.ErrorIs(t, err, entity.ErrCompositeKey)
}

func TestRegistry_EqualHash(t *testing.T) {
	reg, _ := newRegistry(t)
	a := &Player{ID: 1, Name: "a"}
	b := &Player{ID: 1, Name: "b"}
	c := &Player{ID: 2, Name: "a"}
	assert.True(t, reg.Equal(a, b))
	assert.Equal(t, reg.Hash(a), reg.Hash(b))
	assert.False(t, reg.Equal(a, c))
	assert.False(t, reg.Equal(a, &Team{ID: 1}))

	m1 := &Membership{TeamID: 1, PlayerID: 2, Role: "x"}
	m2 := &Membership{TeamID: 1, PlayerID: 2, Role: "y"}
	m3 := &Membership{TeamID: 2, PlayerID: 1}
	assert.True(t, reg.Equal(m1, m2))
	assert.Equal(t, reg.Hash(m1), reg.Hash(m2))
	assert.False(t, reg.Equal(m1, m3))
}

func TestDescriptor_Describe(t *testing.T) {
	assert.Equal(t, "Membership[TeamID=1, PlayerID=2]", memberships.Describe(&Membership{TeamID: 1, PlayerID: 2}))
}
