package storm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcedure(t *testing.T) {
	ctx := context.Background()
	c, db, logs := newTestClient(t)
	db.outs[1] = int64(6)
	db.outs[2] = "done"

	count, status := InOut(5), Out[string]()
	require.NoError(t, c.Procedure(ctx, "add_one", In(&Team{ID: 4}), count, status))
	assert.Equal(t, []string{
		"open",
		"prepare call {CALL add_one(?, ?, ?)}",
		"out 1 int",
		"out 2 string",
		"call [4 5 <nil>]",
		"close statement",
		"close",
	}, db.Events())
	assert.Contains(t, logs.String(), "CALL add_one(?, ?, ?) -- [IN:&{")

	n, err := Result[int](count)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	s, err := Result[string](status)
	require.NoError(t, err)
	assert.Equal(t, "done", s)

	_, err = Result[string](count)
	require.ErrorIs(t, err, ErrConversion)
}

func TestProcedure_Empty(t *testing.T) {
	c, db, _ := newTestClient(t)
	require.NoError(t, c.Procedure(context.Background(), "refresh"))
	assert.Contains(t, db.Events(), "prepare call {CALL refresh()}")
	assert.Contains(t, db.Events(), "call []")
}

func TestParam(t *testing.T) {
	assert.Equal(t, "IN:3", In(3).String())
	assert.Equal(t, "INOUT:x", InOut("x").String())
	assert.Equal(t, "OUT", Out[int]().String())
	assert.Equal(t, ModeInOut, InOut(1).Mode)
	assert.Equal(t, 3, In(3).Value())
	assert.Nil(t, Out[int]().Result())

	v, err := Result[int](Out[int]())
	require.NoError(t, err)
	assert.Zero(t, v)
}
