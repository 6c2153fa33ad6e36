package storm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dsql "github.com/syssam/storm/dialect/sql"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := &NotFoundError{label: "User", id: 5}
		assert.Equal(t, "storm: User not found (id=5)", err.Error())
		err = &NotFoundError{label: "User"}
		assert.Equal(t, "storm: User not found", err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := &NotFoundError{label: "Post", id: 1}
		assert.True(t, errors.Is(err, ErrNoRows))
		assert.Equal(t, "Post", err.Label())
		assert.Equal(t, 1, err.ID())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := &NotFoundError{label: "Comment"}
		assert.True(t, IsNotFound(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, IsNotFound(wrapped))
		assert.True(t, IsNotFound(wrap("Comment", "populate", err)))

		// Sentinel error
		assert.True(t, IsNotFound(ErrNoRows))

		// Non-matching error
		assert.False(t, IsNotFound(errors.New("other error")))
		assert.False(t, IsNotFound(nil))
	})
}

func TestNotSingularError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := &NotSingularError{query: "SELECT * FROM T"}
		assert.Equal(t, `storm: multiple results found for query "SELECT * FROM T"`, err.Error())
	})

	t.Run("IsNotSingular", func(t *testing.T) {
		err := &NotSingularError{query: "q"}
		assert.True(t, errors.Is(err, ErrNotSingular))
		assert.True(t, IsNotSingular(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, IsNotSingular(ErrNotSingular))
		assert.False(t, IsNotSingular(errors.New("other error")))
		assert.False(t, IsNotSingular(nil))
	})
}

func TestQueryError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := NewQueryError("User", "create", errors.New("boom"))
		assert.Equal(t, "storm: create User: boom", err.Error())
		err = NewQueryError("", "execute update", errors.New("boom"))
		assert.Equal(t, "storm: execute update: boom", err.Error())
	})

	t.Run("Unwrap", func(t *testing.T) {
		err := NewQueryError("User", "update", ErrNullID)
		assert.True(t, errors.Is(err, ErrNullID))
		assert.True(t, IsQueryError(err))
		assert.True(t, IsQueryError(fmt.Errorf("wrapper: %w", err)))
		assert.False(t, IsQueryError(ErrNullID))
		assert.False(t, IsQueryError(nil))
	})
}

func TestWrap(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, wrap("User", "read", nil))
	})

	t.Run("Once", func(t *testing.T) {
		inner := wrap("User", "read", ErrNullID)
		outer := wrap("Team", "details", inner)
		assert.Same(t, inner, outer)
	})

	t.Run("Constraint", func(t *testing.T) {
		err := wrap("User", "create", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a' for key 'name'"})
		var ce *ConstraintError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, dsql.UniqueConstraint, ce.Kind)
		assert.True(t, IsConstraintError(err))
		assert.True(t, IsUniqueConstraintError(err))
		assert.False(t, IsForeignKeyConstraintError(err))
		assert.Contains(t, err.Error(), "constraint failed")
		assert.True(t, IsQueryError(err))
	})

	t.Run("NoConstraint", func(t *testing.T) {
		err := wrap("User", "read", errors.New("syntax error"))
		assert.False(t, IsConstraintError(err))
	})
}

func TestRollbackError(t *testing.T) {
	cause := errors.New("connection lost")
	err := &RollbackError{Err: cause}
	assert.Equal(t, "storm: rollback failed: connection lost", err.Error())
	assert.True(t, errors.Is(err, cause))
}
