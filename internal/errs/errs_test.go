package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"dockwave-backend/internal/errs"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("formats kind, message and entity", func(t *testing.T) {
		err := errs.Conflict("wave is not empty", "wave:2")
		assert.Equal(t, "CONFLICT: wave is not empty (wave:2)", err.Error())
	})

	t.Run("matches its sentinel", func(t *testing.T) {
		err := errs.NotFound("shift:abc")
		assert.True(t, errors.Is(err, errs.ErrNotFound))
		assert.False(t, errors.Is(err, errs.ErrConflict))
	})

	t.Run("keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := &errs.Error{Kind: errs.KindPersistenceTimeout, Message: "write abandoned", Cause: cause}
		assert.True(t, errors.Is(err, cause))
		assert.True(t, errors.Is(err, errs.ErrPersistenceTimeout))
		assert.Contains(t, err.Error(), "cause: connection reset")
	})
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("upsert slot: %w", errs.Invalid("slot index out of range"))
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(wrapped))
	assert.True(t, errs.Is(wrapped, errs.KindInvalidArgument))

	assert.Equal(t, errs.Kind(""), errs.KindOf(errors.New("boom")))
	assert.Equal(t, errs.Kind(""), errs.KindOf(nil))
}
