package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndCode(t *testing.T) {
	err := New(InvalidState, "cannot start task")
	assert.EqualError(t, err, "cannot start task")
	assert.Equal(t, InvalidState, Code(err))
}

func TestNewf(t *testing.T) {
	err := Newf(ResourceNotFound, "task %s not found", "t-1")
	assert.EqualError(t, err, "task t-1 not found")
	assert.Equal(t, ResourceNotFound, Code(err))
}

func TestWrap(t *testing.T) {
	t.Run("wraps cause and keeps it unwrappable", func(t *testing.T) {
		cause := fmt.Errorf("disk full")
		err := Wrap(cause, ExternalService, "insert memory")

		assert.EqualError(t, err, "insert memory: disk full")
		assert.Equal(t, cause, stderrors.Unwrap(err))
		assert.Equal(t, ExternalService, Code(err))
	})

	t.Run("nil cause yields nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, ExternalService, "noop"))
	})
}

func TestWithFields(t *testing.T) {
	t.Run("renders fields deterministically", func(t *testing.T) {
		err := WithFields(New(InvalidInput, "bad request"), Fields{
			"task_id": "t-9",
			"agent":   "scanner",
		})
		assert.EqualError(t, err, "bad request [agent=scanner task_id=t-9]")
	})

	t.Run("merges fields preserving code", func(t *testing.T) {
		err := WithFields(New(InvalidState, "bad transition"), Fields{"from": "completed"})
		err = WithFields(err, Fields{"to": "in_progress"})

		var e *Error
		require.True(t, stderrors.As(err, &e))
		assert.Equal(t, InvalidState, e.Code())
		assert.Equal(t, Fields{"from": "completed", "to": "in_progress"}, e.Fields())
	})

	t.Run("foreign error becomes Unknown", func(t *testing.T) {
		err := WithFields(fmt.Errorf("plain"), Fields{"k": 1})
		assert.Equal(t, Unknown, Code(err))
	})
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(InvalidState, "one")
	b := New(InvalidState, "two")
	c := New(ResourceNotFound, "three")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := Wrap(New(InvalidState, "inner"), WorkflowFailed, "workflow aborted")
	// The outer code wins; the chain is matched via errors.As.
	assert.True(t, HasCode(err, WorkflowFailed))
	assert.False(t, HasCode(fmt.Errorf("plain"), WorkflowFailed))
}

func TestCheckContext(t *testing.T) {
	t.Run("live context passes", func(t *testing.T) {
		assert.NoError(t, CheckContext(context.Background(), "dispatch"))
	})

	t.Run("canceled context maps to Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := CheckContext(ctx, "dispatch")
		require.Error(t, err)
		assert.Equal(t, Canceled, Code(err))
	})

	t.Run("expired deadline maps to Timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), -time.Millisecond)
		defer cancel()
		err := CheckContext(ctx, "dispatch")
		require.Error(t, err)
		assert.Equal(t, Timeout, Code(err))
	})
}
