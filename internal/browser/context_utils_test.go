package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type ctxKey struct{}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("InheritsSessionValues", func(t *testing.T) {
		session := context.WithValue(context.Background(), ctxKey{}, "target")
		combined, cancel := CombineContext(session, context.Background())
		defer cancel()
		assert.Equal(t, "target", combined.Value(ctxKey{}))
	})

	t.Run("OperationCancellationPropagates", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()

		cancelOp()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not canceled with operation context")
		}
	})

	t.Run("SessionCancellationPropagates", func(t *testing.T) {
		session, cancelSession := context.WithCancel(context.Background())
		combined, cancel := CombineContext(session, context.Background())
		defer cancel()

		cancelSession()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("OperationDeadlineIsCopied", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelOp()
		combined, cancel := CombineContext(context.Background(), op)
		defer cancel()

		deadline, ok := combined.Deadline()
		assert.True(t, ok)
		opDeadline, _ := op.Deadline()
		assert.Equal(t, opDeadline, deadline)

		<-combined.Done()
	})

	t.Run("CancelIsIdempotent", func(t *testing.T) {
		_, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		cancel()
	})
}
