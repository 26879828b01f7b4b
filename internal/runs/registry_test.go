package runs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCancelStopsRun(t *testing.T) {
	reg := NewRegistry()
	id := uuid.New()
	ctx, done := reg.Start(context.Background(), id, "t1")
	defer done()

	token, ok := reg.Active(id)
	assert.True(t, ok)
	assert.Equal(t, "t1", token)

	assert.True(t, reg.Cancel(id))
	<-ctx.Done()
	_, ok = reg.Active(id)
	assert.False(t, ok)
	assert.False(t, reg.Cancel(id))
}

func TestNewRunSupersedesOld(t *testing.T) {
	reg := NewRegistry()
	id := uuid.New()
	old, doneOld := reg.Start(context.Background(), id, "t1")
	_, doneNew := reg.Start(context.Background(), id, "t2")
	defer doneNew()

	<-old.Done()
	// Finishing the superseded run must not unregister the new one.
	doneOld()
	token, ok := reg.Active(id)
	assert.True(t, ok)
	assert.Equal(t, "t2", token)
}
