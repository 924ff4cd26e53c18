package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentgate/intentgate/internal/store"
)

func TestEmitAndRecent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	require.NoError(t, svc.Emit(ctx, Event{
		Type:     TypeConflict,
		CallerID: "alice",
		Intent:   "generate an image",
		Detail:   "ambiguous between img, pic",
	}))
	require.NoError(t, svc.Emit(ctx, Event{
		Type:     TypeUsage,
		CallerID: "alice",
		Template: "img",
	}))

	recent, err := svc.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, TypeUsage, recent[0].Type)
	assert.Equal(t, TypeConflict, recent[1].Type)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestRecentIsolatedPerCaller(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	require.NoError(t, svc.Emit(ctx, Event{Type: TypeUsage, CallerID: "alice"}))

	recent, err := svc.Recent(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestStreamRetainsEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := NewService(st)

	require.NoError(t, svc.Emit(ctx, Event{Type: TypeDenied, CallerID: "alice", Detail: "quota"}))

	entries, err := st.XRange(ctx, "intentgate:events", "-", "+")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TypeDenied, entries[0].Values["type"])
	assert.Equal(t, "alice", entries[0].Values["caller"])
}
