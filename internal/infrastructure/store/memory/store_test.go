package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/store/storetest"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store { return New() })
}

func TestStoreUsesClock(t *testing.T) {
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	a := storetest.NewAudit(t, "dummy")
	require.NoError(t, s.CreateAudit(context.Background(), a))

	got, err := s.TransitionAudit(context.Background(), a.ID, []audit.State{audit.StatePending}, audit.StateOngoing, nil)
	require.NoError(t, err)
	assert.Equal(t, fixed, *got.StartedAt)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := storetest.NewAudit(t, "dummy")
	require.NoError(t, s.CreateAudit(ctx, a))

	got, err := s.GetAudit(ctx, a.ID)
	require.NoError(t, err)
	got.Parameters["threshold"] = 9.9

	again, err := s.GetAudit(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, again.Parameters["threshold"])
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetAudit(ctx, "any")
	assert.ErrorIs(t, err, audit.ErrPersistence)
}
