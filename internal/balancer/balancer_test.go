package balancer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
)

type stubRoster struct {
	staff     []models.Profile
	counts    map[string]int
	staffErr  error
	countsErr error
}

func (s stubRoster) ListStaff(ctx context.Context) ([]models.Profile, error) {
	return s.staff, s.staffErr
}

func (s stubRoster) OpenTicketCounts(ctx context.Context) (map[string]int, error) {
	return s.counts, s.countsErr
}

func staff(ids ...string) []models.Profile {
	out := make([]models.Profile, len(ids))
	for i, id := range ids {
		out[i] = models.Profile{UserID: id, FirstName: "Emp", LastName: id, IsActive: true}
	}
	return out
}

func TestLeastLoaded(t *testing.T) {
	tests := []struct {
		name      string
		staff     []models.Profile
		counts    map[string]int
		wantID    string
		wantCount int
	}{
		{name: "lowest count wins", staff: staff("a", "b", "c"), counts: map[string]int{"a": 3, "b": 1, "c": 2}, wantID: "b", wantCount: 1},
		{name: "missing count is zero", staff: staff("a", "b"), counts: map[string]int{"a": 2}, wantID: "b", wantCount: 0},
		{name: "tie goes to first in roster", staff: staff("a", "b", "c"), counts: map[string]int{"a": 2, "b": 1, "c": 1}, wantID: "b", wantCount: 1},
		{name: "all zero picks first", staff: staff("a", "b"), counts: nil, wantID: "a", wantCount: 0},
		{name: "single candidate", staff: staff("z"), counts: map[string]int{"z": 9}, wantID: "z", wantCount: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(stubRoster{staff: tt.staff, counts: tt.counts}, zap.NewNop())

			sel, err := b.LeastLoaded(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, sel.Employee.UserID)
			assert.Equal(t, tt.wantCount, sel.TicketCount)
		})
	}
}

func TestLeastLoaded_Deterministic(t *testing.T) {
	b := New(stubRoster{staff: staff("a", "b", "c"), counts: map[string]int{"a": 1, "b": 1, "c": 1}}, zap.NewNop())

	for i := 0; i < 20; i++ {
		sel, err := b.LeastLoaded(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "a", sel.Employee.UserID)
	}
}

func TestLeastLoaded_NoCandidates(t *testing.T) {
	b := New(stubRoster{}, zap.NewNop())

	_, err := b.LeastLoaded(context.Background())
	assert.ErrorIs(t, err, models.ErrNoCandidates)
}

func TestLeastLoaded_StoreErrors(t *testing.T) {
	boom := errors.New("connection reset")

	_, err := New(stubRoster{staffErr: boom}, zap.NewNop()).LeastLoaded(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = New(stubRoster{staff: staff("a"), countsErr: boom}, zap.NewNop()).LeastLoaded(context.Background())
	assert.ErrorIs(t, err, boom)
}
