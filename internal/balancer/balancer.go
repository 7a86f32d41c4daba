package balancer

import (
	"context"
	"fmt"

	"github.com/xaenox/helpdesk-agent/internal/models"
	"go.uber.org/zap"
)

// Roster is the slice of the directory the balancer reads.
type Roster interface {
	ListStaff(ctx context.Context) ([]models.Profile, error)
	OpenTicketCounts(ctx context.Context) (map[string]int, error)
}

type Selection struct {
	Employee    models.Employee `json:"employee"`
	TicketCount int             `json:"ticketCount"`
}

type Balancer struct {
	roster Roster
	logger *zap.Logger
}

func New(roster Roster, logger *zap.Logger) *Balancer {
	return &Balancer{roster: roster, logger: logger}
}

// LeastLoaded picks the staff member with the fewest open individual
// assignments. Staff are visited in profile id order and only a strictly
// lower count displaces the current pick, so ties go to the lowest id.
func (b *Balancer) LeastLoaded(ctx context.Context) (*Selection, error) {
	staff, err := b.roster.ListStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing staff: %w", err)
	}
	if len(staff) == 0 {
		return nil, models.ErrNoCandidates
	}

	counts, err := b.roster.OpenTicketCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading open ticket counts: %w", err)
	}

	best, bestCount := staff[0], counts[staff[0].UserID]
	for _, p := range staff[1:] {
		if c := counts[p.UserID]; c < bestCount {
			best, bestCount = p, c
		}
	}

	b.logger.Debug("Selected least loaded employee",
		zap.String("profile_id", best.UserID),
		zap.Int("open_tickets", bestCount))

	return &Selection{Employee: models.EmployeeFromProfile(best), TicketCount: bestCount}, nil
}
