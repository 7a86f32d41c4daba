package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/xaenox/helpdesk-agent/internal/models"
	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML seed format for MemoryStorage.
type Fixtures struct {
	Profiles    []models.Profile          `yaml:"profiles"`
	Statuses    []models.CatalogEntry     `yaml:"statuses"`
	Priorities  []models.CatalogEntry     `yaml:"priorities"`
	Tickets     []models.Ticket           `yaml:"tickets"`
	Assignments []models.Assignment       `yaml:"assignments"`
	Articles    []models.KnowledgeArticle `yaml:"articles"`
}

// LoadFixtures reads a fixtures file into s.
func LoadFixtures(path string, s *MemoryStorage) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading fixtures file: %w", err)
	}

	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("error parsing fixtures file: %w", err)
	}
	return s.Load(f)
}

// Load seeds s with f. Assignments must reference tickets present in f or
// already stored.
func (s *MemoryStorage) Load(f Fixtures) error {
	for _, p := range f.Profiles {
		s.PutProfile(p)
	}
	for _, st := range f.Statuses {
		s.PutStatus(st)
	}
	for _, pr := range f.Priorities {
		s.PutPriority(pr)
	}
	for _, t := range f.Tickets {
		s.PutTicket(t)
	}
	for _, a := range f.Articles {
		s.PutArticle(a)
	}
	for i := range f.Assignments {
		if f.Assignments[i].AssignmentType == "" {
			f.Assignments[i].AssignmentType = models.AssignmentIndividual
		}
		if err := s.CreateAssignment(context.Background(), &f.Assignments[i]); err != nil {
			return fmt.Errorf("error loading assignment %d: %w", i, err)
		}
	}
	return nil
}
