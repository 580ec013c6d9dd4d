package sources

import (
	"context"

	"github.com/ternarybob/verdant/internal/models"
)

// StaticAdapter enumerates an inline list of items from the source
// definition. Enumeration order is the definition order.
type StaticAdapter struct {
	def *models.SourceDefinition
}

// NewStaticAdapter creates an adapter over the definition's inline items.
func NewStaticAdapter(def *models.SourceDefinition) *StaticAdapter {
	return &StaticAdapter{def: def}
}

func (a *StaticAdapter) Definition() *models.SourceDefinition {
	return a.def
}

func (a *StaticAdapter) Enumerate(_ context.Context) ([]models.CandidateItem, error) {
	candidates := make([]models.CandidateItem, 0, len(a.def.Items))
	for _, item := range a.def.Items {
		candidates = append(candidates, models.CandidateItem{
			SourceID:         a.def.ID,
			RemoteLocator:    item.URL,
			ExpectedCategory: item.Category,
			LicenseTag:       item.License,
		})
	}
	return candidates, nil
}
