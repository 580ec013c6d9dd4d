package interfaces

import (
	"context"

	"github.com/ternarybob/verdant/internal/models"
)

// SourceAdapter enumerates candidate items for one external source. Adapters
// are stateless beyond their configuration, and enumeration order must be
// stable across invocations so tie-breaks are reproducible per run.
type SourceAdapter interface {
	// Definition returns the source configuration the adapter was built from.
	Definition() *models.SourceDefinition

	// Enumerate lists candidate items in stable order.
	Enumerate(ctx context.Context) ([]models.CandidateItem, error)
}
