// Package mapping resolves external ledger codes to target accounts.
package mapping

import (
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
)

// Resolver is a batch-scoped lookup over the ledger mapping table. The whole
// table is loaded once at construction so every resolve is an O(1) map hit;
// a resolver must not outlive the batch it was built for.
type Resolver struct {
	byLedgerID map[string]*models.LedgerMapping
}

func NewResolver(repo repositories.MappingRepository) (*Resolver, error) {
	mappings, err := repo.GetAllMappings()
	if err != nil {
		return nil, err
	}

	byLedgerID := make(map[string]*models.LedgerMapping, len(mappings))
	for _, m := range mappings {
		byLedgerID[m.ExternalLedgerID] = m
	}
	return &Resolver{byLedgerID: byLedgerID}, nil
}

// Resolve returns the mapping for an external ledger code. An empty code
// (some mutations omit a row ledger) resolves to ErrMappingNotFound rather
// than panicking, so callers can apply their fallback.
func (r *Resolver) Resolve(externalLedgerID string) (*models.LedgerMapping, error) {
	if externalLedgerID == "" {
		return nil, models.ErrMappingNotFound
	}
	m, ok := r.byLedgerID[externalLedgerID]
	if !ok {
		return nil, models.ErrMappingNotFound
	}
	return m, nil
}
