// Package party resolves external relation ids to customer/supplier records,
// creating them on first use.
package party

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
)

const descriptionNameLimit = 40

// Resolver maps external relation ids to parties. Resolution is idempotent:
// every lookup key, including the fallbacks, is deterministic, so a retry
// never creates a second record for the same identity.
type Resolver struct {
	repo    repositories.PartyRepository
	client  eboekhouden.Client
	company string
	log     zerolog.Logger
}

func NewResolver(repo repositories.PartyRepository, client eboekhouden.Client, company string, log zerolog.Logger) *Resolver {
	return &Resolver{
		repo:    repo,
		client:  client,
		company: company,
		log:     log,
	}
}

// ResolveOrCreate returns the party for an external relation id. With no
// relation id it falls back to the company-as-party singleton, and as a last
// resort to a name derived from the transaction description.
func (r *Resolver) ResolveOrCreate(relationID string, kind models.PartyKind, fallbackDescription string) (*models.Party, error) {
	if relationID != "" {
		return r.resolveRelation(relationID, kind)
	}
	if r.company != "" {
		return r.CompanyParty(kind)
	}
	return r.descriptionParty(kind, fallbackDescription)
}

func (r *Resolver) resolveRelation(relationID string, kind models.PartyKind) (*models.Party, error) {
	p, err := r.repo.GetPartyByRelationID(relationID, kind)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repositories.ErrPartyNotFound) {
		return nil, err
	}

	name, generic := r.relationName(relationID)
	if generic {
		// The deterministic generic name may already exist from an earlier
		// offline run; reuse it rather than creating a duplicate.
		if existing, err := r.repo.GetPartyByName(name, kind); err == nil {
			return existing, nil
		} else if !errors.Is(err, repositories.ErrPartyNotFound) {
			return nil, err
		}
	}

	p = &models.Party{
		ExternalRelationID: relationID,
		Name:               name,
		Kind:               kind,
		Generic:            generic,
	}
	if err := r.repo.InsertParty(p); err != nil {
		return nil, err
	}
	return p, nil
}

// relationName fetches relation details, falling back to a name derived from
// the relation id when the external source is unreachable. The fallback is
// deterministic so repeated calls without network access stay idempotent.
func (r *Resolver) relationName(relationID string) (string, bool) {
	rel, err := r.client.FetchRelation(relationID)
	if err != nil {
		r.log.Warn().Err(err).Str("relation_id", relationID).
			Msg("relation fetch failed, creating generic party")
		return fmt.Sprintf("Relation %s", relationID), true
	}
	if rel.CompanyName != "" {
		return rel.CompanyName, false
	}
	if rel.Name != "" {
		return rel.Name, false
	}
	return fmt.Sprintf("Relation %s", relationID), true
}

// CompanyParty returns the company-as-party singleton for internal and
// memorial transactions, creating it on first use.
func (r *Resolver) CompanyParty(kind models.PartyKind) (*models.Party, error) {
	name := fmt.Sprintf("%s (Internal %s)", r.company, kind)
	return r.getOrCreateByName(name, kind, false)
}

// descriptionParty is the lowest-confidence fallback: a generic party named
// from the transaction description, truncated and prefixed so it stands out
// during manual reconciliation.
func (r *Resolver) descriptionParty(kind models.PartyKind, description string) (*models.Party, error) {
	trimmed := description
	if runes := []rune(trimmed); len(runes) > descriptionNameLimit {
		trimmed = string(runes[:descriptionNameLimit])
	}
	if trimmed == "" {
		trimmed = "no description"
	}
	name := fmt.Sprintf("Unresolved: %s", trimmed)
	return r.getOrCreateByName(name, kind, true)
}

func (r *Resolver) getOrCreateByName(name string, kind models.PartyKind, generic bool) (*models.Party, error) {
	p, err := r.repo.GetPartyByName(name, kind)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repositories.ErrPartyNotFound) {
		return nil, err
	}

	p = &models.Party{
		Name:    name,
		Kind:    kind,
		Generic: generic,
	}
	if err := r.repo.InsertParty(p); err != nil {
		return nil, err
	}
	return p, nil
}
