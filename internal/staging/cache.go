// Package staging is the durable local cache of fetched mutations. It keeps
// the importer off the network for anything already seen and knows which
// cached mutations still lack a linked document.
package staging

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/repositories"
)

type Cache struct {
	repo      repositories.MutationCacheRepository
	client    eboekhouden.Client
	maxMisses int
	log       zerolog.Logger
}

func NewCache(repo repositories.MutationCacheRepository, client eboekhouden.Client, maxMisses int, log zerolog.Logger) *Cache {
	if maxMisses <= 0 {
		maxMisses = 25
	}
	return &Cache{
		repo:      repo,
		client:    client,
		maxMisses: maxMisses,
		log:       log,
	}
}

// GetOrFetch returns the cached payload for an external id, fetching and
// caching it on a miss. Cached payloads are immutable.
func (c *Cache) GetOrFetch(externalID int64) (*models.Mutation, error) {
	cached, err := c.repo.GetCachedMutation(externalID)
	if err == nil {
		return cached.ToMutation()
	}
	if !errors.Is(err, repositories.ErrCacheMiss) {
		return nil, err
	}

	m, err := c.client.FetchMutation(externalID)
	if err != nil {
		return nil, err
	}
	if err := c.cache(m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadRange returns every mutation in a date range, serving from the cache
// and fetching only what the cache has not seen: a cold cache falls back to
// one full ranged fetch, a warm one is topped up by scanning for new ids.
func (c *Cache) LoadRange(dateFrom, dateTo string) ([]*models.Mutation, error) {
	from, to := dateFrom, dateTo
	if from == "" {
		from = "0001-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}

	cached, err := c.repo.ListCachedRange(from, to)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		return c.FetchAndCacheRange(dateFrom, dateTo)
	}

	mutations := make([]*models.Mutation, 0, len(cached))
	for _, cm := range cached {
		m, err := cm.ToMutation()
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}

	fetched, err := c.FetchNewMutations()
	if err != nil {
		return nil, err
	}
	for _, m := range fetched {
		if m.Date >= from && m.Date <= to {
			mutations = append(mutations, m)
		}
	}

	c.log.Info().
		Int("cached", len(cached)).
		Int("fetched", len(fetched)).
		Msg("loaded mutation range")
	return mutations, nil
}

// FetchAndCacheRange pulls every mutation in a date range from the API and
// caches the ones not seen before.
func (c *Cache) FetchAndCacheRange(dateFrom, dateTo string) ([]*models.Mutation, error) {
	mutations, err := c.client.FetchMutations(dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	for _, m := range mutations {
		if err := c.cache(m); err != nil {
			return nil, err
		}
	}
	return mutations, nil
}

// FetchNewMutations walks external ids upward from the highest cached id,
// caching hits. It stops after the configured number of consecutive
// not-found responses, which bounds wasted work against an exhausted source.
func (c *Cache) FetchNewMutations() ([]*models.Mutation, error) {
	maxID, err := c.repo.MaxExternalID()
	if err != nil {
		return nil, err
	}

	var fetched []*models.Mutation
	misses := 0
	for id := maxID + 1; misses < c.maxMisses; id++ {
		m, err := c.client.FetchMutation(id)
		if err != nil {
			if errors.Is(err, eboekhouden.ErrNotFound) {
				misses++
				continue
			}
			return fetched, err
		}
		misses = 0
		if err := c.cache(m); err != nil {
			return fetched, err
		}
		fetched = append(fetched, m)
	}

	c.log.Info().Int("fetched", len(fetched)).Msg("finished scanning for new mutations")
	return fetched, nil
}

// ListUnprocessed returns cached mutations with no linkage in any document
// kind, with a best-effort diagnosis of why each might be stuck. Read-only:
// nothing here touches the import path.
func (c *Cache) ListUnprocessed(limit int) ([]models.UnprocessedMutation, error) {
	cached, err := c.repo.ListUnprocessed(limit)
	if err != nil {
		return nil, err
	}

	unprocessed := make([]models.UnprocessedMutation, 0, len(cached))
	for _, cm := range cached {
		unprocessed = append(unprocessed, models.UnprocessedMutation{
			MutationID:    cm.ExternalID,
			Type:          cm.Type.String(),
			Date:          cm.Date,
			InvoiceNumber: cm.InvoiceNumber,
			Description:   cm.Description,
			Amount:        cm.Amount,
			RelationID:    cm.RelationID,
			LedgerID:      cm.LedgerID,
			Issues:        diagnose(cm),
		})
	}
	return unprocessed, nil
}

func diagnose(cm *models.CachedMutation) string {
	var issues []string
	if !cm.Type.Known() {
		issues = append(issues, "unknown mutation type")
	}
	if cm.Amount.IsZero() && len(cm.RowsJSON) <= 2 {
		issues = append(issues, "zero amount without rows")
	}
	if cm.RelationID == "" {
		switch cm.Type {
		case models.MutationSalesInvoice, models.MutationPurchaseInvoice,
			models.MutationCustomerPayment, models.MutationSupplierPayment:
			issues = append(issues, "missing relation id")
		}
	}
	if cm.LedgerID == "" {
		issues = append(issues, "missing main ledger")
	}
	return strings.Join(issues, "; ")
}

func (c *Cache) cache(m *models.Mutation) error {
	cm, err := models.NewCachedMutation(m)
	if err != nil {
		return err
	}
	return c.repo.InsertCachedMutation(cm)
}
