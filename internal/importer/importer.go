// Package importer orchestrates the batch import: dedup, classify, build,
// persist, and record linkage, one mutation at a time.
package importer

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eboekhouden-importer/internal/classify"
	"eboekhouden-importer/internal/config"
	"eboekhouden-importer/internal/docbuilder"
	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/mapping"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/party"
	"eboekhouden-importer/internal/repositories"
	"eboekhouden-importer/internal/staging"
)

type Importer struct {
	db        *sql.DB
	docs      repositories.DocumentRepository
	cacheRepo repositories.MutationCacheRepository
	batches   repositories.BatchRepository
	mappings  repositories.MappingRepository
	parties   repositories.PartyRepository
	cache     *staging.Cache
	client    eboekhouden.Client
	accounts  config.AccountsConfig
	company   string
	log       zerolog.Logger
}

func NewImporter(
	db *sql.DB,
	docs repositories.DocumentRepository,
	cacheRepo repositories.MutationCacheRepository,
	batches repositories.BatchRepository,
	mappings repositories.MappingRepository,
	parties repositories.PartyRepository,
	cache *staging.Cache,
	client eboekhouden.Client,
	accounts config.AccountsConfig,
	company string,
	log zerolog.Logger,
) *Importer {
	return &Importer{
		db:        db,
		docs:      docs,
		cacheRepo: cacheRepo,
		batches:   batches,
		mappings:  mappings,
		parties:   parties,
		cache:     cache,
		client:    client,
		accounts:  accounts,
		company:   company,
		log:       log,
	}
}

// batchScope bundles the resolver, classifier and builder for one run. The
// ledger resolver snapshot lives exactly as long as the batch; no state
// leaks across runs.
type batchScope struct {
	classifier *classify.Classifier
	builder    *docbuilder.Builder
}

func (i *Importer) newBatchScope() (*batchScope, error) {
	resolver, err := mapping.NewResolver(i.mappings)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger mappings: %w", err)
	}
	parties := party.NewResolver(i.parties, i.client, i.company, i.log)
	return &batchScope{
		classifier: classify.NewClassifier(resolver),
		builder:    docbuilder.NewBuilder(resolver, parties, i.accounts, i.company, i.log),
	}, nil
}

// ImportRange imports all mutations in a date range, served from the cache
// with only unseen ids fetched. maxMutations of zero means no limit; a
// non-zero cap keeps the lowest external ids.
func (i *Importer) ImportRange(dateFrom, dateTo string, maxMutations int) (*models.ImportBatchResult, error) {
	mutations, err := i.cache.LoadRange(dateFrom, dateTo)
	if err != nil {
		return nil, fmt.Errorf("failed to load mutations: %w", err)
	}
	sort.Slice(mutations, func(a, b int) bool {
		return mutations[a].ExternalID < mutations[b].ExternalID
	})
	if maxMutations > 0 && len(mutations) > maxMutations {
		mutations = mutations[:maxMutations]
	}
	return i.ImportBatch(mutations)
}

// ImportBatch processes mutations strictly in ascending external-id order.
// A single bad mutation never aborts the batch: its error is recorded and
// the loop continues. Each successful document commits on its own, so a
// partially failed batch leaves the successes durable.
func (i *Importer) ImportBatch(mutations []*models.Mutation) (*models.ImportBatchResult, error) {
	scope, err := i.newBatchScope()
	if err != nil {
		return nil, err
	}

	sort.Slice(mutations, func(a, b int) bool {
		return mutations[a].ExternalID < mutations[b].ExternalID
	})

	batch := &models.ImportBatch{
		BatchID:    uuid.NewString(),
		Company:    i.company,
		TotalFound: len(mutations),
		StartedAt:  time.Now(),
	}
	if err := i.batches.InsertBatch(batch); err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}

	result := &models.ImportBatchResult{
		BatchID:    batch.BatchID,
		Company:    i.company,
		TotalFound: len(mutations),
	}

	for _, m := range mutations {
		linkage := strconv.FormatInt(m.ExternalID, 10)

		_, exists, err := i.docs.ExistsByMutationID(linkage)
		if err != nil {
			// The store itself is failing; that is batch-fatal, not a
			// per-mutation condition.
			return nil, fmt.Errorf("dedup lookup failed: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}

		shape := scope.classifier.Classify(m)
		if shape == classify.ShapeSkip {
			result.Skipped++
			continue
		}

		if err := i.importOne(scope, m, shape); err != nil {
			if errors.Is(err, models.ErrDuplicateImport) {
				// Another run won the race for this linkage; nothing lost.
				result.Skipped++
				continue
			}
			result.Failed++
			importErr := models.ImportError{ExternalID: m.ExternalID, Message: err.Error()}
			result.Errors = append(result.Errors, importErr)
			if auditErr := i.batches.InsertBatchError(batch.BatchID, importErr); auditErr != nil {
				i.log.Error().Err(auditErr).Int64("mutation_id", m.ExternalID).
					Msg("failed to record import error")
			}
			i.log.Error().Err(err).Int64("mutation_id", m.ExternalID).
				Str("shape", string(shape)).Msg("mutation import failed")
			continue
		}
		result.Imported++
	}

	batch.Imported = result.Imported
	batch.Skipped = result.Skipped
	batch.Failed = result.Failed
	if err := i.batches.FinishBatch(batch); err != nil {
		i.log.Error().Err(err).Str("batch_id", batch.BatchID).Msg("failed to finish import batch")
	}

	i.log.Info().
		Str("batch_id", batch.BatchID).
		Int("total", result.TotalFound).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("import batch finished")
	return result, nil
}

// importOne builds and persists the document for a single mutation. The
// purchase debit-note carve-out retries as a generic entry when its save
// fails; every other failure is final for the mutation.
func (i *Importer) importOne(scope *batchScope, m *models.Mutation, shape classify.Shape) error {
	err := i.buildAndPersist(scope, m, shape)
	if err != nil && shape == classify.ShapePurchaseDebitNote && !errors.Is(err, models.ErrDuplicateImport) {
		i.log.Warn().Err(err).Int64("mutation_id", m.ExternalID).
			Msg("debit-note import failed, retrying as generic entry")
		return i.buildAndPersist(scope, m, classify.ShapeGenericMultiLine)
	}
	return err
}

func (i *Importer) buildAndPersist(scope *batchScope, m *models.Mutation, shape classify.Shape) error {
	doc, err := scope.builder.Build(m, shape)
	if err != nil {
		return err
	}
	return i.persist(doc)
}

func (i *Importer) persist(doc *models.LedgerDocument) error {
	if err := i.docs.CreateDocument(doc); err != nil {
		return &models.PersistError{Kind: doc.Kind, Err: err}
	}
	return nil
}

// ImportOpeningBalances books all type-0 mutations as one journal entry.
// The sentinel linkage makes a second run a no-op before any work happens.
func (i *Importer) ImportOpeningBalances() (*models.ImportBatchResult, error) {
	result := &models.ImportBatchResult{
		BatchID: uuid.NewString(),
		Company: i.company,
	}

	_, exists, err := i.docs.ExistsByMutationID(models.OpeningBalanceLinkage)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if exists {
		result.Skipped = 1
		return result, nil
	}

	scope, err := i.newBatchScope()
	if err != nil {
		return nil, err
	}

	all, err := i.cache.LoadRange("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load mutations: %w", err)
	}
	var opening []*models.Mutation
	for _, m := range all {
		if m.Type == models.MutationOpeningBalance {
			opening = append(opening, m)
		}
	}
	result.TotalFound = len(opening)
	if len(opening) == 0 {
		return result, nil
	}

	doc, err := scope.builder.BuildOpeningBalance(opening)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return result, nil
	}

	if err := i.persist(doc); err != nil {
		if errors.Is(err, models.ErrDuplicateImport) {
			result.Skipped = 1
			return result, nil
		}
		result.Failed = 1
		result.Errors = append(result.Errors, models.ImportError{Message: err.Error()})
		return result, nil
	}
	result.Imported = 1
	return result, nil
}

// ForceReimport clears the linkage and cache entry for exactly one external
// id, then caches a fresh copy so the next batch run rebuilds its document.
func (i *Importer) ForceReimport(externalID int64) error {
	linkage := strconv.FormatInt(externalID, 10)

	tx, err := i.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := i.docs.DeleteByMutationID(tx, linkage); err != nil {
		return fmt.Errorf("failed to delete linkage for %d: %w", externalID, err)
	}
	if err := i.cacheRepo.DeleteCachedMutation(tx, externalID); err != nil {
		return fmt.Errorf("failed to delete cache entry for %d: %w", externalID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Refill the cache immediately; batch runs serve from the cache, so a
	// cleared entry that is never refetched would stay invisible to them.
	if _, err := i.cache.GetOrFetch(externalID); err != nil {
		if errors.Is(err, eboekhouden.ErrNotFound) {
			i.log.Warn().Int64("mutation_id", externalID).
				Msg("mutation no longer exists upstream, linkage cleared only")
			return nil
		}
		return fmt.Errorf("failed to refetch mutation %d: %w", externalID, err)
	}
	return nil
}
