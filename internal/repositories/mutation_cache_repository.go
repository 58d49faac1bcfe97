package repositories

import (
	"database/sql"
	"errors"

	"eboekhouden-importer/internal/models"
)

// ErrCacheMiss is returned when a mutation has not been cached yet.
var ErrCacheMiss = errors.New("mutation not cached")

type MutationCacheRepository interface {
	GetCachedMutation(externalID int64) (*models.CachedMutation, error)
	InsertCachedMutation(c *models.CachedMutation) error
	DeleteCachedMutation(tx *sql.Tx, externalID int64) error
	ListUnprocessed(limit int) ([]*models.CachedMutation, error)
	ListCachedRange(fromDate, toDate string) ([]*models.CachedMutation, error)
	MaxExternalID() (int64, error)
}

type mutationCacheRepository struct {
	db *sql.DB
}

func NewMutationCacheRepository(db *sql.DB) MutationCacheRepository {
	return &mutationCacheRepository{db: db}
}

func (r *mutationCacheRepository) GetCachedMutation(externalID int64) (*models.CachedMutation, error) {
	c := &models.CachedMutation{}
	query := `
		SELECT external_id, mutation_type, mutation_date, description, amount,
		       relation_id, invoice_number, ledger_id, rows_json, fetched_at
		FROM mutation_cache
		WHERE external_id = ?
	`
	err := r.db.QueryRow(query, externalID).Scan(
		&c.ExternalID,
		&c.Type,
		&c.Date,
		&c.Description,
		&c.Amount,
		&c.RelationID,
		&c.InvoiceNumber,
		&c.LedgerID,
		&c.RowsJSON,
		&c.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// InsertCachedMutation writes a cache entry. Entries are write-once: an
// insert for an already cached id is a silent no-op.
func (r *mutationCacheRepository) InsertCachedMutation(c *models.CachedMutation) error {
	query := `
		INSERT IGNORE INTO mutation_cache (
			external_id, mutation_type, mutation_date, description, amount,
			relation_id, invoice_number, ledger_id, rows_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		c.ExternalID,
		c.Type,
		c.Date,
		c.Description,
		c.Amount,
		c.RelationID,
		c.InvoiceNumber,
		c.LedgerID,
		[]byte(c.RowsJSON),
	)
	return err
}

func (r *mutationCacheRepository) DeleteCachedMutation(tx *sql.Tx, externalID int64) error {
	_, err := tx.Exec(`DELETE FROM mutation_cache WHERE external_id = ?`, externalID)
	return err
}

// ListUnprocessed returns cached mutations with no linkage in any document
// kind. The set is recomputed on every call because linkage state can change
// outside the cache's awareness.
func (r *mutationCacheRepository) ListUnprocessed(limit int) ([]*models.CachedMutation, error) {
	query := `
		SELECT mc.external_id, mc.mutation_type, mc.mutation_date, mc.description,
		       mc.amount, mc.relation_id, mc.invoice_number, mc.ledger_id,
		       mc.rows_json, mc.fetched_at
		FROM mutation_cache mc
		LEFT JOIN ledger_documents d ON d.external_mutation_id = CAST(mc.external_id AS CHAR)
		WHERE d.id IS NULL
		ORDER BY mc.external_id
		LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCachedMutations(rows)
}

func (r *mutationCacheRepository) ListCachedRange(fromDate, toDate string) ([]*models.CachedMutation, error) {
	query := `
		SELECT external_id, mutation_type, mutation_date, description, amount,
		       relation_id, invoice_number, ledger_id, rows_json, fetched_at
		FROM mutation_cache
		WHERE mutation_date BETWEEN ? AND ?
		ORDER BY external_id
	`
	rows, err := r.db.Query(query, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCachedMutations(rows)
}

func (r *mutationCacheRepository) MaxExternalID() (int64, error) {
	var max sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(external_id) FROM mutation_cache`).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

func scanCachedMutations(rows *sql.Rows) ([]*models.CachedMutation, error) {
	var cached []*models.CachedMutation
	for rows.Next() {
		c := &models.CachedMutation{}
		err := rows.Scan(
			&c.ExternalID,
			&c.Type,
			&c.Date,
			&c.Description,
			&c.Amount,
			&c.RelationID,
			&c.InvoiceNumber,
			&c.LedgerID,
			&c.RowsJSON,
			&c.FetchedAt,
		)
		if err != nil {
			return nil, err
		}
		cached = append(cached, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cached, nil
}
