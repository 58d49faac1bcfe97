package repositories

import (
	"database/sql"
	"errors"
	"time"

	"eboekhouden-importer/internal/models"
)

// ErrBatchNotFound is returned when no import batch matches the id.
var ErrBatchNotFound = errors.New("import batch not found")

type BatchRepository interface {
	InsertBatch(b *models.ImportBatch) error
	FinishBatch(b *models.ImportBatch) error
	GetBatchByBatchID(batchID string) (*models.ImportBatch, error)
	InsertBatchError(batchID string, e models.ImportError) error
	GetBatchErrors(batchID string) ([]models.ImportError, error)
}

type batchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) BatchRepository {
	return &batchRepository{db: db}
}

func (r *batchRepository) InsertBatch(b *models.ImportBatch) error {
	query := `
		INSERT INTO import_batches (batch_id, company, total_found, imported, skipped, failed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		b.BatchID,
		b.Company,
		b.TotalFound,
		b.Imported,
		b.Skipped,
		b.Failed,
		b.StartedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (r *batchRepository) FinishBatch(b *models.ImportBatch) error {
	now := time.Now()
	query := `
		UPDATE import_batches
		SET total_found = ?, imported = ?, skipped = ?, failed = ?, finished_at = ?
		WHERE batch_id = ?
	`
	result, err := r.db.Exec(query,
		b.TotalFound,
		b.Imported,
		b.Skipped,
		b.Failed,
		now,
		b.BatchID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrBatchNotFound
	}
	b.FinishedAt = &now
	return nil
}

func (r *batchRepository) GetBatchByBatchID(batchID string) (*models.ImportBatch, error) {
	b := &models.ImportBatch{}
	var finishedAt sql.NullTime
	query := `
		SELECT id, batch_id, company, total_found, imported, skipped, failed, started_at, finished_at
		FROM import_batches
		WHERE batch_id = ?
	`
	err := r.db.QueryRow(query, batchID).Scan(
		&b.ID,
		&b.BatchID,
		&b.Company,
		&b.TotalFound,
		&b.Imported,
		&b.Skipped,
		&b.Failed,
		&b.StartedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		b.FinishedAt = &finishedAt.Time
	}
	return b, nil
}

func (r *batchRepository) InsertBatchError(batchID string, e models.ImportError) error {
	query := `
		INSERT INTO import_errors (batch_id, external_id, message)
		VALUES (?, ?, ?)
	`
	_, err := r.db.Exec(query, batchID, e.ExternalID, e.Message)
	return err
}

func (r *batchRepository) GetBatchErrors(batchID string) ([]models.ImportError, error) {
	query := `
		SELECT external_id, message
		FROM import_errors
		WHERE batch_id = ?
		ORDER BY id
	`
	rows, err := r.db.Query(query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []models.ImportError
	for rows.Next() {
		var e models.ImportError
		if err := rows.Scan(&e.ExternalID, &e.Message); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return errs, nil
}
