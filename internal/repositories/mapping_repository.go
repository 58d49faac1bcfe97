package repositories

import (
	"database/sql"

	"eboekhouden-importer/internal/models"
)

type MappingRepository interface {
	GetAllMappings() ([]*models.LedgerMapping, error)
	GetMappingByLedgerID(externalLedgerID string) (*models.LedgerMapping, error)
	InsertMapping(m *models.LedgerMapping) error
}

type mappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) GetAllMappings() ([]*models.LedgerMapping, error) {
	query := `
		SELECT id, external_ledger_id, account_id, account_type, root_type, created_at
		FROM ledger_mappings
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*models.LedgerMapping
	for rows.Next() {
		m := &models.LedgerMapping{}
		err := rows.Scan(
			&m.ID,
			&m.ExternalLedgerID,
			&m.AccountID,
			&m.AccountType,
			&m.RootType,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *mappingRepository) GetMappingByLedgerID(externalLedgerID string) (*models.LedgerMapping, error) {
	m := &models.LedgerMapping{}
	query := `
		SELECT id, external_ledger_id, account_id, account_type, root_type, created_at
		FROM ledger_mappings
		WHERE external_ledger_id = ?
	`
	err := r.db.QueryRow(query, externalLedgerID).Scan(
		&m.ID,
		&m.ExternalLedgerID,
		&m.AccountID,
		&m.AccountType,
		&m.RootType,
		&m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrMappingNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *mappingRepository) InsertMapping(m *models.LedgerMapping) error {
	query := `
		INSERT INTO ledger_mappings (external_ledger_id, account_id, account_type, root_type)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		m.ExternalLedgerID,
		m.AccountID,
		m.AccountType,
		m.RootType,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}
