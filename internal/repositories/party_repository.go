package repositories

import (
	"database/sql"
	"errors"

	"eboekhouden-importer/internal/models"
)

// ErrPartyNotFound is returned when no party matches the lookup key.
var ErrPartyNotFound = errors.New("party not found")

type PartyRepository interface {
	GetPartyByRelationID(relationID string, kind models.PartyKind) (*models.Party, error)
	GetPartyByName(name string, kind models.PartyKind) (*models.Party, error)
	InsertParty(p *models.Party) error
}

type partyRepository struct {
	db *sql.DB
}

func NewPartyRepository(db *sql.DB) PartyRepository {
	return &partyRepository{db: db}
}

func (r *partyRepository) GetPartyByRelationID(relationID string, kind models.PartyKind) (*models.Party, error) {
	p := &models.Party{}
	query := `
		SELECT id, external_relation_id, name, kind, is_generic, created_at
		FROM parties
		WHERE external_relation_id = ? AND kind = ?
	`
	err := r.db.QueryRow(query, relationID, kind).Scan(
		&p.ID,
		&p.ExternalRelationID,
		&p.Name,
		&p.Kind,
		&p.Generic,
		&p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPartyNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *partyRepository) GetPartyByName(name string, kind models.PartyKind) (*models.Party, error) {
	p := &models.Party{}
	query := `
		SELECT id, external_relation_id, name, kind, is_generic, created_at
		FROM parties
		WHERE name = ? AND kind = ?
	`
	err := r.db.QueryRow(query, name, kind).Scan(
		&p.ID,
		&p.ExternalRelationID,
		&p.Name,
		&p.Kind,
		&p.Generic,
		&p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPartyNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *partyRepository) InsertParty(p *models.Party) error {
	query := `
		INSERT INTO parties (external_relation_id, name, kind, is_generic)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		p.ExternalRelationID,
		p.Name,
		p.Kind,
		p.Generic,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}
