package repositories

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"eboekhouden-importer/internal/models"
)

// ErrDocumentNotFound is returned when no document carries the linkage.
var ErrDocumentNotFound = errors.New("ledger document not found")

// DocumentRepository persists the four target document kinds. All kinds live
// in one table with a kind column; the unique key on external_mutation_id is
// what makes the dedup guarantee hold across kinds.
type DocumentRepository interface {
	CreateDocument(doc *models.LedgerDocument) error
	InsertDocument(tx *sql.Tx, doc *models.LedgerDocument) error
	ExistsByMutationID(externalMutationID string) (models.DocumentKind, bool, error)
	GetDocumentByMutationID(externalMutationID string) (*models.LedgerDocument, error)
	DeleteByMutationID(tx *sql.Tx, externalMutationID string) error
}

type documentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// CreateDocument inserts the document and its lines and commits. This is the
// "create and commit" operation of the persistence boundary: after it
// returns nil the document is durable. A duplicate-key violation on the
// linkage maps to ErrDuplicateImport; the unique key is what holds the
// dedup guarantee when two runs race past the exists check.
func (r *documentRepository) CreateDocument(doc *models.LedgerDocument) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.InsertDocument(tx, doc); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return models.ErrDuplicateImport
		}
		return err
	}
	return tx.Commit()
}

func (r *documentRepository) InsertDocument(tx *sql.Tx, doc *models.LedgerDocument) error {
	query := `
		INSERT INTO ledger_documents (
			kind, company, posting_date, external_mutation_id,
			party_kind, party_name, invoice_number, is_return, amount, remarks
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.Exec(query,
		doc.Kind,
		doc.Company,
		doc.PostingDate,
		doc.ExternalMutationID,
		string(doc.PartyKind),
		doc.PartyName,
		doc.InvoiceNumber,
		doc.IsReturn,
		doc.Amount,
		doc.Remarks,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = id

	lineQuery := `
		INSERT INTO document_lines (
			document_id, account_id, debit, credit,
			party_kind, party_name, cost_center, description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, line := range doc.Lines {
		_, err := tx.Exec(lineQuery,
			doc.ID,
			line.AccountID,
			line.Debit,
			line.Credit,
			string(line.PartyKind),
			line.PartyName,
			line.CostCenter,
			line.Description,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *documentRepository) ExistsByMutationID(externalMutationID string) (models.DocumentKind, bool, error) {
	var kind models.DocumentKind
	query := `
		SELECT kind
		FROM ledger_documents
		WHERE external_mutation_id = ?
	`
	err := r.db.QueryRow(query, externalMutationID).Scan(&kind)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return kind, true, nil
}

func (r *documentRepository) GetDocumentByMutationID(externalMutationID string) (*models.LedgerDocument, error) {
	doc := &models.LedgerDocument{}
	query := `
		SELECT id, kind, company, posting_date, external_mutation_id,
		       party_kind, party_name, invoice_number, is_return, amount, remarks,
		       created_at
		FROM ledger_documents
		WHERE external_mutation_id = ?
	`
	err := r.db.QueryRow(query, externalMutationID).Scan(
		&doc.ID,
		&doc.Kind,
		&doc.Company,
		&doc.PostingDate,
		&doc.ExternalMutationID,
		&doc.PartyKind,
		&doc.PartyName,
		&doc.InvoiceNumber,
		&doc.IsReturn,
		&doc.Amount,
		&doc.Remarks,
		&doc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	lineQuery := `
		SELECT account_id, debit, credit, party_kind, party_name, cost_center, description
		FROM document_lines
		WHERE document_id = ?
		ORDER BY id
	`
	rows, err := r.db.Query(lineQuery, doc.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line models.DocumentLine
		err := rows.Scan(
			&line.AccountID,
			&line.Debit,
			&line.Credit,
			&line.PartyKind,
			&line.PartyName,
			&line.CostCenter,
			&line.Description,
		)
		if err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepository) DeleteByMutationID(tx *sql.Tx, externalMutationID string) error {
	_, err := tx.Exec(`
		DELETE dl FROM document_lines dl
		JOIN ledger_documents d ON dl.document_id = d.id
		WHERE d.external_mutation_id = ?
	`, externalMutationID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`DELETE FROM ledger_documents WHERE external_mutation_id = ?`, externalMutationID)
	return err
}
