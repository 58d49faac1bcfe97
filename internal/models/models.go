package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MutationType is the numeric mutation kind used by the e-Boekhouden API.
type MutationType int

const (
	MutationOpeningBalance  MutationType = 0
	MutationPurchaseInvoice MutationType = 1
	MutationSalesInvoice    MutationType = 2
	MutationCustomerPayment MutationType = 3
	MutationSupplierPayment MutationType = 4
	MutationMoneyReceived   MutationType = 5
	MutationMoneyPaid       MutationType = 6
	MutationMemorial        MutationType = 7
)

func (t MutationType) String() string {
	switch t {
	case MutationOpeningBalance:
		return "opening_balance"
	case MutationPurchaseInvoice:
		return "purchase_invoice"
	case MutationSalesInvoice:
		return "sales_invoice"
	case MutationCustomerPayment:
		return "customer_payment"
	case MutationSupplierPayment:
		return "supplier_payment"
	case MutationMoneyReceived:
		return "money_received"
	case MutationMoneyPaid:
		return "money_paid"
	case MutationMemorial:
		return "memorial"
	}
	return "unknown"
}

// Known reports whether the type code is one the importer understands.
func (t MutationType) Known() bool {
	return t >= MutationOpeningBalance && t <= MutationMemorial
}

// MutationRow is a single debit/credit row inside a mutation. Amount carries
// the external system's sign convention, which depends on the mutation type.
type MutationRow struct {
	LedgerID    string          `json:"ledger_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// Mutation is an external financial event, immutable once fetched.
type Mutation struct {
	ExternalID    int64           `json:"external_id"`
	Type          MutationType    `json:"type"`
	Date          string          `json:"date"` // YYYY-MM-DD
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	RelationID    string          `json:"relation_id,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	LedgerID      string          `json:"ledger_id,omitempty"` // main ledger code
	Rows          []MutationRow   `json:"rows,omitempty"`
}

// AccountType is the semantic sub-type of a mapped account.
type AccountType string

const (
	AccountReceivable AccountType = "receivable"
	AccountPayable    AccountType = "payable"
	AccountBank       AccountType = "bank"
	AccountCash       AccountType = "cash"
	AccountTax        AccountType = "tax"
	AccountStock      AccountType = "stock"
	AccountIncome     AccountType = "income"
	AccountExpense    AccountType = "expense"
	AccountEquity     AccountType = "equity"
	AccountOther      AccountType = "other"
)

// RootType is the top-level chart-of-accounts classification, used to decide
// the normal balance side for opening balances.
type RootType string

const (
	RootAsset     RootType = "asset"
	RootLiability RootType = "liability"
	RootEquity    RootType = "equity"
	RootIncome    RootType = "income"
	RootExpense   RootType = "expense"
)

// DebitNormal reports whether accounts of this root type carry their balance
// on the debit side.
func (r RootType) DebitNormal() bool {
	return r == RootAsset || r == RootExpense
}

// LedgerMapping maps an external ledger code to a target account.
type LedgerMapping struct {
	ID               int64       `db:"id" json:"id"`
	ExternalLedgerID string      `db:"external_ledger_id" json:"external_ledger_id"`
	AccountID        string      `db:"account_id" json:"account_id"`
	AccountType      AccountType `db:"account_type" json:"account_type"`
	RootType         RootType    `db:"root_type" json:"root_type"`
	CreatedAt        time.Time   `db:"created_at" json:"-"`
}

// PartyKind distinguishes the two party record kinds.
type PartyKind string

const (
	PartyCustomer PartyKind = "Customer"
	PartySupplier PartyKind = "Supplier"
)

// Party is a customer or supplier record, keyed by the external relation id
// when one exists. Generic marks low-confidence records created without
// relation details, for later manual reconciliation.
type Party struct {
	ID                 int64     `db:"id" json:"id"`
	ExternalRelationID string    `db:"external_relation_id" json:"external_relation_id,omitempty"`
	Name               string    `db:"name" json:"name"`
	Kind               PartyKind `db:"kind" json:"kind"`
	Generic            bool      `db:"is_generic" json:"is_generic"`
	CreatedAt          time.Time `db:"created_at" json:"-"`
}

// DocumentKind enumerates the four target document kinds.
type DocumentKind string

const (
	DocJournalEntry    DocumentKind = "journal_entry"
	DocSalesInvoice    DocumentKind = "sales_invoice"
	DocPurchaseInvoice DocumentKind = "purchase_invoice"
	DocPaymentEntry    DocumentKind = "payment_entry"
)

// OpeningBalanceLinkage is the sentinel external id recorded on the opening
// balance journal entry, guarding against a second opening-balance run.
const OpeningBalanceLinkage = "OPENING_BALANCE"

// BalanceEpsilon is the tolerance for the debit/credit balance invariant.
var BalanceEpsilon = decimal.NewFromFloat(0.01)

// DocumentLine is one side of a ledger document.
type DocumentLine struct {
	AccountID   string          `db:"account_id" json:"account_id"`
	Debit       decimal.Decimal `db:"debit" json:"debit"`
	Credit      decimal.Decimal `db:"credit" json:"credit"`
	PartyKind   PartyKind       `db:"party_kind" json:"party_kind,omitempty"`
	PartyName   string          `db:"party_name" json:"party_name,omitempty"`
	CostCenter  string          `db:"cost_center" json:"cost_center,omitempty"`
	Description string          `db:"description" json:"description,omitempty"`
}

// LedgerDocument is a balanced set of lines ready for persistence. The
// external mutation linkage is the dedup key across all four kinds.
type LedgerDocument struct {
	ID                 int64           `db:"id" json:"id"`
	Kind               DocumentKind    `db:"-" json:"kind"`
	Company            string          `db:"company" json:"company"`
	PostingDate        string          `db:"posting_date" json:"posting_date"`
	ExternalMutationID string          `db:"external_mutation_id" json:"external_mutation_id"`
	PartyKind          PartyKind       `db:"party_kind" json:"party_kind,omitempty"`
	PartyName          string          `db:"party_name" json:"party_name,omitempty"`
	InvoiceNumber      string          `db:"invoice_number" json:"invoice_number,omitempty"`
	IsReturn           bool            `db:"is_return" json:"is_return,omitempty"`
	Amount             decimal.Decimal `db:"amount" json:"amount"`
	Remarks            string          `db:"remarks" json:"remarks,omitempty"`
	Lines              []DocumentLine  `db:"-" json:"lines"`
	CreatedAt          time.Time       `db:"created_at" json:"-"`
}

// TotalDebit sums the debit side of all lines.
func (d *LedgerDocument) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums the credit side of all lines.
func (d *LedgerDocument) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// Validate enforces the document-level invariants before persistence is
// attempted. An unbalanced document is never persisted.
func (d *LedgerDocument) Validate() error {
	if len(d.Lines) == 0 {
		return &BalanceError{
			ExternalMutationID: d.ExternalMutationID,
			Detail:             "document has no lines",
		}
	}
	for _, l := range d.Lines {
		if l.Debit.IsZero() && l.Credit.IsZero() {
			return &BalanceError{
				ExternalMutationID: d.ExternalMutationID,
				Detail:             "line with zero debit and zero credit on account " + l.AccountID,
			}
		}
	}
	debit := d.TotalDebit()
	credit := d.TotalCredit()
	if debit.Sub(credit).Abs().GreaterThan(BalanceEpsilon) {
		return &BalanceError{
			ExternalMutationID: d.ExternalMutationID,
			Debit:              debit,
			Credit:             credit,
		}
	}
	return nil
}

// ImportError records a single failed mutation within a batch.
type ImportError struct {
	ExternalID int64  `json:"external_id"`
	Message    string `json:"message"`
}

// ImportBatchResult aggregates the outcome of one importer run.
type ImportBatchResult struct {
	BatchID    string        `json:"batch_id"`
	Company    string        `json:"company"`
	TotalFound int           `json:"total_found"`
	Imported   int           `json:"imported"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Errors     []ImportError `json:"errors,omitempty"`
}

// ImportBatch is the persisted record of an importer run.
type ImportBatch struct {
	ID         int64      `db:"id" json:"id"`
	BatchID    string     `db:"batch_id" json:"batch_id"`
	Company    string     `db:"company" json:"company"`
	TotalFound int        `db:"total_found" json:"total_found"`
	Imported   int        `db:"imported" json:"imported"`
	Skipped    int        `db:"skipped" json:"skipped"`
	Failed     int        `db:"failed" json:"failed"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// CachedMutation is the staging-table form of a fetched mutation. Payloads
// are write-once: a cached mutation is never updated, only deleted by an
// explicit force-reimport.
type CachedMutation struct {
	ExternalID    int64           `db:"external_id"`
	Type          MutationType    `db:"mutation_type"`
	Date          string          `db:"mutation_date"`
	Description   string          `db:"description"`
	Amount        decimal.Decimal `db:"amount"`
	RelationID    string          `db:"relation_id"`
	InvoiceNumber string          `db:"invoice_number"`
	LedgerID      string          `db:"ledger_id"`
	RowsJSON      json.RawMessage `db:"rows_json"`
	FetchedAt     time.Time       `db:"fetched_at"`
}

// ToMutation rehydrates the strongly-typed mutation from the cache row.
func (c *CachedMutation) ToMutation() (*Mutation, error) {
	m := &Mutation{
		ExternalID:    c.ExternalID,
		Type:          c.Type,
		Date:          c.Date,
		Description:   c.Description,
		Amount:        c.Amount,
		RelationID:    c.RelationID,
		InvoiceNumber: c.InvoiceNumber,
		LedgerID:      c.LedgerID,
	}
	if len(c.RowsJSON) > 0 {
		if err := json.Unmarshal(c.RowsJSON, &m.Rows); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewCachedMutation flattens a mutation into its staging-table form.
func NewCachedMutation(m *Mutation) (*CachedMutation, error) {
	rows, err := json.Marshal(m.Rows)
	if err != nil {
		return nil, err
	}
	return &CachedMutation{
		ExternalID:    m.ExternalID,
		Type:          m.Type,
		Date:          m.Date,
		Description:   m.Description,
		Amount:        m.Amount,
		RelationID:    m.RelationID,
		InvoiceNumber: m.InvoiceNumber,
		LedgerID:      m.LedgerID,
		RowsJSON:      rows,
	}, nil
}

// UnprocessedMutation is one row of the diagnostic export: a cached mutation
// that has no linkage in any of the four document kinds.
type UnprocessedMutation struct {
	MutationID    int64           `json:"mutation_id"`
	Type          string          `json:"type"`
	Date          string          `json:"date"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	RelationID    string          `json:"relation_id,omitempty"`
	LedgerID      string          `json:"ledger_id,omitempty"`
	Issues        string          `json:"issues,omitempty"`
}
