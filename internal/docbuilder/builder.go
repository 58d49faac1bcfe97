// Package docbuilder constructs balanced ledger documents from classified
// mutations. Builders never persist; they hand a validated document back to
// the importer.
package docbuilder

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"eboekhouden-importer/internal/classify"
	"eboekhouden-importer/internal/config"
	"eboekhouden-importer/internal/mapping"
	"eboekhouden-importer/internal/models"
	"eboekhouden-importer/internal/party"
)

type Builder struct {
	resolver *mapping.Resolver
	parties  *party.Resolver
	accounts config.AccountsConfig
	company  string
	log      zerolog.Logger
}

func NewBuilder(
	resolver *mapping.Resolver,
	parties *party.Resolver,
	accounts config.AccountsConfig,
	company string,
	log zerolog.Logger,
) *Builder {
	return &Builder{
		resolver: resolver,
		parties:  parties,
		accounts: accounts,
		company:  company,
		log:      log,
	}
}

// Build constructs the document for a classified mutation. Every returned
// document has passed Validate; an unbalanced construction is an error, not
// a document.
func (b *Builder) Build(m *models.Mutation, shape classify.Shape) (*models.LedgerDocument, error) {
	var doc *models.LedgerDocument
	var err error

	switch shape {
	case classify.ShapeSimpleSalesInvoice:
		doc, err = b.buildSalesInvoice(m)
	case classify.ShapeSimplePurchaseInvoice:
		doc, err = b.buildPurchaseInvoice(m, false)
	case classify.ShapePurchaseDebitNote:
		doc, err = b.buildPurchaseInvoice(m, true)
	case classify.ShapePaymentReceive:
		doc, err = b.buildPayment(m, true)
	case classify.ShapePaymentPay:
		doc, err = b.buildPayment(m, false)
	case classify.ShapePairedTransfer:
		doc, err = b.buildPairedTransfer(m)
	case classify.ShapeGenericMultiLine:
		doc, err = b.buildGeneric(m)
	default:
		return nil, fmt.Errorf("no builder for shape %q", shape)
	}
	if err != nil {
		return nil, err
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *Builder) buildSalesInvoice(m *models.Mutation) (*models.LedgerDocument, error) {
	customer, err := b.parties.ResolveOrCreate(m.RelationID, models.PartyCustomer, m.Description)
	if err != nil {
		return nil, err
	}

	incomeAccount := b.revenueAccount(m)
	amount := m.Amount.Abs()

	doc := b.newDocument(m, models.DocSalesInvoice)
	doc.PartyKind = models.PartyCustomer
	doc.PartyName = customer.Name
	doc.Amount = amount
	doc.Lines = []models.DocumentLine{
		{
			AccountID:   b.accounts.Receivable,
			Debit:       amount,
			Credit:      decimal.Zero,
			PartyKind:   models.PartyCustomer,
			PartyName:   customer.Name,
			Description: m.Description,
		},
		{
			AccountID:   incomeAccount,
			Debit:       decimal.Zero,
			Credit:      amount,
			Description: m.Description,
		},
	}
	return doc, nil
}

func (b *Builder) buildPurchaseInvoice(m *models.Mutation, isReturn bool) (*models.LedgerDocument, error) {
	supplier, err := b.parties.ResolveOrCreate(m.RelationID, models.PartySupplier, m.Description)
	if err != nil {
		return nil, err
	}

	expenseAccount := b.expenseAccount(m)
	amount := m.Amount.Abs()

	doc := b.newDocument(m, models.DocPurchaseInvoice)
	doc.PartyKind = models.PartySupplier
	doc.PartyName = supplier.Name
	doc.Amount = amount
	doc.IsReturn = isReturn

	expenseLine := models.DocumentLine{
		AccountID:   expenseAccount,
		Debit:       amount,
		Credit:      decimal.Zero,
		Description: m.Description,
	}
	payableLine := models.DocumentLine{
		AccountID:   b.accounts.Payable,
		Debit:       decimal.Zero,
		Credit:      amount,
		PartyKind:   models.PartySupplier,
		PartyName:   supplier.Name,
		Description: m.Description,
	}
	if isReturn {
		// A debit note reverses the invoice: the payable is relieved and the
		// expense is credited back.
		expenseLine.Debit, expenseLine.Credit = decimal.Zero, amount
		payableLine.Debit, payableLine.Credit = amount, decimal.Zero
	}
	doc.Lines = []models.DocumentLine{expenseLine, payableLine}
	return doc, nil
}

func (b *Builder) buildPayment(m *models.Mutation, receive bool) (*models.LedgerDocument, error) {
	kind := models.PartySupplier
	if receive {
		kind = models.PartyCustomer
	}
	p, err := b.parties.ResolveOrCreate(m.RelationID, kind, m.Description)
	if err != nil {
		return nil, err
	}

	cashAccount := b.cashAccount(m)
	amount := m.Amount.Abs()

	doc := b.newDocument(m, models.DocPaymentEntry)
	doc.PartyKind = kind
	doc.PartyName = p.Name
	doc.Amount = amount

	if receive {
		doc.Lines = []models.DocumentLine{
			{
				AccountID:   cashAccount,
				Debit:       amount,
				Credit:      decimal.Zero,
				Description: m.Description,
			},
			{
				AccountID:   b.accounts.Receivable,
				Debit:       decimal.Zero,
				Credit:      amount,
				PartyKind:   kind,
				PartyName:   p.Name,
				Description: m.Description,
			},
		}
	} else {
		doc.Lines = []models.DocumentLine{
			{
				AccountID:   b.accounts.Payable,
				Debit:       amount,
				Credit:      decimal.Zero,
				PartyKind:   kind,
				PartyName:   p.Name,
				Description: m.Description,
			},
			{
				AccountID:   cashAccount,
				Debit:       decimal.Zero,
				Credit:      amount,
				Description: m.Description,
			},
		}
	}
	return doc, nil
}

// buildPairedTransfer builds a memorial booking as independent transfers
// against the main ledger: each non-zero row yields two lines. Positive row
// amount means the main account is debited and the row account credited;
// a negative amount inverts the flow.
func (b *Builder) buildPairedTransfer(m *models.Mutation) (*models.LedgerDocument, error) {
	main, err := b.resolver.Resolve(m.LedgerID)
	if err != nil {
		// A memorial booking without a resolvable main account cannot be
		// balanced meaningfully.
		return nil, fmt.Errorf("main ledger %q for memorial %d: %w", m.LedgerID, m.ExternalID, models.ErrMappingNotFound)
	}

	doc := b.newDocument(m, models.DocJournalEntry)
	doc.Amount = m.Amount.Abs()

	for _, row := range m.Rows {
		if row.Amount.IsZero() {
			continue
		}
		rowMapping := b.rowMapping(m, row)
		abs := row.Amount.Abs()
		desc := row.Description
		if desc == "" {
			desc = m.Description
		}

		mainLine := models.DocumentLine{AccountID: main.AccountID, Description: desc}
		rowLine := models.DocumentLine{AccountID: rowMapping.AccountID, Description: desc}
		if row.Amount.IsPositive() {
			mainLine.Debit, mainLine.Credit = abs, decimal.Zero
			rowLine.Debit, rowLine.Credit = decimal.Zero, abs
		} else {
			mainLine.Debit, mainLine.Credit = decimal.Zero, abs
			rowLine.Debit, rowLine.Credit = abs, decimal.Zero
		}

		if err := b.attachParty(&mainLine, main.AccountType, m); err != nil {
			return nil, err
		}
		if err := b.attachParty(&rowLine, rowMapping.AccountType, m); err != nil {
			return nil, err
		}

		doc.Lines = append(doc.Lines, mainLine, rowLine)
	}

	return doc, nil
}

// buildGeneric emits one line per non-zero row with its natural sign and one
// balancing line against the configured suspense account for the residual.
func (b *Builder) buildGeneric(m *models.Mutation) (*models.LedgerDocument, error) {
	rows := m.Rows
	if len(rows) == 0 {
		// Amount-only mutation: treat the header as its single row.
		rows = []models.MutationRow{{LedgerID: m.LedgerID, Amount: m.Amount, Description: m.Description}}
	}

	doc := b.newDocument(m, models.DocJournalEntry)
	doc.Amount = m.Amount.Abs()

	for _, row := range rows {
		if row.Amount.IsZero() {
			continue
		}
		rowMapping := b.rowMapping(m, row)
		desc := row.Description
		if desc == "" {
			desc = m.Description
		}

		line := models.DocumentLine{AccountID: rowMapping.AccountID, Description: desc}
		if row.Amount.IsPositive() {
			line.Debit = row.Amount
			line.Credit = decimal.Zero
		} else {
			line.Debit = decimal.Zero
			line.Credit = row.Amount.Abs()
		}
		if err := b.attachParty(&line, rowMapping.AccountType, m); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}

	residual := doc.TotalDebit().Sub(doc.TotalCredit())
	if residual.Abs().GreaterThan(models.BalanceEpsilon) {
		suspense := models.DocumentLine{
			AccountID:   b.accounts.Suspense,
			Description: m.Description,
		}
		if residual.IsPositive() {
			suspense.Credit = residual
			suspense.Debit = decimal.Zero
		} else {
			suspense.Debit = residual.Abs()
			suspense.Credit = decimal.Zero
		}
		doc.Lines = append(doc.Lines, suspense)
	}

	return doc, nil
}

func (b *Builder) newDocument(m *models.Mutation, kind models.DocumentKind) *models.LedgerDocument {
	return &models.LedgerDocument{
		Kind:               kind,
		Company:            b.company,
		PostingDate:        m.Date,
		ExternalMutationID: strconv.FormatInt(m.ExternalID, 10),
		InvoiceNumber:      m.InvoiceNumber,
		Remarks:            m.Description,
	}
}

// rowMapping resolves a row ledger, degrading to the configured fallback
// expense account when the code is unmapped. Recoverable: the document is
// still created, with a warning for later triage.
func (b *Builder) rowMapping(m *models.Mutation, row models.MutationRow) *models.LedgerMapping {
	lm, err := b.resolver.Resolve(row.LedgerID)
	if err != nil {
		b.log.Warn().
			Int64("mutation_id", m.ExternalID).
			Str("ledger_id", row.LedgerID).
			Str("fallback", b.accounts.FallbackExpense).
			Msg("row ledger unmapped, using fallback account")
		return &models.LedgerMapping{
			AccountID:   b.accounts.FallbackExpense,
			AccountType: models.AccountExpense,
			RootType:    models.RootExpense,
		}
	}
	return lm
}

// attachParty sets a party reference on lines touching receivable or payable
// accounts, which the store requires.
func (b *Builder) attachParty(line *models.DocumentLine, accountType models.AccountType, m *models.Mutation) error {
	var kind models.PartyKind
	switch accountType {
	case models.AccountReceivable:
		kind = models.PartyCustomer
	case models.AccountPayable:
		kind = models.PartySupplier
	default:
		return nil
	}

	p, err := b.parties.ResolveOrCreate(m.RelationID, kind, m.Description)
	if err != nil {
		return err
	}
	line.PartyKind = kind
	line.PartyName = p.Name
	return nil
}

// revenueAccount picks the income account for a sales invoice: the first row
// ledger if present, otherwise the main ledger, degrading to suspense.
func (b *Builder) revenueAccount(m *models.Mutation) string {
	for _, row := range m.Rows {
		if lm, err := b.resolver.Resolve(row.LedgerID); err == nil {
			return lm.AccountID
		}
	}
	if lm, err := b.resolver.Resolve(m.LedgerID); err == nil {
		return lm.AccountID
	}
	b.log.Warn().Int64("mutation_id", m.ExternalID).
		Msg("no mapped income account for sales invoice, using suspense")
	return b.accounts.Suspense
}

// expenseAccount picks the expense account for a purchase invoice.
func (b *Builder) expenseAccount(m *models.Mutation) string {
	for _, row := range m.Rows {
		if lm, err := b.resolver.Resolve(row.LedgerID); err == nil {
			return lm.AccountID
		}
	}
	if lm, err := b.resolver.Resolve(m.LedgerID); err == nil {
		return lm.AccountID
	}
	b.log.Warn().Int64("mutation_id", m.ExternalID).
		Msg("no mapped expense account for purchase invoice, using fallback")
	return b.accounts.FallbackExpense
}

// cashAccount resolves the bank or cash side of a payment from the main
// ledger, degrading to the configured default.
func (b *Builder) cashAccount(m *models.Mutation) string {
	if lm, err := b.resolver.Resolve(m.LedgerID); err == nil {
		return lm.AccountID
	}
	b.log.Warn().Int64("mutation_id", m.ExternalID).
		Str("default", b.accounts.DefaultCash).
		Msg("payment ledger unmapped, using default cash account")
	return b.accounts.DefaultCash
}
