package docbuilder

import (
	"github.com/shopspring/decimal"

	"eboekhouden-importer/internal/models"
)

// BuildOpeningBalance folds every opening-balance mutation into a single
// journal entry. Signs follow the account's normal balance side: asset and
// expense accounts book positive amounts as debit, the rest as credit. Any
// residual is absorbed by the configured opening-balance equity account so
// the entry balances to zero.
func (b *Builder) BuildOpeningBalance(mutations []*models.Mutation) (*models.LedgerDocument, error) {
	doc := &models.LedgerDocument{
		Kind:               models.DocJournalEntry,
		Company:            b.company,
		ExternalMutationID: models.OpeningBalanceLinkage,
		Remarks:            "Opening balance import",
	}

	for _, m := range mutations {
		if m.Amount.IsZero() {
			continue
		}
		if doc.PostingDate == "" || m.Date < doc.PostingDate {
			doc.PostingDate = m.Date
		}

		lm, err := b.resolver.Resolve(m.LedgerID)
		if err != nil {
			b.log.Warn().
				Int64("mutation_id", m.ExternalID).
				Str("ledger_id", m.LedgerID).
				Msg("opening balance ledger unmapped, skipping line")
			continue
		}
		// Stock balances cannot be set through a journal entry; the stock
		// subsystem owns them.
		if lm.AccountType == models.AccountStock {
			b.log.Info().
				Str("account", lm.AccountID).
				Msg("skipping stock account in opening balance")
			continue
		}

		line := models.DocumentLine{
			AccountID:   lm.AccountID,
			Description: m.Description,
		}
		abs := m.Amount.Abs()
		positive := m.Amount.IsPositive()
		if lm.RootType.DebitNormal() == positive {
			line.Debit, line.Credit = abs, decimal.Zero
		} else {
			line.Debit, line.Credit = decimal.Zero, abs
		}

		if err := b.attachParty(&line, lm.AccountType, m); err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}

	// Nothing bookable at all: report "no document" rather than failing the
	// balance check on an empty entry.
	if len(doc.Lines) == 0 {
		return nil, nil
	}

	residual := doc.TotalDebit().Sub(doc.TotalCredit())
	if !residual.IsZero() {
		balancing := models.DocumentLine{
			AccountID:   b.accounts.OpeningBalanceEquity,
			Description: "Opening balance residual",
		}
		if residual.IsPositive() {
			balancing.Credit = residual
			balancing.Debit = decimal.Zero
		} else {
			balancing.Debit = residual.Abs()
			balancing.Credit = decimal.Zero
		}
		doc.Lines = append(doc.Lines, balancing)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
