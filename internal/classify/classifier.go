// Package classify decides which document shape to build for a mutation.
// Classification is a pure decision; construction lives in docbuilder.
package classify

import (
	"eboekhouden-importer/internal/mapping"
	"eboekhouden-importer/internal/models"
)

// Shape is the document shape a mutation maps to.
type Shape string

const (
	ShapeSkip                  Shape = "skip"
	ShapeSimpleSalesInvoice    Shape = "simple_sales_invoice"
	ShapeSimplePurchaseInvoice Shape = "simple_purchase_invoice"
	ShapePaymentReceive        Shape = "payment_receive"
	ShapePaymentPay            Shape = "payment_pay"
	ShapePurchaseDebitNote     Shape = "purchase_debit_note"
	ShapePairedTransfer        Shape = "paired_transfer"
	ShapeGenericMultiLine      Shape = "generic_multi_line"
)

// Classifier inspects a mutation and picks exactly one shape. Rules are
// evaluated in order, first match wins; there is no scoring.
type Classifier struct {
	resolver *mapping.Resolver
}

func NewClassifier(resolver *mapping.Resolver) *Classifier {
	return &Classifier{resolver: resolver}
}

// Classify is total: every mutation with a known type maps to exactly one
// shape. Dedup against already-imported mutations happens in the importer
// before classification, not here.
func (c *Classifier) Classify(m *models.Mutation) Shape {
	// Opening balances go through their own once-per-migration path.
	if m.Type == models.MutationOpeningBalance {
		return ShapeSkip
	}

	if m.Amount.IsZero() && len(m.Rows) == 0 {
		return ShapeSkip
	}

	switch m.Type {
	case models.MutationSalesInvoice:
		return ShapeSimpleSalesInvoice
	case models.MutationPurchaseInvoice:
		return ShapeSimplePurchaseInvoice
	case models.MutationCustomerPayment:
		return ShapePaymentReceive
	case models.MutationSupplierPayment:
		return ShapePaymentPay
	}

	if m.Type == models.MutationMemorial {
		if c.isPurchaseDebitNote(m) {
			return ShapePurchaseDebitNote
		}
		if len(m.Rows) > 1 {
			return ShapePairedTransfer
		}
	}

	return ShapeGenericMultiLine
}

// isPurchaseDebitNote matches the narrow memorial carve-out: a single-row
// correction against an expense account with a known relation, imported as a
// purchase return. If saving that shape fails, the importer retries the
// mutation as a generic entry instead of aborting it.
func (c *Classifier) isPurchaseDebitNote(m *models.Mutation) bool {
	if len(m.Rows) != 1 || m.RelationID == "" {
		return false
	}
	row := m.Rows[0]
	if !row.Amount.IsPositive() {
		return false
	}
	lm, err := c.resolver.Resolve(row.LedgerID)
	if err != nil {
		return false
	}
	return lm.AccountType == models.AccountExpense
}
