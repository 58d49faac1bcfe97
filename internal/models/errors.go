package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMappingNotFound signals that an external ledger code has no account
// mapping. Recoverable for row-level lookups, fatal for the main ledger of a
// paired transfer.
var ErrMappingNotFound = errors.New("ledger mapping not found")

// ErrDuplicateImport is a control signal, not a failure: the mutation already
// has a linked document and must not be reprocessed.
var ErrDuplicateImport = errors.New("mutation already imported")

// BalanceError is raised when a constructed document violates the
// double-entry invariant. Always fatal for that mutation.
type BalanceError struct {
	ExternalMutationID string
	Debit              decimal.Decimal
	Credit             decimal.Decimal
	Detail             string
}

func (e *BalanceError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unbalanced document %s: %s", e.ExternalMutationID, e.Detail)
	}
	return fmt.Sprintf("unbalanced document %s: debit %s != credit %s",
		e.ExternalMutationID, e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

// FetchError wraps a network or timeout failure talking to the external
// source. Recoverable by retrying that single item.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistError wraps a store-level rejection of a document. Fatal for that
// mutation, the batch continues.
type PersistError struct {
	Kind DocumentKind
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
