// Package storage defines persistence contracts for the escrow event journal.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound indicates a requested journal record is missing.
var ErrNotFound = errors.New("record not found")

// EventRecord is one committed ledger event as stored in the journal.
// Amounts are base-10 strings so no precision is lost.
type EventRecord struct {
	Seq           int64
	Instance      common.Address
	Kind          string
	Actor         common.Address
	Questioner    common.Address
	QuestionIndex int
	ContentHash   common.Hash
	Asset         string
	Amount        string
	Fee           string
	Attributes    map[string]string
	RecordedAt    time.Time
}

// EventFilter narrows a journal listing. Empty fields match everything.
// FilterClause is a SQL condition over journal columns, as produced by the
// filter package, with FilterParams as its positional arguments.
type EventFilter struct {
	Instance     common.Address
	FilterClause string
	FilterParams []any
}

// EventPage stores one page of journal records in sequence order.
type EventPage struct {
	Events        []EventRecord
	NextPageToken string
}

// EventStore persists the event journal.
type EventStore interface {
	AppendEvent(ctx context.Context, record EventRecord) (int64, error)
	GetEvent(ctx context.Context, seq int64) (EventRecord, error)
	ListEvents(ctx context.Context, filter EventFilter, pageSize int, pageToken string) (EventPage, error)
}
