// Package lode archives dispatched claims to a Lode dataset.
//
// Records are Hive-partitioned by league, day and outcome and encoded as
// JSONL. Storage failures are classified (see errors.go) so callers can
// branch on errors.Is without string matching.
package lode

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "livewatch"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"league", "day", "outcome"}

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("archive closed")

// Archive writes claim records to a Lode dataset. Safe for concurrent use;
// writes are serialized.
type Archive struct {
	dataset lode.Dataset
	backend string

	mu     sync.Mutex
	closed bool
}

// NewDataset creates the claims Dataset over factory.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// New creates an Archive over factory. backend labels the storage for
// logs ("fs", "s3", "memory").
func New(dataset, backend string, factory lode.StoreFactory) (*Archive, error) {
	ds, err := NewDataset(dataset, factory)
	if err != nil {
		return nil, err
	}
	return &Archive{dataset: ds, backend: backend}, nil
}

// NewFS creates an Archive on the local filesystem under root.
func NewFS(dataset, root string) (*Archive, error) {
	return New(dataset, "fs", lode.NewFSFactory(root))
}

// NewMemory creates an in-memory Archive.
func NewMemory(dataset string) (*Archive, error) {
	return New(dataset, "memory", lode.NewMemoryFactory())
}

// Backend returns the storage label.
func (a *Archive) Backend() string { return a.backend }

// Dataset returns the underlying dataset for queries.
func (a *Archive) Dataset() lode.Dataset { return a.dataset }

// Write stores records as one snapshot.
func (a *Archive) Write(ctx context.Context, records ...ClaimRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.toMap())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if _, err := a.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return WrapWriteError(err, string(a.dataset.ID()))
	}
	return nil
}

// Close marks the archive closed. The dataset needs no explicit close.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
