// Package store defines the persistence adapter shared by every backend.
// Values are JSON documents; ordered per-user history lives in sorted
// indexes supporting most-recent-N retrieval and retention trimming.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Store is implemented by the file, Redis and Postgres backends. All three
// are exercised by the same conformance suite; service code never depends
// on which one is wired in.
//
// Index semantics: members are ordered by score (write timestamps in
// practice), IndexRange returns highest-score-first, IndexTrim keeps the
// keep highest-scored members. TTLs are advisory: the file backend ignores
// them by design, per its single-process low-scale charter.
type Store interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	IndexAdd(ctx context.Context, index, member string, score int64) error
	IndexRemove(ctx context.Context, index, member string) error
	IndexRange(ctx context.Context, index string, limit int) ([]string, error)
	IndexTrim(ctx context.Context, index string, keep int) error
	IndexExpire(ctx context.Context, index string, ttl time.Duration) error

	// Apply executes a batch as one atomic unit where the backend supports
	// it (MULTI/EXEC on Redis, sql.Tx on Postgres). The file backend applies
	// it under a single writer lock with the ledger tables written first.
	Apply(ctx context.Context, b *Batch) error

	Close() error
}

type OpKind int

const (
	OpSet OpKind = iota
	OpSetTTL
	OpDelete
	OpIndexAdd
	OpIndexRemove
	OpIndexTrim
	OpIndexExpire
)

type Op struct {
	Kind   OpKind
	Key    string
	Value  any
	TTL    time.Duration
	Index  string
	Member string
	Score  int64
	Keep   int
}

// Batch accumulates ops for Store.Apply. Ops run in insertion order.
type Batch struct {
	Ops []Op
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Set(key string, value any) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpSet, Key: key, Value: value})
	return b
}

func (b *Batch) SetTTL(key string, value any, ttl time.Duration) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpSetTTL, Key: key, Value: value, TTL: ttl})
	return b
}

func (b *Batch) Delete(key string) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpDelete, Key: key})
	return b
}

func (b *Batch) IndexAdd(index, member string, score int64) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpIndexAdd, Index: index, Member: member, Score: score})
	return b
}

func (b *Batch) IndexRemove(index, member string) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpIndexRemove, Index: index, Member: member})
	return b
}

func (b *Batch) IndexTrim(index string, keep int) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpIndexTrim, Index: index, Keep: keep})
	return b
}

func (b *Batch) IndexExpire(index string, ttl time.Duration) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpIndexExpire, Index: index, TTL: ttl})
	return b
}
