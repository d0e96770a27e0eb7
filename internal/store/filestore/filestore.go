// Package filestore is the single-process backend: one JSON document per
// table, fully loaded at startup and rewritten on every mutation. Low-scale
// by charter; TTLs are ignored and durability is temp-file + rename.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stellune/credits-service/internal/store"
)

const indexTable = "idx"

type indexEntry struct {
	Member string `json:"member"`
	Score  int64  `json:"score"`
}

type Store struct {
	dir string

	mu      sync.Mutex
	tables  map[string]map[string]json.RawMessage
	indexes map[string][]indexEntry
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	s := &Store{
		dir:     dir,
		tables:  make(map[string]map[string]json.RawMessage),
		indexes: make(map[string][]indexEntry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	slog.Info("file store opened", "dir", dir, "tables", len(s.tables))
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read data dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		table := strings.TrimSuffix(name, ".json")
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read table %s: %w", table, err)
		}
		if table == indexTable {
			if err := json.Unmarshal(raw, &s.indexes); err != nil {
				return fmt.Errorf("failed to decode index table: %w", err)
			}
			continue
		}
		doc := make(map[string]json.RawMessage)
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to decode table %s: %w", table, err)
		}
		s.tables[table] = doc
	}
	return nil
}

// tableOf maps a key to its table document, the segment before the first
// colon.
func tableOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// persist rewrites the given tables, ledger tables first so a crash between
// writes leaves the transaction log at least as fresh as the balance it
// derives.
func (s *Store) persist(dirty map[string]bool) error {
	names := make([]string, 0, len(dirty))
	for t := range dirty {
		names = append(names, t)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == "transaction") != (names[j] == "transaction") {
			return names[i] == "transaction"
		}
		return names[i] < names[j]
	})
	for _, table := range names {
		var doc any
		if table == indexTable {
			doc = s.indexes
		} else {
			doc = s.tables[table]
		}
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode table %s: %w", table, err)
		}
		path := filepath.Join(s.dir, table+".json")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return fmt.Errorf("failed to write table %s: %w", table, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("failed to replace table %s: %w", table, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.tables[tableOf(key)]
	if !ok {
		return store.ErrNotFound
	}
	raw, ok := doc[key]
	if !ok {
		return store.ErrNotFound
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.Apply(ctx, store.NewBatch().Set(key, value))
}

// SetTTL behaves as Set; the file backend has no expiry.
func (s *Store) SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	return s.Set(ctx, key, value)
}

func (s *Store) set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	table := tableOf(key)
	doc, ok := s.tables[table]
	if !ok {
		doc = make(map[string]json.RawMessage)
		s.tables[table] = doc
	}
	doc[key] = raw
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Apply(ctx, store.NewBatch().Delete(key))
}

func (s *Store) IndexAdd(ctx context.Context, index, member string, score int64) error {
	return s.Apply(ctx, store.NewBatch().IndexAdd(index, member, score))
}

func (s *Store) indexAdd(index, member string, score int64) {
	entries := s.indexes[index]
	for i := range entries {
		if entries[i].Member == member {
			entries[i].Score = score
			s.sortIndex(index, entries)
			return
		}
	}
	entries = append(entries, indexEntry{Member: member, Score: score})
	s.sortIndex(index, entries)
}

// sortIndex keeps entries ordered highest score first so range and trim are
// straight slicing.
func (s *Store) sortIndex(index string, entries []indexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	s.indexes[index] = entries
}

func (s *Store) IndexRemove(ctx context.Context, index, member string) error {
	return s.Apply(ctx, store.NewBatch().IndexRemove(index, member))
}

func (s *Store) indexRemove(index, member string) {
	entries := s.indexes[index]
	for i := range entries {
		if entries[i].Member == member {
			s.indexes[index] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

func (s *Store) IndexRange(ctx context.Context, index string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.indexes[index]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	members := make([]string, 0, limit)
	for _, e := range entries[:limit] {
		members = append(members, e.Member)
	}
	return members, nil
}

func (s *Store) IndexTrim(ctx context.Context, index string, keep int) error {
	return s.Apply(ctx, store.NewBatch().IndexTrim(index, keep))
}

func (s *Store) indexTrim(index string, keep int) {
	if entries := s.indexes[index]; keep >= 0 && len(entries) > keep {
		s.indexes[index] = entries[:keep]
	}
}

// IndexExpire is a no-op; the file backend has no expiry.
func (s *Store) IndexExpire(ctx context.Context, index string, ttl time.Duration) error {
	return nil
}

// Apply runs the batch under the single writer lock and rewrites every
// touched table once. The touched state is snapshotted first and restored
// when any op or the persist fails, so a failed batch is never observable
// through Get or IndexRange. Crash atomicity across tables is best-effort,
// see persist.
func (s *Store) Apply(ctx context.Context, b *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restore := s.stage(b)
	dirty := make(map[string]bool)
	for _, op := range b.Ops {
		switch op.Kind {
		case store.OpSet, store.OpSetTTL:
			if err := s.set(op.Key, op.Value); err != nil {
				restore()
				return err
			}
			dirty[tableOf(op.Key)] = true
		case store.OpDelete:
			if doc, ok := s.tables[tableOf(op.Key)]; ok {
				delete(doc, op.Key)
			}
			dirty[tableOf(op.Key)] = true
		case store.OpIndexAdd:
			s.indexAdd(op.Index, op.Member, op.Score)
			dirty[indexTable] = true
		case store.OpIndexRemove:
			s.indexRemove(op.Index, op.Member)
			dirty[indexTable] = true
		case store.OpIndexTrim:
			s.indexTrim(op.Index, op.Keep)
			dirty[indexTable] = true
		case store.OpIndexExpire:
			// no expiry in this backend
		}
	}
	if err := s.persist(dirty); err != nil {
		restore()
		return err
	}
	return nil
}

// stage copies every table document and index slice the batch will touch and
// returns a func that puts the copies back. Caller holds s.mu.
func (s *Store) stage(b *store.Batch) func() {
	savedTables := make(map[string]map[string]json.RawMessage)
	savedIndexes := make(map[string][]indexEntry)
	for _, op := range b.Ops {
		switch op.Kind {
		case store.OpSet, store.OpSetTTL, store.OpDelete:
			table := tableOf(op.Key)
			if _, seen := savedTables[table]; !seen {
				savedTables[table] = copyDoc(s.tables[table])
			}
		case store.OpIndexAdd, store.OpIndexRemove, store.OpIndexTrim:
			if _, seen := savedIndexes[op.Index]; !seen {
				savedIndexes[op.Index] = append([]indexEntry(nil), s.indexes[op.Index]...)
			}
		}
	}
	return func() {
		for table, doc := range savedTables {
			if doc == nil {
				delete(s.tables, table)
			} else {
				s.tables[table] = doc
			}
		}
		for index, entries := range savedIndexes {
			if entries == nil {
				delete(s.indexes, index)
			} else {
				s.indexes[index] = entries
			}
		}
	}
}

func copyDoc(doc map[string]json.RawMessage) map[string]json.RawMessage {
	if doc == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (s *Store) Close() error { return nil }
