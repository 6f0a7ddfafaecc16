// Package store keeps the transcription history in an embedded BadgerDB.
//
// Records are msgpack-encoded under "rec/<id>" where id is a big-endian
// uint64 from a badger sequence, so key order is insertion order and
// newest-first listing is a reverse prefix scan.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no record has the requested ID.
var ErrNotFound = errors.New("store: record not found")

var (
	recordPrefix = []byte("rec/")
	sequenceKey  = []byte("seq/rec")
)

// Record is one stored transcription.
type Record struct {
	ID              uint64    `msgpack:"id"`
	CreatedAt       time.Time `msgpack:"created_at"`
	Text            string    `msgpack:"text"`
	DurationSeconds float64   `msgpack:"duration_seconds"`
	Language        string    `msgpack:"language,omitempty"`
	ModelName       string    `msgpack:"model_name,omitempty"`
	// SegmentsJSON holds the timed sub-segments as a JSON array, if any.
	SegmentsJSON string `msgpack:"segments_json,omitempty"`
}

// Page is a window over the history, newest first.
type Page struct {
	Entries    []Record
	TotalCount int
	HasMore    bool
}

// Options configures the store.
type Options struct {
	// Dir is the BadgerDB data directory. Required unless InMemory.
	Dir string

	// InMemory runs without disk persistence. Used by tests.
	InMemory bool

	Logger zerolog.Logger
}

// Badger is the history store.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	log zerolog.Logger
	now func() time.Time
}

// Open opens (or creates) the history database.
func Open(opts Options) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{opts.Logger}).
		WithLoggingLevel(badger.WARNING)
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", opts.Dir, err)
	}

	seq, err := db.GetSequence(sequenceKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: id sequence: %w", err)
	}

	return &Badger{
		db:  db,
		seq: seq,
		log: opts.Logger,
		now: time.Now,
	}, nil
}

// Close releases the ID lease and closes the database.
func (b *Badger) Close() error {
	return errors.Join(b.seq.Release(), b.db.Close())
}

// Insert stores rec under a fresh ID and returns it. ID and CreatedAt on
// rec are overwritten.
func (b *Badger) Insert(_ context.Context, rec Record) (uint64, error) {
	n, err := b.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("store: next id: %w", err)
	}
	// Sequences start at zero; IDs start at one.
	rec.ID = n + 1
	rec.CreatedAt = b.now().UTC()

	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return 0, fmt.Errorf("store: encode record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.ID), data)
	})
	if err != nil {
		return 0, fmt.Errorf("store: insert: %w", err)
	}
	return rec.ID, nil
}

// Get returns the record with the given ID.
func (b *Badger) Get(_ context.Context, id uint64) (Record, error) {
	var rec Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get %d: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records newest first, skipping offset. A limit
// of zero or less means no limit.
func (b *Badger) List(ctx context.Context, limit, offset int) (Page, error) {
	return b.page(ctx, limit, offset, nil)
}

// Search is List restricted to records whose text contains every
// whitespace-separated term of query, ignoring case.
func (b *Badger) Search(ctx context.Context, query string, limit, offset int) (Page, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return Page{}, errors.New("store: empty search query")
	}
	return b.page(ctx, limit, offset, func(rec *Record) bool {
		text := strings.ToLower(rec.Text)
		for _, term := range terms {
			if !strings.Contains(text, term) {
				return false
			}
		}
		return true
	})
}

func (b *Badger) page(ctx context.Context, limit, offset int, match func(*Record) bool) (Page, error) {
	if offset < 0 {
		offset = 0
	}
	var page Page
	err := b.scan(ctx, true, func(rec *Record) bool {
		if match != nil && !match(rec) {
			return true
		}
		idx := page.TotalCount
		page.TotalCount++
		if idx >= offset && (limit <= 0 || idx < offset+limit) {
			page.Entries = append(page.Entries, *rec)
		}
		return true
	})
	if err != nil {
		return Page{}, err
	}
	page.HasMore = limit > 0 && offset+limit < page.TotalCount
	return page, nil
}

// Count returns the number of stored records.
func (b *Badger) Count(ctx context.Context) (int, error) {
	keys, err := b.keys(ctx)
	return len(keys), err
}

// Delete removes one record. It reports false if the ID did not exist.
func (b *Badger) Delete(_ context.Context, id uint64) (bool, error) {
	key := recordKey(id)
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: delete %d: %w", id, err)
	}
	return true, nil
}

// DeleteAll removes every record and returns how many there were. IDs keep
// increasing afterwards.
func (b *Badger) DeleteAll(ctx context.Context) (int, error) {
	keys, err := b.keys(ctx)
	if err != nil {
		return 0, err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("store: delete all: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("store: delete all: %w", err)
	}

	b.log.Info().Int("count", len(keys)).Msg("History cleared")
	return len(keys), nil
}

// scan decodes records in key order (reverse = newest first) until fn
// returns false or ctx is done.
func (b *Badger) scan(ctx context.Context, reverse bool, fn func(*Record) bool) error {
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekStart(reverse)); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %x: %w", it.Item().Key(), err)
			}
			if !fn(&rec) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: scan: %w", err)
	}
	return nil
}

func (b *Badger) keys(ctx context.Context) ([][]byte, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: keys: %w", err)
	}
	return keys, nil
}

func recordKey(id uint64) []byte {
	k := make([]byte, len(recordPrefix)+8)
	copy(k, recordPrefix)
	binary.BigEndian.PutUint64(k[len(recordPrefix):], id)
	return k
}

// seekStart returns the first key to visit. Reverse iteration seeks to the
// largest key in the prefix.
func seekStart(reverse bool) []byte {
	if !reverse {
		return recordPrefix
	}
	return recordKey(^uint64(0))
}
