package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"imgsearch/internal/domain"
)

var (
	bucketMeta        = []byte("meta")
	bucketCollections = []byte("collections")
)

func collectionBucket(name string) []byte {
	return []byte("c/" + name)
}

// Options configures how the database file is opened.
type Options struct {
	// Timeout bounds the wait for the file lock held by another process.
	// Zero waits forever.
	Timeout time.Duration
	// Logger receives warnings about records that could not be loaded.
	Logger *zap.Logger
}

// BoltStore implements port.VectorStore on a local BoltDB file.
// Vectors are mirrored in memory and searched by brute force, which
// gives exact nearest neighbors.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	schema  domain.Collection
	entries map[string]vectorEntry
}

type vectorEntry struct {
	vector  []float32
	payload map[string]string
}

type storedVector struct {
	Vector  []float32         `msgpack:"v"`
	Payload map[string]string `msgpack:"p,omitempty"`
}

type storedCollection struct {
	Dimension int    `msgpack:"dim"`
	Metric    string `msgpack:"metric"`
	CreatedAt int64  `msgpack:"created_at"`
}

// NewBoltStore opens (creating if needed) the store at path.
func NewBoltStore(path string, opts Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("open %s: database is locked by another process: %w", path, domain.ErrStore)
		}
		return nil, fmt.Errorf("open %s: %v: %w", path, err, domain.ErrStore)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketCollections} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%v: %w", err, domain.ErrStore)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &BoltStore{
		db:          db,
		logger:      logger,
		collections: make(map[string]*collection),
	}

	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.loadCollections(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load collections: %v: %w", err, domain.ErrStore)
	}

	return s, nil
}

// loadCollections loads every collection schema and its vectors into memory.
// Vector records that fail to decode are left on disk, counted and logged.
func (s *BoltStore) loadCollections() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var sc storedCollection
			if err := msgpack.Unmarshal(v, &sc); err != nil {
				return fmt.Errorf("decode collection %s: %w", k, err)
			}
			name := string(k)
			col := &collection{
				schema: domain.Collection{
					Name:      name,
					Dimension: sc.Dimension,
					Metric:    domain.Metric(sc.Metric),
					CreatedAt: time.Unix(sc.CreatedAt, 0),
				},
				entries: make(map[string]vectorEntry),
			}

			b := tx.Bucket(collectionBucket(name))
			if b != nil {
				var corrupt int
				var firstCorrupt string
				err := b.ForEach(func(id, data []byte) error {
					var stored storedVector
					if err := msgpack.Unmarshal(data, &stored); err != nil {
						if corrupt == 0 {
							firstCorrupt = string(id)
						}
						corrupt++
						return nil
					}
					col.entries[string(id)] = vectorEntry{
						vector:  stored.Vector,
						payload: stored.Payload,
					}
					return nil
				})
				if err != nil {
					return err
				}
				if corrupt > 0 {
					s.logger.Warn("skipped undecodable vector records",
						zap.String("collection", name),
						zap.Int("skipped", corrupt),
						zap.String("first_id", firstCorrupt),
					)
				}
			}

			s.collections[name] = col
			return nil
		})
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Collections returns the schemas of all collections, sorted by name.
func (s *BoltStore) Collections() []domain.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c.schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnsureCollection creates the collection if it does not exist.
func (s *BoltStore) EnsureCollection(ctx context.Context, name string, dim int, metric domain.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSchema(name, dim, metric); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		return CheckSchema(existing.schema, dim, metric)
	}

	now := time.Now()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := msgpack.Marshal(storedCollection{
			Dimension: dim,
			Metric:    string(metric),
			CreatedAt: now.Unix(),
		})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCollections).Put([]byte(name), data); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(collectionBucket(name))
		return err
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %v: %w", name, err, domain.ErrStore)
	}

	s.collections[name] = &collection{
		schema: domain.Collection{
			Name:      name,
			Dimension: dim,
			Metric:    metric,
			CreatedAt: time.Unix(now.Unix(), 0),
		},
		entries: make(map[string]vectorEntry),
	}
	return nil
}

// UpsertOne writes a single document.
func (s *BoltStore) UpsertOne(ctx context.Context, name string, doc domain.Document, vector []float32) error {
	return s.UpsertMany(ctx, name, []domain.Record{{Document: doc, Vector: vector}})
}

// UpsertMany writes records in one transaction; nothing is written on error.
func (s *BoltStore) UpsertMany(ctx context.Context, name string, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	for _, r := range records {
		if err := ValidateRecord(col.schema, r); err != nil {
			return err
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(collectionBucket(name))
		if b == nil {
			return fmt.Errorf("bucket for collection %s not found", name)
		}

		for _, r := range records {
			data, err := msgpack.Marshal(storedVector{
				Vector:  r.Vector,
				Payload: r.Document.Payload(),
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.Document.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert into %s: %v: %w", name, err, domain.ErrStore)
	}

	// Update in-memory mirror only after the commit succeeded.
	for _, r := range records {
		col.entries[r.Document.ID] = vectorEntry{
			vector:  append([]float32(nil), r.Vector...),
			payload: r.Document.Payload(),
		}
	}
	return nil
}

// Search finds the topN nearest documents to query using cosine similarity.
func (s *BoltStore) Search(ctx context.Context, name string, query []float32, topN int) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	if err := ValidateQuery(col.schema, query, topN); err != nil {
		return nil, err
	}

	hits := make([]domain.Hit, 0, len(col.entries))
	for id, entry := range col.entries {
		hits = append(hits, newHit(id, entry, domain.CosineSimilarity(query, entry.vector)))
	}
	return domain.TopHits(hits, topN), nil
}

// Get returns a stored document by id.
func (s *BoltStore) Get(ctx context.Context, name, id string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return domain.Document{}, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	entry, ok := col.entries[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("%s: %w", id, domain.ErrDocumentNotFound)
	}
	return domain.DocumentFromPayload(id, entry.payload), nil
}

// List returns every document of the collection, sorted by id.
func (s *BoltStore) List(ctx context.Context, name string) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	return listDocuments(col.entries), nil
}

// Count returns the number of documents in the collection.
func (s *BoltStore) Count(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, domain.ErrCollectionNotFound)
	}
	return len(col.entries), nil
}

func newHit(id string, entry vectorEntry, score float64) domain.Hit {
	payload := make(map[string]string, len(entry.payload))
	for k, v := range entry.payload {
		payload[k] = v
	}
	return domain.Hit{
		ID:        id,
		ImagePath: payload[domain.PayloadImagePath],
		Score:     score,
		Payload:   payload,
	}
}

func listDocuments(entries map[string]vectorEntry) []domain.Document {
	docs := make([]domain.Document, 0, len(entries))
	for id, entry := range entries {
		docs = append(docs, domain.DocumentFromPayload(id, entry.payload))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}
