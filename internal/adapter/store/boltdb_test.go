package store

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"imgsearch/internal/domain"
)

func openTestStore(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := NewBoltStore(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st, path
}

func doc(id, path string) domain.Document {
	return domain.Document{ID: id, ImagePath: path}
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)

	if err := st.EnsureCollection(ctx, "images", 3, domain.MetricCosine); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if err := st.EnsureCollection(ctx, "images", 3, domain.MetricCosine); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	cols := st.Collections()
	if len(cols) != 1 {
		t.Fatalf("expected 1 collection, got %d", len(cols))
	}
	if cols[0].Dimension != 3 || cols[0].Metric != domain.MetricCosine {
		t.Errorf("schema changed: %+v", cols[0])
	}
}

func TestEnsureCollection_Conflict(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)

	if err := st.EnsureCollection(ctx, "images", 3, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}
	err := st.EnsureCollection(ctx, "images", 4, domain.MetricCosine)
	if !errors.Is(err, domain.ErrSchemaConflict) || !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected schema conflict config error, got %v", err)
	}

	if err := st.EnsureCollection(ctx, "bad", 0, domain.MetricCosine); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected config error for zero dimension, got %v", err)
	}
	if err := st.EnsureCollection(ctx, "bad", 3, "euclid"); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected config error for unknown metric, got %v", err)
	}
}

func TestUpsertAndSearch_SelfSimilarity(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	if err := st.EnsureCollection(ctx, "images", 3, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}

	v := domain.Normalize([]float32{0.2, 0.5, 0.9})
	if err := st.UpsertOne(ctx, "images", doc("x", "/img/x.png"), v); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertOne(ctx, "images", doc("y", "/img/y.png"), []float32{-1, 0, 0}); err != nil {
		t.Fatal(err)
	}

	hits, err := st.Search(ctx, "images", v, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "x" {
		t.Errorf("expected x first, got %s", hits[0].ID)
	}
	if math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("expected self-similarity ≈ 1, got %f", hits[0].Score)
	}
	if hits[0].ImagePath != "/img/x.png" {
		t.Errorf("expected image path in hit, got %q", hits[0].ImagePath)
	}
}

func TestSearch_TopNAndOrder(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}

	records := []domain.Record{
		{Document: doc("a", "a.png"), Vector: []float32{1, 0}},
		{Document: doc("b", "b.png"), Vector: []float32{1, 1}},
		{Document: doc("c", "c.png"), Vector: []float32{0, 1}},
		{Document: doc("d", "d.png"), Vector: []float32{-1, 0}},
	}
	if err := st.UpsertMany(ctx, "images", records); err != nil {
		t.Fatal(err)
	}

	hits, err := st.Search(ctx, "images", []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, hits[i].ID)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits out of order at %d: %f > %f", i, hits[i].Score, hits[i-1].Score)
		}
	}
}

func TestUpsert_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}

	if err := st.UpsertOne(ctx, "images", doc("a", "old.png"), []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertOne(ctx, "images", doc("a", "new.png"), []float32{0, 1}); err != nil {
		t.Fatal(err)
	}

	count, _ := st.Count(ctx, "images")
	if count != 1 {
		t.Errorf("expected 1 document, got %d", count)
	}
	got, err := st.Get(ctx, "images", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.ImagePath != "new.png" {
		t.Errorf("expected new.png, got %s", got.ImagePath)
	}
}

func TestUpsertMany_DimensionMismatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}

	err := st.UpsertMany(ctx, "images", []domain.Record{
		{Document: doc("ok", "ok.png"), Vector: []float32{1, 0}},
		{Document: doc("bad", "bad.png"), Vector: []float32{1, 0, 0}},
	})
	if !errors.Is(err, domain.ErrDimensionMismatch) || !errors.Is(err, domain.ErrStore) {
		t.Fatalf("expected dimension mismatch store error, got %v", err)
	}

	count, _ := st.Count(ctx, "images")
	if count != 0 {
		t.Errorf("expected nothing written, got %d documents", count)
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)

	if _, err := st.Search(ctx, "missing", []float32{1}, 1); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected collection not found, got %v", err)
	}
	if err := st.UpsertOne(ctx, "missing", doc("a", "a.png"), []float32{1}); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected collection not found, got %v", err)
	}

	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Search(ctx, "images", []float32{1, 0, 0}, 1); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
	if _, err := st.Search(ctx, "images", []float32{float32(math.NaN()), 0}, 1); !errors.Is(err, domain.ErrStore) {
		t.Errorf("expected store error for NaN query, got %v", err)
	}
	if _, err := st.Search(ctx, "images", []float32{1, 0}, 0); !errors.Is(err, domain.ErrStore) {
		t.Errorf("expected store error for top_n=0, got %v", err)
	}
	if _, err := st.Get(ctx, "images", "nope"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("expected document not found, got %v", err)
	}
}

func TestSearch_FewerThanTopN(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t)
	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}

	hits, err := st.Search(ctx, "images", []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits from empty collection, got %d", len(hits))
	}
}

func TestPersistence_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	st, err := NewBoltStore(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}
	d := domain.Document{ID: "a", ImagePath: "a.png", Metadata: map[string]string{"source": "disk"}}
	if err := st.UpsertOne(ctx, "images", d, []float32{0.6, 0.8}); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = NewBoltStore(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatalf("reopen ensure failed: %v", err)
	}
	hits, err := st.Search(ctx, "images", []float32{0.6, 0.8}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("expected persisted document, got %+v", hits)
	}
	if hits[0].Payload["source"] != "disk" {
		t.Errorf("expected metadata to survive reopen, got %+v", hits[0].Payload)
	}

	version, err := st.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", CurrentSchemaVersion, version)
	}
}

func TestOpen_CorruptRecordsSkippedAndLogged(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corrupt.db")

	st, err := NewBoltStore(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.EnsureCollection(ctx, "images", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertOne(ctx, "images", doc("good", "good.png"), []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	st.Close()

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(collectionBucket("images")).Put([]byte("bad"), []byte{0xc1, 0xff, 0x00})
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	st, err = NewBoltStore(path, Options{Timeout: time.Second, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("a corrupt record must not make the store unopenable: %v", err)
	}
	defer st.Close()

	n, err := st.Count(ctx, "images")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected only the good record, got %d", n)
	}

	entries := logs.FilterField(zap.String("collection", "images")).All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["skipped"]; got != int64(1) {
		t.Errorf("expected skipped=1, got %v", got)
	}
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(CurrentSchemaVersion+1))
		return b.Put(keySchemaVersion, buf)
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	_, err = NewBoltStore(path, Options{Timeout: time.Second})
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected config error for newer schema, got %v", err)
	}
}

func TestOpen_LockedByAnotherHandle(t *testing.T) {
	_, path := openTestStore(t)

	_, err := NewBoltStore(path, Options{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, domain.ErrStore) {
		t.Errorf("expected store error while locked, got %v", err)
	}
}
