package index

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"campusbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"), testLogger())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestCreate_Idempotent(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 3, domain.MetricDotProduct); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := idx.Create(ctx, "pages", 3, domain.MetricDotProduct); err != nil {
		t.Fatalf("identical re-create should be a no-op: %v", err)
	}
	if err := idx.Create(ctx, "pages", 4, domain.MetricDotProduct); err == nil {
		t.Error("expected error re-creating with different dimension")
	}
	if err := idx.Create(ctx, "pages", 3, domain.MetricCosine); err == nil {
		t.Error("expected error re-creating with different metric")
	}
}

func TestCreate_RejectsBadParameters(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 0, domain.MetricCosine); err == nil {
		t.Error("expected error for zero dimension")
	}
	if err := idx.Create(ctx, "pages", 3, domain.Metric("manhattan")); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestInsert_DimensionChecked(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 3, domain.MetricDotProduct); err != nil {
		t.Fatal(err)
	}
	err := idx.Insert(ctx, "pages", []float32{1, 2}, domain.Entry{Text: "t"})
	if err == nil {
		t.Fatal("expected error for wrong vector dimension")
	}
	if _, ok := err.(*WriteError); !ok {
		t.Errorf("expected *WriteError, got %T", err)
	}
}

func TestInsert_UnknownCollection(t *testing.T) {
	idx := openTestIndex(t)
	err := idx.Insert(context.Background(), "missing", []float32{1}, domain.Entry{Text: "t"})
	if _, ok := err.(*WriteError); !ok {
		t.Fatalf("expected *WriteError, got %T (%v)", err, err)
	}
}

func TestSearch_RanksByDotProduct(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricDotProduct); err != nil {
		t.Fatal(err)
	}
	entries := []struct {
		vec  []float32
		text string
	}{
		{[]float32{0.1, 0}, "weak match"},
		{[]float32{1, 0}, "best match"},
		{[]float32{0.5, 0}, "middle match"},
	}
	for _, e := range entries {
		if err := idx.Insert(ctx, "pages", e.vec, domain.Entry{Text: e.text, SourceURL: "https://x.edu"}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := idx.Search(ctx, "pages", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results (index holds 3), got %d", len(results))
	}
	want := []string{"best match", "middle match", "weak match"}
	for i, w := range want {
		if results[i].Entry.Text != w {
			t.Errorf("rank %d: got %q, want %q", i, results[i].Entry.Text, w)
		}
	}
	if results[0].Score < results[1].Score || results[1].Score < results[2].Score {
		t.Error("scores not descending")
	}
}

func TestSearch_EuclideanRanksNearestFirst(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricEuclidean); err != nil {
		t.Fatal(err)
	}
	idx.Insert(ctx, "pages", []float32{5, 5}, domain.Entry{Text: "far"})
	idx.Insert(ctx, "pages", []float32{1, 1}, domain.Entry{Text: "near"})

	results, err := idx.Search(ctx, "pages", []float32{1, 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Entry.Text != "near" {
		t.Errorf("expected nearest entry first, got %q", results[0].Entry.Text)
	}
}

func TestSearch_CosineIgnoresMagnitude(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricCosine); err != nil {
		t.Fatal(err)
	}
	idx.Insert(ctx, "pages", []float32{100, 0}, domain.Entry{Text: "same direction, big"})
	idx.Insert(ctx, "pages", []float32{1, 1}, domain.Entry{Text: "diagonal"})

	results, err := idx.Search(ctx, "pages", []float32{0.5, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Entry.Text != "same direction, big" {
		t.Errorf("cosine should rank by angle: got %q first", results[0].Entry.Text)
	}
	if math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Errorf("parallel vectors should score 1.0, got %f", results[0].Score)
	}
}

func TestSearch_EmptyIndexReturnsEmpty(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricDotProduct); err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search(ctx, "pages", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("empty index should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearch_FewerThanK(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricDotProduct); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		idx.Insert(ctx, "pages", []float32{float32(i), 1}, domain.Entry{Text: "entry"})
	}

	results, err := idx.Search(ctx, "pages", []float32{1, 1}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("expected exactly 3 results for k=10 over 3 entries, got %d", len(results))
	}
}

func TestSearch_TieBreakIsStable(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricDotProduct); err != nil {
		t.Fatal(err)
	}
	// Identical vectors: scores tie, insertion order must decide.
	idx.Insert(ctx, "pages", []float32{1, 0}, domain.Entry{Text: "inserted first"})
	idx.Insert(ctx, "pages", []float32{1, 0}, domain.Entry{Text: "inserted second"})

	for run := 0; run < 3; run++ {
		results, err := idx.Search(ctx, "pages", []float32{1, 0}, 2)
		if err != nil {
			t.Fatal(err)
		}
		if results[0].Entry.Text != "inserted first" || results[1].Entry.Text != "inserted second" {
			t.Fatalf("run %d: tie-break order changed: %q, %q",
				run, results[0].Entry.Text, results[1].Entry.Text)
		}
	}
}

func TestReingestion_IsAdditive(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	if err := idx.Create(ctx, "pages", 2, domain.MetricDotProduct); err != nil {
		t.Fatal(err)
	}
	entry := domain.Entry{Text: "duplicate chunk", SourceURL: "https://x.edu/page"}
	idx.Insert(ctx, "pages", []float32{1, 0}, entry)
	idx.Insert(ctx, "pages", []float32{1, 0}, entry)

	n, err := idx.Count(ctx, "pages")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("re-inserting the same entry should append, got count %d", n)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.14159, -0.001}
	got, err := decodeVector(encodeVector(vec))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(vec) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("component %d: %f != %f", i, got[i], vec[i])
		}
	}
}

func TestDecodeVector_BadLength(t *testing.T) {
	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not divisible by 4")
	}
}
