package scanner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ecoscope/database"
	"ecoscope/imageprocessor"
	"ecoscope/types"
)

type countingAnalyzer struct {
	calls atomic.Int32
	level types.ImpactLevel
}

func (a *countingAnalyzer) AnalyzeImage(img imageprocessor.RasterImage) (types.AnalysisResult, error) {
	a.calls.Add(1)
	if img.Empty() {
		return types.AnalysisResult{}, errors.New("empty image")
	}
	return types.AnalysisResult{
		Timestamp:              time.Now().UTC(),
		ImpactLevel:            a.level,
		AffectedAreaPercentage: 12,
		Recommendations:        []string{},
	}, nil
}

func writePNG(t *testing.T, path string, shade uint8) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade / 2, B: 40, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func testFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 10)
	writePNG(t, filepath.Join(dir, "b.png"), 90)
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, filepath.Join(dir, "nested", "c.png"), 200)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newStore(t *testing.T) *database.HistoryStore {
	t.Helper()
	db, err := database.InitDatabase("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewHistoryStore(db)
}

func TestAnalyzeFolderSkipsUnchanged(t *testing.T) {
	dir := testFolder(t)
	store := newStore(t)
	analyzer := &countingAnalyzer{level: types.ImpactModerate}
	opts := ScanOptions{FolderPath: dir, MaxWorkers: 2, Out: io.Discard}
	ctx := context.Background()

	summary, err := AnalyzeFolder(ctx, analyzer, store, opts)
	if err != nil {
		t.Fatalf("AnalyzeFolder() error = %v", err)
	}
	if summary.Total != 3 || summary.Analyzed != 3 || summary.Skipped != 0 || summary.Errors != 0 {
		t.Fatalf("unexpected first summary %+v", summary)
	}
	if summary.ByImpact["MODERATE"] != 3 {
		t.Fatalf("impact counts = %v", summary.ByImpact)
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil || len(entries) != 3 {
		t.Fatalf("stored %d entries, err %v", len(entries), err)
	}
	if entries[0].SourceModifiedAt == nil || entries[0].Kind != database.KindAnalysis {
		t.Fatalf("unexpected stored entry %+v", entries[0])
	}

	summary, err = AnalyzeFolder(ctx, analyzer, store, opts)
	if err != nil {
		t.Fatalf("second AnalyzeFolder() error = %v", err)
	}
	if summary.Skipped != 3 || summary.Analyzed != 0 {
		t.Fatalf("unchanged files were analysed again: %+v", summary)
	}
	if analyzer.calls.Load() != 3 {
		t.Fatalf("analyzer called %d times, want 3", analyzer.calls.Load())
	}

	opts.ForceRewrite = true
	summary, err = AnalyzeFolder(ctx, analyzer, store, opts)
	if err != nil {
		t.Fatalf("forced AnalyzeFolder() error = %v", err)
	}
	if summary.Analyzed != 3 || summary.Skipped != 0 {
		t.Fatalf("force did not re-analyse: %+v", summary)
	}
}

func TestAnalyzeFolderReanalysesModifiedFile(t *testing.T) {
	dir := testFolder(t)
	store := newStore(t)
	analyzer := &countingAnalyzer{level: types.ImpactLow}
	opts := ScanOptions{FolderPath: dir, MaxWorkers: 1, Out: io.Discard}

	if _, err := AnalyzeFolder(context.Background(), analyzer, store, opts); err != nil {
		t.Fatalf("AnalyzeFolder() error = %v", err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "b.png"), later, later); err != nil {
		t.Fatal(err)
	}

	summary, err := AnalyzeFolder(context.Background(), analyzer, store, opts)
	if err != nil {
		t.Fatalf("AnalyzeFolder() error = %v", err)
	}
	if summary.Analyzed != 1 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestAnalyzeFolderCountsErrors(t *testing.T) {
	dir := testFolder(t)
	if err := os.WriteFile(filepath.Join(dir, "broken.png"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	summary, err := AnalyzeFolder(context.Background(), &countingAnalyzer{level: types.ImpactLow}, nil,
		ScanOptions{FolderPath: dir, MaxWorkers: 3, Out: io.Discard})
	if err != nil {
		t.Fatalf("AnalyzeFolder() error = %v", err)
	}
	if summary.Total != 4 || summary.Analyzed != 3 || summary.Errors != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestAnalyzeFolderCancelled(t *testing.T) {
	dir := testFolder(t)
	analyzer := &countingAnalyzer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AnalyzeFolder(ctx, analyzer, nil, ScanOptions{FolderPath: dir, MaxWorkers: 1, Out: io.Discard})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AnalyzeFolder() error = %v, want context.Canceled", err)
	}
}

func TestAnalyzeFolderMissing(t *testing.T) {
	_, err := AnalyzeFolder(context.Background(), &countingAnalyzer{}, nil,
		ScanOptions{FolderPath: filepath.Join(t.TempDir(), "absent"), Out: io.Discard})
	if err == nil {
		t.Fatal("expected error for a missing folder")
	}
}

func TestCountFilesToProcess(t *testing.T) {
	dir := testFolder(t)
	if err := os.WriteFile(filepath.Join(dir, "scene.TIF"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stats := countFilesToProcess(ScanOptions{FolderPath: dir})
	if len(stats.paths) != 4 || stats.tifFiles != 1 {
		t.Fatalf("unexpected stats: %d paths, %d tif", len(stats.paths), stats.tifFiles)
	}
	for i := 1; i < len(stats.paths); i++ {
		if stats.paths[i-1] > stats.paths[i] {
			t.Fatalf("paths not sorted: %v", stats.paths)
		}
	}
}
