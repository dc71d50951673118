package scanner

import (
	"context"
	"io"
	"sync"
	"time"

	"ecoscope/imageprocessor"
	"ecoscope/types"
)

// ImageAnalyzer is the part of analysis.Analyzer a batch run needs.
type ImageAnalyzer interface {
	AnalyzeImage(img imageprocessor.RasterImage) (types.AnalysisResult, error)
}

// HistoryRecorder is the part of database.HistoryStore a batch run needs.
type HistoryRecorder interface {
	Save(ctx context.Context, e *types.HistoryEntry) error
	LastAnalyzed(ctx context.Context, source string) (time.Time, bool, error)
}

// ScanOptions defines the options for a batch analysis
type ScanOptions struct {
	FolderPath   string
	ForceRewrite bool // analyse files even when unchanged since their last stored analysis
	DebugMode    bool
	ReadMetadata bool // attach exiftool GPS and capture time to each result
	MaxWorkers   int  // defaults to signalhandler.GetOptimalProcs
	Out          io.Writer
}

// ProcessImageResult holds the result of analysing one file
type ProcessImageResult struct {
	Path        string
	Success     bool
	Skipped     bool
	Error       error
	ImpactLevel types.ImpactLevel
	IsTif       bool
}

// Summary reports a finished batch run.
type Summary struct {
	Total    int            `json:"total"`
	Analyzed int            `json:"analyzed"`
	Skipped  int            `json:"skipped"`
	Errors   int            `json:"errors"`
	ByImpact map[string]int `json:"by_impact"`
	Elapsed  time.Duration  `json:"elapsed"`
}

// FileStats tracks information about files to be processed
type FileStats struct {
	paths    []string
	tifFiles int
}

// ProgressTracker tracks progress of the batch run
type ProgressTracker struct {
	out          io.Writer
	processed    int
	analyzed     int
	skipped      int
	errors       int
	tifProcessed int
	tifErrors    int
	byImpact     map[string]int
	ticker       *time.Ticker
	done         chan struct{}
	drained      chan struct{}
	mu           sync.Mutex
	totalFiles   int
	tifFiles     int
}
