package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ecoscope/database"
	"ecoscope/imageprocessor"
	"ecoscope/logging"
	"ecoscope/signalhandler"

	"github.com/google/uuid"
)

// AnalyzeFolder analyses every supported image under options.FolderPath with a pool of workers
// sharing one analyzer. store may be nil, in which case nothing is persisted or skipped.
// A cancelled ctx stops dispatching new files; the files already running finish first.
func AnalyzeFolder(ctx context.Context, analyzer ImageAnalyzer, store HistoryRecorder, options ScanOptions) (Summary, error) {
	info, err := os.Stat(options.FolderPath)
	if err != nil {
		return Summary{}, fmt.Errorf("cannot read folder %s: %w", options.FolderPath, err)
	}
	if !info.IsDir() {
		return Summary{}, fmt.Errorf("%s is not a folder", options.FolderPath)
	}
	if options.Out == nil {
		options.Out = os.Stdout
	}
	workers := options.MaxWorkers
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}

	fileStats := countFilesToProcess(options)
	PrintStartupInfo(fileStats, options, workers)

	var wg sync.WaitGroup
	resultsChan := make(chan ProcessImageResult, 100)
	semaphore := make(chan struct{}, workers)

	tracker := NewProgressTracker(fileStats, options, resultsChan)
	startTime := time.Now()

dispatch:
	for _, path := range fileStats.paths {
		select {
		case <-ctx.Done():
			break dispatch
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resultsChan <- processImage(ctx, analyzer, store, path, options)
		}(path)
	}

	wg.Wait()
	close(resultsChan)
	tracker.Stop()

	summary := tracker.Summary(time.Since(startTime))
	PrintCompletionStats(tracker, summary, options)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch analysis interrupted after %d of %d files: %w",
			summary.Analyzed+summary.Skipped+summary.Errors, summary.Total, err)
	}
	return summary, nil
}

// countFilesToProcess lists the files a registered loader can open, in a stable order
func countFilesToProcess(options ScanOptions) FileStats {
	stats := FileStats{}
	registry := imageprocessor.NewImageLoaderRegistry()

	if options.DebugMode {
		logging.DebugLog("Starting batch analysis on folder: %s", options.FolderPath)
	}

	filepath.WalkDir(options.FolderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if registry.CanLoadFile(path) {
			stats.paths = append(stats.paths, path)
			if imageprocessor.IsTiffFormat(path) {
				stats.tifFiles++
			}
		}
		return nil
	})
	sort.Strings(stats.paths)

	return stats
}

// processImage analyses one file and records the result.
func processImage(ctx context.Context, analyzer ImageAnalyzer, store HistoryRecorder, path string, options ScanOptions) ProcessImageResult {
	result := ProcessImageResult{Path: path, IsTif: imageprocessor.IsTiffFormat(path)}

	fileInfo, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Errorf("cannot stat file %s: %w", path, err)
		return result
	}

	if store != nil && !options.ForceRewrite {
		if skip := checkAndSkipIfUnchanged(ctx, store, path, fileInfo, options); skip != nil {
			skip.IsTif = result.IsTif
			return *skip
		}
	}

	img, err := imageprocessor.LoadImage(path)
	if err != nil {
		result.Error = fmt.Errorf("cannot load %s: %w", path, err)
		return result
	}

	analysis, err := analyzer.AnalyzeImage(img)
	if err != nil {
		result.Error = fmt.Errorf("analysis of %s failed: %w", path, err)
		return result
	}
	analysis.ID = uuid.NewString()

	if options.ReadMetadata {
		meta, err := imageprocessor.ReadCaptureMetadata(path)
		if err != nil {
			logging.DebugLog("No capture metadata for %s: %v", path, err)
		} else {
			analysis.Capture = &meta
		}
	}

	if store != nil {
		entry, err := database.AnalysisEntry(database.KindAnalysis, path, analysis)
		if err != nil {
			result.Error = err
			return result
		}
		modified := fileInfo.ModTime().UTC()
		entry.SourceModifiedAt = &modified
		if err := store.Save(ctx, &entry); err != nil {
			result.Error = err
			return result
		}
	}

	if options.DebugMode {
		logging.DebugLog("Analysed %s: %s (area %.2f%%, degraded=%v)",
			path, analysis.ImpactLevel, analysis.AffectedAreaPercentage, analysis.DegradedMode)
	}

	result.Success = true
	result.ImpactLevel = analysis.ImpactLevel
	return result
}
