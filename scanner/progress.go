package scanner

import (
	"fmt"
	"time"

	"ecoscope/logging"
)

// NewProgressTracker starts the progress display and result collection goroutines.
func NewProgressTracker(stats FileStats, options ScanOptions, resultsChan <-chan ProcessImageResult) *ProgressTracker {
	tracker := &ProgressTracker{
		out:        options.Out,
		byImpact:   map[string]int{},
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan struct{}),
		drained:    make(chan struct{}),
		totalFiles: len(stats.paths),
		tifFiles:   stats.tifFiles,
	}

	go tracker.displayProgress()
	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Skipped: %d, Errors: %d, TIF: %d/%d)",
					p.processed, p.totalFiles, p.skipped, p.errors, p.tifProcessed, p.tifFiles)
			} else {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Skipped: %d, TIF: %d/%d)",
					p.processed, p.totalFiles, p.skipped, p.tifProcessed, p.tifFiles)
			}
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state until resultsChan is closed
func (p *ProgressTracker) processResults(resultsChan <-chan ProcessImageResult) {
	defer close(p.drained)
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++
		if result.IsTif {
			p.tifProcessed++
		}

		switch {
		case !result.Success:
			p.errors++
			if result.IsTif {
				p.tifErrors++
			}
			msg := ""
			if result.Error != nil {
				msg = result.Error.Error()
			}
			logging.LogImageProcessed(result.Path, false, msg)
		case result.Skipped:
			p.skipped++
		default:
			p.analyzed++
			p.byImpact[string(result.ImpactLevel)]++
			logging.LogImageProcessed(result.Path, true, "")
		}
		p.mu.Unlock()
	}
}

// Stop waits for every result to be counted and ends the display.
func (p *ProgressTracker) Stop() {
	<-p.drained
	p.ticker.Stop()
	close(p.done)
}

// Summary snapshots the counters.
func (p *ProgressTracker) Summary(elapsed time.Duration) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	byImpact := make(map[string]int, len(p.byImpact))
	for k, v := range p.byImpact {
		byImpact[k] = v
	}
	return Summary{
		Total:    p.totalFiles,
		Analyzed: p.analyzed,
		Skipped:  p.skipped,
		Errors:   p.errors,
		ByImpact: byImpact,
		Elapsed:  elapsed,
	}
}

// PrintStartupInfo displays information about the run before starting
func PrintStartupInfo(stats FileStats, options ScanOptions, workers int) {
	fmt.Fprintf(options.Out, "Starting batch analysis...\nTotal image files to analyse: %d (including %d TIF files)\n",
		len(stats.paths), stats.tifFiles)
	fmt.Fprintf(options.Out, "Force rewrite mode: %v, workers: %d\n", options.ForceRewrite, workers)

	if options.DebugMode {
		fmt.Fprintf(options.Out, "Debug mode: enabled\n")
		logging.DebugLog("Found %d image files to analyse (%d TIF files)", len(stats.paths), stats.tifFiles)
	}
}

// PrintCompletionStats displays statistics after the run
func PrintCompletionStats(tracker *ProgressTracker, summary Summary, options ScanOptions) {
	if options.DebugMode {
		logging.DebugLog("Batch completed in %v. Analysed: %d, Skipped: %d, Errors: %d, TIF files: %d, TIF errors: %d",
			summary.Elapsed, summary.Analyzed, summary.Skipped, summary.Errors, tracker.tifProcessed, tracker.tifErrors)
	}

	fmt.Fprintln(options.Out, "\nBatch analysis complete.")
	fmt.Fprintf(options.Out, "Analysed %d images in %v (%d unchanged, skipped).\n",
		summary.Analyzed, summary.Elapsed.Round(time.Second), summary.Skipped)

	for _, level := range []string{"CRITICAL", "HIGH", "MODERATE", "LOW"} {
		if n := summary.ByImpact[level]; n > 0 {
			fmt.Fprintf(options.Out, "  %-8s %d\n", level, n)
		}
	}

	if summary.Errors > 0 {
		fmt.Fprintf(options.Out, "Encountered %d errors during analysis.\n", summary.Errors)
		fmt.Fprintln(options.Out, "Check the log file for details.")
	}
}
