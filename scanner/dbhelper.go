package scanner

import (
	"context"
	"fmt"
	"os"

	"ecoscope/logging"
)

// checkAndSkipIfUnchanged returns a result when path needs no new analysis, or when the
// history lookup failed. nil means the file should be analysed.
func checkAndSkipIfUnchanged(ctx context.Context, store HistoryRecorder, path string, fileInfo os.FileInfo, options ScanOptions) *ProcessImageResult {
	storedModTime, found, err := store.LastAnalyzed(ctx, path)
	if err != nil {
		return &ProcessImageResult{
			Path:  path,
			Error: fmt.Errorf("database error for %s: %w", path, err),
		}
	}
	if !found {
		return nil
	}

	if !fileInfo.ModTime().After(storedModTime) {
		if options.DebugMode {
			logging.DebugLog("Skipping unchanged image: %s", path)
		}
		return &ProcessImageResult{
			Path:    path,
			Success: true,
			Skipped: true,
		}
	}
	return nil
}
