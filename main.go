package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"ecoscope/analysis"
	"ecoscope/areacontext"
	"ecoscope/config"
	"ecoscope/database"
	"ecoscope/imageprocessor"
	"ecoscope/logging"
	"ecoscope/network"
	"ecoscope/scanner"
	"ecoscope/server"
	"ecoscope/signalhandler"
	"ecoscope/types"
	"ecoscope/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const version = "1.0.0"

type app struct {
	cfg      config.Config
	args     map[string]string
	analyzer *analysis.Analyzer
	seg      network.Segmenter
	db       *sqlx.DB
	store    *database.HistoryStore
	debug    bool
}

func main() {
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	args := utils.ParseArguments(os.Args)

	command, hasCommand := args["command"]
	if _, help := args["help"]; help || !hasCommand {
		utils.PrintUsage(os.Stdout)
		if !hasCommand && !help {
			os.Exit(1)
		}
		return
	}
	if missing := utils.MissingArguments(command, args); len(missing) > 0 {
		fmt.Printf("Error: missing --%s for %s\n\n", strings.Join(missing, ", --"), command)
		utils.PrintUsage(os.Stdout)
		os.Exit(1)
	}

	configPath := "ecoscope.yaml"
	if p := args["config"]; p != "" {
		configPath = p
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	applyFlagOverrides(&cfg, args)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	_, debugMode := args["debug"]
	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	if err := logging.SetupLogger(logging.Options{
		Path:   cfg.Logging.File,
		Level:  level,
		Format: cfg.Logging.Format,
		Stdout: cfg.Logging.Stdout,
	}); err != nil {
		fmt.Printf("Warning: Failed to setup logging: %v\n", err)
	} else if debugMode {
		fmt.Printf("Debug mode enabled. Logging to: %s\n", cfg.Logging.File)
	}
	defer logging.CloseLogger()

	if command == "export-weights" {
		handleExportWeights(cfg, args)
		return
	}

	a := &app{cfg: cfg, args: args, debug: debugMode}
	if command != "history" {
		a.loadModel()
		defer a.seg.Close()
	}

	if cfg.Database.SaveHistory || command == "history" || command == "batch" {
		a.openHistory()
		defer a.db.Close()
	}

	switch command {
	case "analyze":
		a.handleAnalyze()
	case "change":
		a.handleChange()
	case "compare":
		a.handleCompare()
	case "forecast":
		a.handleForecast()
	case "batch":
		a.handleBatch()
	case "history":
		a.handleHistory()
	case "serve":
		a.handleServe()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		utils.PrintUsage(os.Stdout)
		os.Exit(1)
	}
}

// applyFlagOverrides lets command-line flags win over file and environment settings.
func applyFlagOverrides(cfg *config.Config, args map[string]string) {
	if db := args["database"]; db != "" {
		cfg.Database.DSN = db
	} else if db := args["db"]; db != "" {
		cfg.Database.DSN = db
	}
	if p := args["checkpoint"]; p != "" {
		cfg.Model.CheckpointPath = p
	}
	if p := args["logfile"]; p != "" {
		cfg.Logging.File = p
	}
	if _, ok := args["no-history"]; ok {
		cfg.Database.SaveHistory = false
	}
	if p := args["port"]; p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.Service.HTTPPort = port
		} else {
			fmt.Printf("Warning: ignoring invalid --port value '%s'\n", p)
		}
	}
	if w := args["workers"]; w != "" {
		n, err := utils.ParseIntArg("workers", w, signalhandler.GetOptimalProcs())
		if err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		cfg.Model.Workers = n
	}
}

func networkOptions(cfg config.Config) network.Options {
	return network.Options{
		Backend:         cfg.Model.Backend,
		CheckpointPath:  cfg.Model.CheckpointPath,
		ONNXPath:        cfg.Model.ONNXPath,
		ONNXLibraryPath: cfg.Model.ONNXLibraryPath,
		InputSize:       cfg.Model.ImageSize,
		Net: network.Config{
			InChannels:   cfg.Model.InChannels,
			BaseChannels: cfg.Model.BaseChannels,
			Workers:      cfg.Model.Workers,
			Seed:         cfg.Model.Seed,
		},
	}
}

func (a *app) loadModel() {
	seg, status, err := network.Load(networkOptions(a.cfg))
	if err != nil {
		log.Fatalf("Error building segmentation network: %v", err)
	}
	if status.Degraded {
		fmt.Printf("Warning: running in degraded mode (%v); results are not meaningful\n", status.Err)
	}
	a.seg = seg
	a.analyzer = analysis.NewAnalyzer(seg, status, analysis.Options{
		InputSize:             a.cfg.Model.ImageSize,
		GroundSampleDistanceM: a.cfg.Analysis.GroundSampleDistanceM,
	})
}

func (a *app) openHistory() {
	if database.IsMemoryDSN(a.cfg.Database.DSN) {
		fmt.Println("Warning: using an in-memory database, history is lost on exit")
	}

	// Initialize database with retry logic
	var err error
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		a.db, err = database.InitDatabase(a.cfg.Database.Driver, a.cfg.Database.DSN)
		if err == nil {
			break
		}

		if i < maxRetries-1 {
			log.Printf("Error initializing database (attempt %d/%d): %v - retrying...",
				i+1, maxRetries, err)
			time.Sleep(time.Second * time.Duration(i+1))
		} else {
			log.Fatalf("Error initializing database after %d attempts: %v", maxRetries, err)
		}
	}
	a.store = database.NewHistoryStore(a.db)
}

func (a *app) loadImage(flag string) imageprocessor.RasterImage {
	path := a.args[flag]
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Fatalf("Image does not exist: %s", path)
	}
	img, err := imageprocessor.LoadImage(path)
	if err != nil {
		log.Fatalf("Error loading %s: %v", path, err)
	}
	return img
}

func (a *app) save(entry types.HistoryEntry, err error) {
	if a.store == nil || !a.cfg.Database.SaveHistory {
		return
	}
	if err == nil {
		err = a.store.Save(context.Background(), &entry)
	}
	if err != nil {
		logging.LogWarning("Could not save result to history: %v", err)
		return
	}
	logging.DebugLog("Stored %s entry %s", entry.Kind, entry.ID)
}

func (a *app) handleAnalyze() {
	path := a.args["image"]
	img := a.loadImage("image")

	startTime := time.Now()
	res, err := a.analyzer.AnalyzeImage(img)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}
	res.ID = uuid.NewString()

	if _, ok := a.args["metadata"]; ok {
		if meta, err := imageprocessor.ReadCaptureMetadata(path); err != nil {
			fmt.Printf("Warning: %v\n", err)
		} else {
			res.Capture = &meta
		}
	}

	a.save(database.AnalysisEntry(database.KindAnalysis, path, res))
	if a.printJSON(res) {
		return
	}
	printAnalysis(res)
	fmt.Printf("\nTotal analysis time: %v\n", time.Since(startTime))
}

func (a *app) handleChange() {
	before := a.loadImage("before")
	after := a.loadImage("after")

	res, err := a.analyzer.AnalyzeChange(before, after)
	if errors.Is(err, analysis.ErrChannelMismatch) {
		log.Fatalf("Change analysis needs a 6-channel network (model.in_channels is %d)", a.cfg.Model.InChannels)
	}
	if err != nil {
		log.Fatalf("Change analysis failed: %v", err)
	}
	res.ID = uuid.NewString()

	a.save(database.AnalysisEntry(database.KindChange, a.args["before"]+" -> "+a.args["after"], res))
	if a.printJSON(res) {
		return
	}
	printAnalysis(res)
}

func (a *app) compare() types.ComparisonResult {
	before := a.loadImage("before")
	after := a.loadImage("after")

	outPath := a.args["visualize"]
	visualize := a.cfg.Analysis.Visualize || (outPath != "" && outPath != "false")

	cmp, err := analysis.Compare(before, after, analysis.CompareOptions{Visualize: visualize})
	if err != nil {
		log.Fatalf("Comparison failed: %v", err)
	}
	cmp.ID = uuid.NewString()

	if a.args["lat"] != "" || a.args["lon"] != "" {
		lat, err := utils.ParseFloatArg("lat", a.args["lat"], -90, 90)
		if err != nil {
			log.Fatalf("%v", err)
		}
		lon, err := utils.ParseFloatArg("lon", a.args["lon"], -180, 180)
		if err != nil {
			log.Fatalf("%v", err)
		}
		var classifier areacontext.Classifier
		if a.cfg.Overpass.Enabled {
			classifier = a.overpassClassifier()
		}
		cmp.Location = &types.Location{
			Latitude:  lat,
			Longitude: lon,
			AreaType:  string(areacontext.Lookup(context.Background(), classifier, lat, lon)),
		}
	}

	if outPath != "" && outPath != "true" && outPath != "false" && cmp.ComparisonImage != "" {
		if err := writeDataURI(outPath, cmp.ComparisonImage); err != nil {
			fmt.Printf("Warning: could not write visualization: %v\n", err)
		} else {
			fmt.Printf("Visualization written to %s\n", outPath)
			cmp.ComparisonImage = ""
		}
	}
	return cmp
}

func (a *app) handleCompare() {
	cmp := a.compare()
	a.save(database.ComparisonEntry(a.args["before"]+" -> "+a.args["after"], cmp))
	if a.printJSON(cmp) {
		return
	}

	fmt.Printf("Changed pixels: %d of %d (%.2f%%)\n",
		cmp.ChangedPixels, cmp.TotalPixels, cmp.ChangePercentage)
	fmt.Printf("Change regions: %d\n", cmp.ContoursCount)
	fmt.Printf("Mean channel change: vegetation %.1f, water %.1f, urban %.1f\n",
		cmp.ChangeAnalysis.VegetationChange, cmp.ChangeAnalysis.WaterChange, cmp.ChangeAnalysis.UrbanChange)
	fmt.Printf("Detected change types: %s\n", strings.Join(cmp.ChangeAnalysis.ChangeTypes, ", "))
	if cmp.Location != nil {
		fmt.Printf("Location: %.4f, %.4f (%s)\n", cmp.Location.Latitude, cmp.Location.Longitude, cmp.Location.AreaType)
	}
}

func (a *app) handleForecast() {
	cmp := a.compare()
	forecast := analysis.Forecast(cmp, a.args["period"])
	if a.printJSON(forecast) {
		return
	}

	fmt.Printf("Change: %.2f%% over the observed period\n", cmp.ChangePercentage)
	fmt.Printf("Forecast (%s): %s risk\n", forecast.TimePeriod, forecast.RiskLevel)
	fmt.Println("Predicted impacts:")
	for _, p := range forecast.Predictions {
		fmt.Printf("  - %s\n", p)
	}
	fmt.Println("Recommendations:")
	for _, r := range forecast.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
}

func (a *app) handleBatch() {
	folderPath := a.args["folder"]

	// Verify folder path exists and is accessible
	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Fatalf("Folder path does not exist: %s", folderPath)
		} else {
			log.Fatalf("Cannot access folder path: %s (%v)", folderPath, err)
		}
	}
	if !folderInfo.IsDir() {
		log.Fatalf("Path is not a directory: %s", folderPath)
	}

	ctx, cancel := signalhandler.SetupHandler()
	defer cancel()

	_, force := a.args["force"]
	_, metadata := a.args["metadata"]
	options := scanner.ScanOptions{
		FolderPath:   folderPath,
		ForceRewrite: force,
		DebugMode:    a.debug,
		ReadMetadata: metadata,
		MaxWorkers:   a.cfg.Model.Workers,
		Out:          os.Stdout,
	}

	var store scanner.HistoryRecorder
	if a.store != nil {
		store = a.store
	}
	summary, err := scanner.AnalyzeFolder(ctx, a.analyzer, store, options)
	if err != nil {
		log.Fatalf("Batch analysis stopped: %v", err)
	}

	fmt.Printf("\nBatch completed.\n")
	fmt.Printf("Total execution time: %v\n", summary.Elapsed)
	fmt.Printf("Database: %s\n", a.cfg.Database.DSN)
}

func (a *app) handleHistory() {
	ctx := context.Background()

	if _, ok := a.args["stats"]; ok {
		stats, err := a.store.Stats(ctx)
		if err != nil {
			log.Fatalf("Error reading statistics: %v", err)
		}
		if a.printJSON(stats) {
			return
		}
		fmt.Printf("Total entries: %d (%d degraded)\n", stats.Total, stats.Degraded)
		for kind, n := range stats.ByKind {
			fmt.Printf("- %s: %d\n", kind, n)
		}
		for level, n := range stats.ByImpact {
			fmt.Printf("- impact %s: %d\n", level, n)
		}
		fmt.Printf("Average affected area: %.2f%%\n", stats.AverageArea)
		return
	}

	limit, err := utils.ParseIntArg("limit", a.args["limit"], database.DefaultHistoryLimit)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
	entries, err := a.store.Recent(ctx, limit)
	if err != nil {
		log.Fatalf("Error reading history: %v", err)
	}
	if a.printJSON(entries) {
		return
	}

	if len(entries) == 0 {
		fmt.Println("No analyses recorded.")
		return
	}
	for i, e := range entries {
		fmt.Printf("%d. %s [%s] %s\n", i+1, e.CreatedAt.Format(time.RFC3339), e.Kind, e.Source)
		if e.Kind == database.KindComparison {
			fmt.Printf("   Change: %.2f%%\n", e.ChangePercentage)
		} else {
			fmt.Printf("   Impact: %s, affected area %.2f%%\n", e.ImpactLevel, e.AffectedArea)
		}
		if e.Degraded {
			fmt.Printf("   (degraded model)\n")
		}
	}
}

func (a *app) overpassClassifier() areacontext.Classifier {
	return areacontext.NewOverpassClassifier(a.cfg.Overpass.Endpoint,
		time.Duration(a.cfg.Overpass.TimeoutSeconds)*time.Second, a.cfg.Overpass.RadiusM)
}

func (a *app) handleServe() {
	ctx, cancel := signalhandler.SetupHandler()
	defer cancel()

	var areas areacontext.Classifier
	if a.cfg.Overpass.Enabled {
		areas = a.overpassClassifier()
	}

	handler := server.NewHandler(server.Options{
		Analyzer:    a.analyzer,
		Store:       a.store,
		Areas:       areas,
		MaxUpload:   a.cfg.Upload.MaxBytes,
		Visualize:   a.cfg.Analysis.Visualize,
		SaveHistory: a.cfg.Database.SaveHistory,
		CORSOrigin:  a.cfg.Service.CORSOrigin,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           server.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logging.LogInfo("%s listening on %s (degraded=%v)", a.cfg.Service.Name, srv.Addr, a.analyzer.Degraded())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		log.Fatalf("HTTP server failed: %v", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError("Graceful shutdown failed: %v", err)
	}
	logging.LogInfo("Server stopped")
}

func handleExportWeights(cfg config.Config, args map[string]string) {
	net, err := network.NewUNet(networkOptions(cfg).Net)
	if err != nil {
		log.Fatalf("Error building network: %v", err)
	}
	if err := network.SaveCheckpoint(args["output"], net); err != nil {
		log.Fatalf("Error writing checkpoint: %v", err)
	}
	fmt.Printf("Wrote %d parameters (seed %d) to %s\n", net.ParameterCount(), cfg.Model.Seed, args["output"])
}

// printJSON writes v to stdout when --json is set.
func (a *app) printJSON(v any) bool {
	if _, ok := a.args["json"]; !ok {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
	return true
}

func printAnalysis(res types.AnalysisResult) {
	fmt.Printf("Analysis %s (%s)\n", res.ID, res.Mode)
	if res.DegradedMode {
		fmt.Println("WARNING: degraded mode, the network has no trained parameters")
	}
	fmt.Printf("Impact level: %s\n", res.ImpactLevel)
	fmt.Printf("Affected area: %.2f%%", res.AffectedAreaPercentage)
	if res.AffectedAreaKm2 != nil {
		fmt.Printf(" (%.3f km²)", *res.AffectedAreaKm2)
	}
	fmt.Println()
	if c := res.AreaChange; c != nil {
		fmt.Printf("Change type: %s (%s)\n", c.ChangeType, c.Impact)
		for _, m := range c.Measures {
			fmt.Printf("  * %s\n", m)
		}
	}

	f := res.FeaturesDetected
	fmt.Printf("Glaciers: detected=%v count=%d area=%d px\n", f.Glaciers.Detected, f.Glaciers.Count, f.Glaciers.TotalArea)
	fmt.Printf("Drainage: detected=%v complexity=%s\n", f.DrainageSystems.Detected, f.DrainageSystems.NetworkComplexity)
	fmt.Printf("Roads: detected=%v network=%s\n", f.RoadNetworks.Detected, f.RoadNetworks.NetworkType)
	fmt.Println("Recommendations:")
	for _, r := range res.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
}

// writeDataURI decodes a data:image/png;base64 URI into path.
func writeDataURI(path, uri string) error {
	_, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return fmt.Errorf("malformed data URI")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
