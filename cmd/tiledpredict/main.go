package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"tiledpredict/internal/models"
	"tiledpredict/pkg/backend"
	"tiledpredict/pkg/config"
	"tiledpredict/pkg/logging"
	"tiledpredict/pkg/prediction"
	"tiledpredict/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "tiledpredict.yaml", "Configuration file (.yaml or .toml)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	inputPath := flag.String("input", "", "Input volume file")
	outputPath := flag.String("output", "prediction.tpv", "Output volume file")
	imageAxes := flag.String("axes", "", "Axis letters of the input volume, e.g. ZYX (overrides the file)")
	removeAxis := flag.String("remove", "", "Unit-size axis to drop before inference, e.g. Z")
	tiles := flag.Int("tiles", 0, "Initial number of tiles")
	overlap := flag.Int("overlap", -1, "Tile overlap in pixels")
	block := flag.Int("block", 0, "Tile size multiple required by the network")
	batch := flag.Int("batch", -1, "Batch size along the time axis (0 = whole axis)")
	workers := flag.Int("workers", 0, "Number of tiles evaluated concurrently")
	retries := flag.Int("retries", -1, "Maximum number of refinements after running out of memory")
	backendName := flag.String("backend", "", "Inference backend: identity, smooth or scale")
	sigma := flag.Float64("sigma", 0, "Gaussian width of the smooth backend")
	channels := flag.Int("channels", 0, "Output channels of the scale backend")
	memory := flag.String("memory", "", "Largest tile the backend accepts, e.g. 64MB")
	verbose := flag.Bool("verbose", false, "Log debug messages")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command line flags override the configuration file
	if *imageAxes != "" {
		cfg.Axes.Image = *imageAxes
	}
	if *removeAxis != "" {
		cfg.Axes.Remove = *removeAxis
	}
	if *tiles > 0 {
		cfg.Tiling.Tiles = *tiles
	}
	if *overlap >= 0 {
		cfg.Tiling.Overlap = *overlap
	}
	if *block > 0 {
		cfg.Tiling.BlockMultiple = *block
	}
	if *batch >= 0 {
		cfg.Tiling.BatchSize = *batch
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *retries >= 0 {
		cfg.Processing.MaxRetries = *retries
	}
	if *backendName != "" {
		cfg.Network.Backend = *backendName
	}
	if *sigma > 0 {
		cfg.Network.Sigma = *sigma
	}
	if *channels > 0 {
		cfg.Network.Channels = *channels
	}
	if *memory != "" {
		budget, err := humanize.ParseBytes(*memory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid memory budget %q: %v\n", *memory, err)
			os.Exit(1)
		}
		cfg.Network.MemoryBudget = budget
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	if err := run(cfg, *inputPath, *outputPath); err != nil {
		logging.Errorf("Prediction failed: %v", err)
		logging.Shutdown()
		os.Exit(1)
	}
	logging.Shutdown()
}

func run(cfg *config.Config, inputPath, outputPath string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logCfg := &logging.LogConfig{Logfile: cfg.Log.File, MaxSize: cfg.Log.MaxSize, MaxAge: cfg.Log.MaxAge}
	logCfg.SetLogger()
	if cfg.Output.Verbose {
		logging.SetLogMode(logging.DebugMode)
	}

	params, err := predictionParams(cfg)
	if err != nil {
		return err
	}
	b, err := backend.New(cfg.Network.Backend, backend.Options{
		Sigma:        cfg.Network.Sigma,
		Factor:       cfg.Network.Factor,
		Channels:     cfg.Network.Channels,
		MemoryBudget: cfg.Network.MemoryBudget,
	})
	if err != nil {
		return err
	}

	img, err := volumeio.Load(inputPath)
	if err != nil {
		return err
	}
	if cfg.Axes.Image != "" {
		labels, err := models.ParseAxes(cfg.Axes.Image)
		if err != nil {
			return err
		}
		if len(labels) != img.Rank() {
			return fmt.Errorf("axes %q do not fit volume of rank %d", cfg.Axes.Image, img.Rank())
		}
		img.Axes = labels
	}
	logging.Infof("Loaded %s (%s) from %s", img, humanize.Bytes(img.Bytes()), inputPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := prediction.NewPredictor(params, b, logging.Progress{Label: "predict"}).Process(ctx, img)
	if err != nil {
		return err
	}
	if err := volumeio.Save(outputPath, res.Image); err != nil {
		return err
	}
	logging.Infof("Saved %s to %s in %s", res.Image, outputPath, res.Elapsed)
	logging.Infof("Final tiling: %s", res.Plan)
	return nil
}

// predictionParams translates the configuration into prediction parameters.
func predictionParams(cfg *config.Config) (*prediction.Params, error) {
	input, err := nodeShape(cfg.Network.InputSizes, cfg.Network.InputAxes)
	if err != nil {
		return nil, fmt.Errorf("input node: %w", err)
	}
	output, err := nodeShape(cfg.Network.OutputSizes, cfg.Network.OutputAxes)
	if err != nil {
		return nil, fmt.Errorf("output node: %w", err)
	}

	params := &prediction.Params{
		Input:         input,
		Output:        output,
		Tiling:        cfg.Tiling,
		NumWorkers:    cfg.Processing.NumWorkers,
		MaxRetries:    cfg.Processing.MaxRetries,
		Normalization: cfg.Normalization,
	}
	if r := strings.TrimSpace(cfg.Axes.Remove); r != "" {
		labels, err := models.ParseAxes(r)
		if err != nil {
			return nil, err
		}
		if len(labels) != 1 || labels[0] == models.Unknown {
			return nil, fmt.Errorf("remove must name exactly one axis, got %q", r)
		}
		params.RemoveAxis = labels[0]
	}
	return params, nil
}

func nodeShape(sizes []int, labels string) (models.NodeShape, error) {
	node := models.NewNodeShape(sizes...)
	if labels == "" {
		return node, nil
	}
	ax, err := models.ParseAxes(labels)
	if err != nil {
		return node, err
	}
	if len(ax) != len(sizes) {
		return node, fmt.Errorf("%d axis letters for %d sizes", len(ax), len(sizes))
	}
	node.Axes = ax
	return node, nil
}
