package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dandi/dandi-cli-sub000/internal/config"
	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/digest"
	"github.com/dandi/dandi-cli-sub000/internal/locator"
	"github.com/dandi/dandi-cli-sub000/internal/planner"
	"github.com/dandi/dandi-cli-sub000/internal/store"
	"github.com/dandi/dandi-cli-sub000/internal/transfer"
)

var (
	// Global flags
	cfgPath      string
	instanceName string
	logLevel     string
	logFormat    string
	globalCfg    *config.Config
	logger       *slog.Logger

	// Global components
	globalStore    *store.Store
	globalClient   *dandiapi.Client
	globalResolver *locator.Resolver
	globalDigests  *digest.Cache
	globalPlanner  *planner.Planner
)

// initializeComponents wires the shared client, resolver, digest cache,
// planner and run-history store from the loaded config.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	mode, err := digest.CacheModeFromEnv()
	if err != nil {
		return err
	}
	globalDigests, err = digest.NewCache(globalCfg.DigestCacheSize, mode, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize digest cache: %w", err)
	}

	globalClient = dandiapi.NewClient(globalCfg.Current().API, globalCfg.APIKey, logger)
	globalResolver = locator.NewResolver(globalCfg.Instances, nil, logger)
	globalPlanner = planner.New(globalClient, globalDigests, logger)

	// The run history store is advisory; a broken database degrades to
	// logging only.
	if st, err := store.New(historyDBPath(), logger); err != nil {
		logger.Warn("run history unavailable", "error", err)
	} else {
		globalStore = st
	}

	return nil
}

// historyDBPath places the run history database under the user state dir.
func historyDBPath() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "dandi-history.db"
		}
		base = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(base, "dandi")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "dandi-history.db"
	}
	return filepath.Join(dir, "history.db")
}

// newCoordinator builds a transfer coordinator from the config plus an
// optional --jobs N[:M] override.
func newCoordinator(jobsFlag string) (*transfer.Coordinator, error) {
	jobs, threads := globalCfg.Jobs, globalCfg.ThreadsPerFile
	if jobsFlag != "" {
		var err error
		jobs, threads, err = config.ParseJobs(jobsFlag)
		if err != nil {
			return nil, err
		}
		if threads == 0 {
			threads = globalCfg.ThreadsPerFile
		}
	}

	minChunk, err := config.ParseSize(globalCfg.MinChunkSize)
	if err != nil {
		return nil, fmt.Errorf("invalid min_chunk_size: %w", err)
	}
	maxChunk, err := config.ParseSize(globalCfg.MaxChunkSize)
	if err != nil {
		return nil, fmt.Errorf("invalid max_chunk_size: %w", err)
	}

	opts := transfer.Options{
		Jobs:           jobs,
		ThreadsPerFile: threads,
		Chunker: transfer.Chunker{
			SingleRequestThreshold: minChunk,
			MinChunkSize:           minChunk,
			MaxChunkSize:           maxChunk,
		},
	}
	return transfer.NewCoordinator(globalClient, globalDigests, opts, logger), nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dandi",
		Short: "Client for uploading and downloading DANDI archive datasets",
		Long: `dandi synchronizes neurophysiology datasets between the local filesystem
and a DANDI archive instance. Uploads and downloads move files in verified
chunks with bounded concurrency; conflicts with existing files are handled
by a configurable policy.`,
		Example: `  dandi download DANDI:000123
  dandi download https://dandiarchive.org/dandiset/000123/draft
  dandi upload --dandiset 000123 ./rawdata
  dandi delete dandi://dandi/000123@draft/sub-01/scan.nwb
  dandi status --limit 10`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			var err error
			globalCfg, err = config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if instanceName != "" {
				globalCfg.Instance = instanceName
				if _, ok := globalCfg.Instances[instanceName]; !ok {
					return fmt.Errorf("unknown instance %q", instanceName)
				}
			}

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVarP(&instanceName, "dandi-instance", "i", "", "archive instance to talk to (dandi, dandi-staging, ...)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel(), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	cmd.AddCommand(
		newUploadCmd(),
		newDownloadCmd(),
		newDeleteCmd(),
		newStatusCmd(),
		newServiceScriptsCmd(),
		newConfigCmd(),
	)

	return cmd
}

func defaultLogLevel() string {
	if v := os.Getenv("DANDI_LOG_LEVEL"); v != "" {
		return strings.ToLower(v)
	}
	return "info"
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
