// Package main provides the entry point for the poolalloc command line tool.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/TFMV/poolalloc/cmd/poolalloc/config"
	"github.com/TFMV/poolalloc/pkg/allocator"
	"github.com/TFMV/poolalloc/pkg/infrastructure/metrics"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "poolalloc",
	Short: "Pool allocator tooling",
	Long: `Exercise and inspect the process-wide default allocator.

The default allocator serves requests from size-classed slabs carved out of a
single large arena, either a caller-supplied buffer or native memory.`,
	SilenceUsage: true,
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run a concurrent allocation workload against the default allocator",
	Long: `Run a concurrent allocation workload against the default allocator.

Example:
  poolalloc stress --workers 8 --operations 100000
  poolalloc stress --arena-size 16777216 --diagnostic --log-level debug
  poolalloc stress --arrow --metrics --duration 30s`,
	RunE: runStress,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Construct the default allocator and print its layout",
	RunE:  runDump,
}

func init() {
	rootCmd.AddCommand(stressCmd, dumpCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Int("arena-size", 0, "size of a caller-supplied arena in bytes (0 uses native memory)")
	flags.Int("native-arena-size", 64<<20, "native arena size in bytes")
	flags.Bool("diagnostic", false, "trace every allocator call")

	stressCmd.Flags().Int("workers", 4, "number of concurrent workers")
	stressCmd.Flags().Int("operations", 10000, "operations per worker")
	stressCmd.Flags().Int("max-size", 8<<10, "largest request size in bytes")
	stressCmd.Flags().Duration("duration", 0, "stop after this long (0 runs all operations)")
	stressCmd.Flags().Bool("arrow", false, "build Arrow arrays through the allocator")
	stressCmd.Flags().Int64("seed", 1, "random seed")
	stressCmd.Flags().Bool("metrics", false, "enable Prometheus metrics")
	stressCmd.Flags().String("metrics-address", ":9090", "metrics server address")

	// Bind flags to viper
	for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), stressCmd.Flags()} {
		if err := viper.BindPFlags(fs); err != nil {
			panic(fmt.Errorf("failed to bind flags: %w", err))
		}
	}
	viper.SetEnvPrefix("POOLALLOC")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("poolalloc\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogging(cfg.LogLevel)

	d, err := defaultAllocator(cfg, logger)
	if err != nil {
		return err
	}
	d.Dump(cmd.OutOrStdout())
	return nil
}

func runStress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogging(cfg.LogLevel)
	logger.Info().
		Str("version", version).
		Int("workers", cfg.Stress.Workers).
		Int("operations", cfg.Stress.Operations).
		Bool("arrow", cfg.Stress.Arrow).
		Msg("Starting stress workload")

	d, err := defaultAllocator(cfg, logger)
	if err != nil {
		return err
	}

	var collector metrics.Collector = metrics.NewNoOpCollector()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.NewPrometheusCollectorWith(reg)
		reg.MustRegister(metrics.NewStatsCollector(d))
		collector.RecordGauge(metrics.ConstructionState, float64(allocator.DefaultState()), "instance", d.ID().String())
		metricsServer := metrics.NewMetricsServerWith(cfg.Metrics.Address, cfg.Metrics.Path, reg)
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("Starting metrics server")
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer metricsServer.Stop()
	}

	var alloc allocator.Allocator = d
	if cfg.Allocator.Diagnostic {
		alloc = allocator.NewDiagnostic(d, logger, collector)
	}

	start := time.Now()
	res, err := runWorkload(cmd.Context(), alloc, cfg.Stress, logger)
	if err != nil {
		return err
	}

	st, _ := d.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d operations in %s (%d failed, %d arrow batches)\n",
		res.Operations, time.Since(start).Round(time.Millisecond), res.Failures, res.Batches)
	fmt.Fprintf(out, "peak live %s, arena %s of %s in use\n",
		humanize.IBytes(uint64(res.PeakBytes)), humanize.IBytes(uint64(st.Large.Used)),
		humanize.IBytes(uint64(st.Large.Size)))
	d.Dump(out)
	return nil
}

// defaultAllocator configures and builds the process-wide allocator.
func defaultAllocator(cfg *config.Config, logger zerolog.Logger) (*allocator.DefaultAllocator, error) {
	allocator.ConfigureDefault(
		allocator.WithLogger(logger),
		allocator.WithNativeArenaSize(cfg.Allocator.NativeArenaSize),
	)

	var region []byte
	if cfg.Allocator.ArenaSize > 0 {
		region = make([]byte, cfg.Allocator.ArenaSize)
	}
	d := allocator.Default(region)
	if !d.Initialized() {
		return nil, fmt.Errorf("default allocator unavailable: %w", d.Err())
	}
	return d, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// Load config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		return config.LoadFromFile(configFile)
	}

	cfg := &config.Config{
		LogLevel: viper.GetString("log-level"),
		Allocator: config.AllocatorConfig{
			ArenaSize:       viper.GetInt("arena-size"),
			NativeArenaSize: viper.GetInt("native-arena-size"),
			Diagnostic:      viper.GetBool("diagnostic"),
		},
		Stress: config.StressConfig{
			Workers:    viper.GetInt("workers"),
			Operations: viper.GetInt("operations"),
			MaxSize:    viper.GetInt("max-size"),
			Duration:   viper.GetDuration("duration"),
			Arrow:      viper.GetBool("arrow"),
			Seed:       viper.GetInt64("seed"),
		},
		Metrics: config.MetricsConfig{
			Enabled: viper.GetBool("metrics"),
			Address: viper.GetString("metrics-address"),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setupLogging(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	return zerolog.New(os.Stderr).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "poolalloc").
		Logger()
}
