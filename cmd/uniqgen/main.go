package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eworthing/uniqgen/internal/canon"
	"github.com/eworthing/uniqgen/internal/config"
	"github.com/eworthing/uniqgen/internal/generate"
	"github.com/eworthing/uniqgen/internal/llm"
	"github.com/eworthing/uniqgen/internal/telemetry"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string
	model      string

	// generate flags
	count    int
	seed     uint64
	testID   string
	unguided bool
	asJSON   bool

	// key flags
	keepPlurals bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "uniqgen",
	Short: "uniqgen - exactly-N distinct items from a probabilistic generator",
	Long: `uniqgen obtains exactly N semantically distinct text items from a
generative language model. Near-duplicates ("The Matrix" vs "Matrix (1999)")
are collapsed by key normalization; shortfalls are closed with bounded
backfill passes that feed the already-seen items back as avoid-lists.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if model != "" {
			cfg.LLM.Model = model
		}

		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [query]",
	Short: "Generate exactly N distinct items for a query",
	Long: `Generates a list of items matching the query whose normalization keys
are pairwise distinct. If the model cannot produce enough distinct items
within the configured round budget, the partial list is printed and the
shortfall reported on stderr; the exit code stays zero.

Example:
  uniqgen generate -n 25 "1980s arcade games"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

var keyCmd = &cobra.Command{
	Use:   "key [text ...]",
	Short: "Print the normalization key for each input",
	Long: `Shows how inputs collapse under key normalization. Two inputs with the
same key are treated as duplicates during generation.

Example:
  uniqgen key "The Matrix" "matrix (1999)" "Heroes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runKey,
}

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Summarize recorded generation attempts",
	RunE:  runTelemetry,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "uniqgen.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model override")

	generateCmd.Flags().IntVarP(&count, "count", "n", 10, "Number of distinct items to generate")
	generateCmd.Flags().Uint64Var(&seed, "seed", 7919, "Base seed for reproducible runs")
	generateCmd.Flags().StringVar(&testID, "test-id", "", "Label attached to telemetry records")
	generateCmd.Flags().BoolVar(&unguided, "unguided", false, "Use free-text generation instead of structured output")
	generateCmd.Flags().BoolVar(&asJSON, "json", false, "Emit items and diagnostics as JSON")

	keyCmd.Flags().BoolVar(&keepPlurals, "keep-plurals", false, "Skip the plural-trimming stage")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(telemetryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	cfg.Generation.Unguided = unguided
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	query := strings.Join(args, " ")

	gcfg := llm.DefaultGeminiConfig(cfg.LLM.APIKey)
	gcfg.Model = cfg.LLM.Model
	gcfg.Timeout = cfg.GetLLMTimeout()
	svc, err := llm.NewGeminiService(ctx, gcfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	gen := generate.New(svc, cfg.Generation, logger)
	items, diag, err := gen.UniqueList(ctx, query, count, seed)

	// Attempts that happened are worth recording even when the run failed.
	recorder := telemetry.NewRecorder(cfg.Telemetry, logger)
	runID, recErr := recorder.RecordRun(telemetry.Run{
		TestID:      testID,
		Query:       query,
		TargetCount: count,
		Model:       cfg.LLM.Model,
	}, diag)
	if recErr != nil {
		logger.Warn("failed to record telemetry", zap.Error(recErr))
	}

	if err != nil {
		return err
	}

	if asJSON {
		out := struct {
			RunID       string               `json:"run_id"`
			Query       string               `json:"query"`
			Items       []string             `json:"items"`
			Diagnostics generate.Diagnostics `json:"diagnostics"`
		}{runID, query, items, diag}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, item := range items {
		fmt.Println(item)
	}
	if !diag.Success {
		fmt.Fprintf(os.Stderr, "warning: %s\n", diag.FailureReason)
	}
	return nil
}

func runKey(cmd *cobra.Command, args []string) error {
	keyer := canon.Options{TrimPlurals: !keepPlurals}
	for _, arg := range args {
		fmt.Printf("%-40q %s\n", arg, keyer.Key(arg))
	}
	return nil
}

func runTelemetry(cmd *cobra.Command, args []string) error {
	records, err := telemetry.ReadAll(cfg.Telemetry.Path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No telemetry recorded yet.")
		return nil
	}

	runs := make(map[string]telemetry.AttemptRecord)
	succeeded := 0
	var dupRateSum float64
	var elapsedSum float64
	for _, rec := range records {
		elapsedSum += rec.ElapsedSeconds
		if _, seen := runs[rec.RunID]; !seen {
			runs[rec.RunID] = rec
			dupRateSum += rec.DupRate
			if rec.Success {
				succeeded++
			}
		}
	}

	fmt.Printf("Telemetry: %s\n", cfg.Telemetry.Path)
	fmt.Printf("  runs:           %d\n", len(runs))
	fmt.Printf("  attempts:       %d\n", len(records))
	fmt.Printf("  succeeded:      %d/%d\n", succeeded, len(runs))
	fmt.Printf("  mean dup rate:  %.3f\n", dupRateSum/float64(len(runs)))
	fmt.Printf("  total call time: %.1fs\n", elapsedSum)
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
