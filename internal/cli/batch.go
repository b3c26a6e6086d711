package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/tru8/internal/pipeline"
	"github.com/ppiankov/tru8/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchOracle  oracleFlags
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Check many claims from a file in parallel",
	Long: `Batch checks claims concurrently:
- Read one request per line: a JSON check request or plain claim text
- Check claims in parallel with a configurable worker count
- A failing claim never aborts the batch
- Write one verdict file per claim under a per-run directory

Example:
  tru8 batch claims.jsonl
  tru8 batch claims.txt --concurrency 8 --output-dir ./verdicts
  tru8 batch claims.jsonl --timeout 30m --provider ollama --model llama3.1`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "claims checked in parallel (default: concurrency.claim_workers)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./tru8-verdicts", "output directory for verdicts")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchOracle.register(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	batchOracle.apply(cmd, cfg)

	workers := concurrency
	if workers <= 0 {
		workers = cfg.Concurrency.ClaimWorkers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	runID := uuid.NewString()
	runDir := filepath.Join(outputDir, runID)

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  tru8 Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Run:          %s\n", runID)
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", runDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "  Classifier:   %s\n", cfg.Oracle.Provider)
	fmt.Fprintf(os.Stderr, "\n")

	reqs, err := worker.ReadRequestsFromFile(file)
	if err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d claims\n", len(reqs))

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	engine, logger, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		_ = engine.Close()
		_ = logger.Sync()
	}()
	logger = logger.With(zap.String("run_id", runID))

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "⚙️  Checking claims with %d workers...\n", workers)
	fmt.Fprintf(os.Stderr, "\n")

	results := worker.NewBatchProcessor(engine, workers).ProcessRequests(ctx, reqs)

	renderer := pipeline.NewRenderer(cfg.Output.Pretty)
	successCount := 0
	failureCount := 0

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			logger.Warn("claim failed",
				zap.Int("index", result.Index),
				zap.String("claim_id", result.ClaimID),
				zap.Error(result.Error))
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", shorten(result.ClaimText), firstLine(result.Error))
			continue
		}

		path := filepath.Join(runDir, fmt.Sprintf("%04d-%s.json", result.Index+1, sanitizeFilename(result.ClaimID)))
		if err := renderer.RenderJSON(*result.Verdict, path); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", shorten(result.ClaimText), err)
			continue
		}

		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (%s, %d/100)\n", shorten(result.ClaimText), result.Verdict.Label, result.Verdict.Confidence)
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d claims\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", runDir)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

// sanitizeFilename keeps letters, digits, dashes and underscores
func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	if len(out) > 100 {
		out = out[:100]
	}
	if out == "" {
		out = "claim"
	}
	return out
}

func shorten(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= 60 {
		return string(r)
	}
	return string(r[:59]) + "…"
}

// firstLine drops the stack trace a recovered panic carries
func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
