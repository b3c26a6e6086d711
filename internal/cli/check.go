package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	checkOracle     oracleFlags
	candidatesPath  string
	requestPath     string
	checkOutJSON    string
	checkTimeout    time.Duration
	checkNoSummary  bool
	checkCompactOut bool
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [claim]",
	Short: "Decide one claim against candidate evidence",
	Long: `Check runs one claim through the engine:
- Resolve each source's reputation, risk and page quality
- Penalize co-owned outlets and copied content
- Select a bounded, category-diverse subset
- Gate off-topic evidence and classify stance
- Aggregate credibility-weighted consensus and decide

Candidates come from --candidates (JSON array), --request (a JSON request
with claim and candidates), or the configured retrieval channels.

Example:
  tru8 check "Coffee reduces heart disease risk" --candidates evidence.json
  tru8 check --request request.json --json verdict.json
  tru8 check "Water boils at 100C" --provider openai --similarity openai`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&candidatesPath, "candidates", "", "JSON file with an array of evidence candidates")
	checkCmd.Flags().StringVar(&requestPath, "request", "", "JSON file with a full check request")
	checkCmd.Flags().StringVar(&checkOutJSON, "json", "", "write the verdict to this path instead of stdout")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 2*time.Minute, "overall check timeout")
	checkCmd.Flags().BoolVar(&checkNoSummary, "no-summary", false, "do not print the summary to stderr")
	checkCmd.Flags().BoolVar(&checkCompactOut, "compact", false, "single-line JSON output")
	checkOracle.register(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	checkOracle.apply(cmd, cfg)

	engine, logger, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		_ = engine.Close()
		_ = logger.Sync()
	}()

	if len(req.Candidates) == 0 && !engine.HasChannels() {
		fmt.Fprintf(os.Stderr, "Warning: no candidates and no retrieval channels configured\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	if verbose {
		fmt.Fprintf(os.Stderr, "Checking: %s\n", req.Claim.Text)
		fmt.Fprintf(os.Stderr, "Candidates: %d\n", len(req.Candidates))
		fmt.Fprintf(os.Stderr, "Classifier: %s, similarity: %s\n", cfg.Oracle.Provider, cfg.Oracle.SimilarityProvider)
		fmt.Fprintln(os.Stderr)
	}

	verdict, err := engine.Check(ctx, req)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	renderer := pipeline.NewRenderer(cfg.Output.Pretty && !checkCompactOut)
	if checkOutJSON != "" {
		if err := renderer.RenderJSON(verdict, checkOutJSON); err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", checkOutJSON)
		}
	} else if err := renderer.WriteJSON(os.Stdout, verdict); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	if !checkNoSummary {
		renderer.RenderSummary(os.Stderr, verdict)
	}
	return nil
}

// buildRequest assembles the request from the claim argument and the input files
func buildRequest(args []string) (model.CheckRequest, error) {
	var req model.CheckRequest

	if requestPath != "" {
		data, err := os.ReadFile(requestPath)
		if err != nil {
			return req, fmt.Errorf("read request: %w", err)
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse request %s: %w", requestPath, err)
		}
	}

	if len(args) == 1 {
		req.Claim.Text = args[0]
	}
	if strings.TrimSpace(req.Claim.Text) == "" {
		return req, fmt.Errorf("a claim is required (argument or --request)")
	}

	if candidatesPath != "" {
		data, err := os.ReadFile(candidatesPath)
		if err != nil {
			return req, fmt.Errorf("read candidates: %w", err)
		}
		var cands []model.EvidenceCandidate
		if err := json.Unmarshal(data, &cands); err != nil {
			return req, fmt.Errorf("parse candidates %s: %w", candidatesPath, err)
		}
		req.Candidates = append(req.Candidates, cands...)
	}

	return req, nil
}
