package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/tru8/internal/reputation"
	"github.com/spf13/cobra"
)

var resolveJSON bool

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <url>...",
	Short: "Show the reputation resolution for source URLs",
	Long: `Resolve prints what the reputation tables say about each URL: base
credibility, category, how the domain matched, and any risk flags.
Useful when editing table overrides.

Example:
  tru8 resolve https://www.reuters.com/world https://babylonbee.com/news/x
  tru8 resolve https://example.org --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print resolutions as JSON")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Output.Verbose = verbose

	engine, logger, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		_ = engine.Close()
		_ = logger.Sync()
	}()

	resolutions := make([]reputation.Resolution, 0, len(args))
	for _, u := range args {
		resolutions = append(resolutions, engine.Resolver().Resolve(u, "", ""))
	}

	if resolveJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resolutions)
	}

	for _, r := range resolutions {
		fmt.Printf("%s\n", r.URL)
		fmt.Printf("  Domain:       %s\n", r.Domain)
		fmt.Printf("  Credibility:  %.2f (%s)\n", r.BaseCredibility, r.MatchedBy)
		fmt.Printf("  Category:     %s\n", r.Category)
		fmt.Printf("  Risk:         %s", r.RiskLevel)
		if len(r.RiskFlags) > 0 {
			fmt.Printf(" [%s]", strings.Join(r.RiskFlags, ", "))
		}
		fmt.Printf(" ×%.2f\n", r.RiskAdjustment)
		fmt.Println()
	}
	return nil
}
