package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/ppiankov/tru8/internal/logging"
	"github.com/ppiankov/tru8/internal/model"
	"github.com/ppiankov/tru8/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Version is set at build time
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tru8",
	Short: "tru8 - evidence credibility & verdict aggregation",
	Long: `tru8 weighs candidate evidence for a claim and emits a verdict.

Each source is scored for reputation, checked for shared ownership and
copied content, gated for relevance, and classified for stance. The
credibility-weighted consensus decides the verdict, or tru8 abstains
when the evidence is too thin or too conflicted.

Every verdict carries its reasoning trail and per-source breakdown.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of tru8.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tru8 %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.tru8/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env files, then the config file and TRU8_* environment variables
func initConfig() {
	envFile := os.Getenv("TRU8_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(filepath.Join(home, ".tru8"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// TRU8_ORACLE_PROVIDER overrides oracle.provider
	viper.SetEnvPrefix("TRU8")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := setDefaults(viper.GetViper(), model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering defaults: %v\n", err)
	}
	// keys without a marshalled default still need an env binding
	for _, key := range []string{"oracle.api_key", "oracle.base_url", "oracle.similarity_api_key",
		"oracle.similarity_base_url", "cache.redis_password",
		"http.http_proxy", "http.https_proxy", "http.no_proxy"} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every default so environment variables can override nested keys
func setDefaults(v *viper.Viper, cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	flatten("", tree, v.SetDefault)
	return nil
}

func flatten(prefix string, tree map[string]interface{}, set func(string, interface{})) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// loadConfig resolves the effective configuration: flags are applied by the caller on top
// of env, config file and defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyProviderEnv(cfg)
	return cfg, nil
}

// applyProviderEnv fills the oracle keys and base URLs from the providers' own variables.
// The stance classifier and the similarity oracle resolve their credentials separately.
func applyProviderEnv(cfg *model.Config) {
	o := &cfg.Oracle
	o.APIKey, o.BaseURL = providerEnv(o.Provider, o.APIKey, o.BaseURL)
	o.SimilarityAPIKey, o.SimilarityBaseURL = providerEnv(o.SimilarityProvider, o.SimilarityAPIKey, o.SimilarityBaseURL)
}

// providerEnv returns key and baseURL with empty values taken from the provider's environment
func providerEnv(provider, key, baseURL string) (string, string) {
	switch strings.ToLower(provider) {
	case "openai":
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return key, baseURL
}

// oracleFlags are the per-run overrides shared by check and batch
type oracleFlags struct {
	provider   string
	model      string
	similarity string
	noCache    bool
}

func (f *oracleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "stance classifier (openai, anthropic, ollama, static)")
	cmd.Flags().StringVar(&f.model, "model", "", "stance classifier model")
	cmd.Flags().StringVar(&f.similarity, "similarity", "", "similarity oracle (lexical, openai, ollama)")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the oracle and reputation cache")
}

func (f *oracleFlags) apply(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("provider") {
		cfg.Oracle.Provider = f.provider
	}
	if cmd.Flags().Changed("model") {
		cfg.Oracle.Model = f.model
	}
	if cmd.Flags().Changed("similarity") {
		cfg.Oracle.SimilarityProvider = f.similarity
	}
	if f.noCache {
		cfg.Cache.Enabled = false
	}
	cfg.Output.Verbose = verbose
	applyProviderEnv(cfg)
}

// newEngine builds the logger and engine for a command run
func newEngine(cfg *model.Config) (*pipeline.Engine, *zap.Logger, error) {
	logger := logging.Must(cfg.Output.Verbose)
	engine, err := pipeline.NewEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}
