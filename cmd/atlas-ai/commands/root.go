package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Matza-labs/atlas-ai/internal/config"
	"github.com/Matza-labs/atlas-ai/internal/logging"
	"github.com/Matza-labs/atlas-ai/internal/printer"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	rootMode   string
	rootInfo   bool
)

var rootCmd = &cobra.Command{
	Use:   "atlas-ai",
	Short: "PipelineAtlas AI Modernization Advisor",
	Long: `atlas-ai turns deterministic CI/CD analysis reports into modernization
roadmaps and executive summaries using a local or cloud LLM.

Every recommendation must cite the evidence it was generated from; citations
of unknown evidence are flagged or rejected depending on the grounding policy.

Modes:
  stdin  - Read one JSON report from standard input, write the result as JSON
  stream - Consume atlas.reports.ready events from Redis until interrupted

Examples:
  # Analyze a single report
  atlas-ai < report.json

  # Run as a stream consumer
  ATLAS_REDIS_URL=redis://redis:6379 atlas-ai --mode stream

  # Show the configured backend
  atlas-ai --info`,
	Args: cobra.NoArgs,
	RunE: runRoot,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (default $ATLAS_AI_CONFIG)")
	rootCmd.Flags().StringVar(&rootMode, "mode", "", "Run mode: stdin or stream (default $ATLAS_AI_MODE, else stdin)")
	rootCmd.Flags().BoolVar(&rootInfo, "info", false, "Print the configured backend and exit")
}

func runRoot(cmd *cobra.Command, args []string) error {
	modeFlag := func(c *config.Config) {
		if rootMode != "" {
			c.Mode = rootMode
		}
	}

	// --info reports the configuration even when it would not validate.
	if rootInfo {
		cfg, err := config.Resolve(configFile(), modeFlag)
		if err != nil {
			return configError(err)
		}
		printInfo(cfg)
		return nil
	}

	cfg, err := loadConfig(modeFlag)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return printer.Error(
			"invalid logging configuration",
			err.Error(),
			[]string{"Set ATLAS_AI_LOG_LEVEL to debug, info, warn or error", "Set ATLAS_AI_LOG_FORMAT to json or console"},
		)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("starting",
		zap.String("mode", cfg.Mode),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("version", version))

	if cfg.Mode == config.ModeStream {
		return runStream(cmd.Context(), cfg, logger)
	}
	return runStdin(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
}

// configFile returns --config, falling back to ATLAS_AI_CONFIG.
func configFile() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("ATLAS_AI_CONFIG")
}

// loadConfig loads and validates the configuration.
func loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadFrom(configFile(), overrides...)
	if err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

func configError(err error) error {
	return printer.Error(
		"invalid configuration",
		err.Error(),
		[]string{
			"Check the ATLAS_AI_* and LLM_* environment variables",
			"Check the YAML file passed with --config or ATLAS_AI_CONFIG",
		},
	)
}

func printInfo(cfg *config.Config) {
	printer.Info("PipelineAtlas AI Modernization Advisor\n")
	printer.Field("Provider", cfg.LLM.Provider)
	printer.Field("Model", cfg.LLM.Model)
	printer.Field("Base URL", cfg.LLM.BaseURL)
	printer.Field("Mode", cfg.Mode)
	if version != "" {
		printer.Field("Version", version)
	}
}
