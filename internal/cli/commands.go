// Package cli provides the kistrade command-line interface. Argument parsing
// and output formatting live here; the verbs themselves are methods on
// trading.App.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hayoon/kistrade/config"
	"github.com/hayoon/kistrade/internal/screener"
	"github.com/hayoon/kistrade/internal/trading"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	// Initialize configuration early
	cfg := config.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "kistrade",
		Short: "kistrade - KIS overseas portfolio reconciliation and execution",
		Long: `kistrade keeps a local portfolio book reconciled against a KIS overseas
stock account and turns rebalancing decisions into validated broker orders.
Proposals and executions are separate steps: propose stores a priced plan as
a pending session, execute submits it after a fresh validation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				cfg.LogLevel = level
			}
			setupLogging(cfg)

			// Ensure directories exist
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("failed to create directories: %w", err)
			}
			return nil
		},
	}

	// Add subcommands
	rootCmd.AddCommand(newSyncCmd(cfg))
	rootCmd.AddCommand(newProposeCmd(cfg))
	rootCmd.AddCommand(newExecuteCmd(cfg))
	rootCmd.AddCommand(newStatusCmd(cfg))
	rootCmd.AddCommand(newScreenCmd(cfg))
	rootCmd.AddCommand(newReportCmd(cfg))
	rootCmd.AddCommand(newConfigCmd(cfg))
	rootCmd.AddCommand(newVersionCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

// setupLogging sets the global zerolog level and routes logs to stderr so
// they never interleave with the rendered output on stdout.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// openApp wires the application. Verbs that talk to the broker require full
// credentials; read-only verbs run with whatever is configured.
func openApp(cfg *config.Config, needBroker bool) (*trading.App, error) {
	if needBroker {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return trading.New(cfg)
}

// newSyncCmd creates the sync command
func newSyncCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replace the local book with broker cash and holdings",
		Long: `Fetch overseas positions and cash from KIS and overwrite the local book.
The broker is the source of truth: holdings present only locally disappear,
holdings present only at the broker appear. Transaction history is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncCommand(cfg)
		},
	}
}

// newProposeCmd creates the propose command
func newProposeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Build, validate and store a rebalancing proposal",
		Long: `Snapshot the book, ask the committee for a rebalancing plan (or read one
from a file), price it into orders and store them as a pending session.
Nothing is submitted to the broker.
Example: kistrade propose --plan-file=plan.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			planFile, _ := cmd.Flags().GetString("plan-file")
			noScreen, _ := cmd.Flags().GetBool("no-screen")
			noNews, _ := cmd.Flags().GetBool("no-news")

			return runProposeCommand(cfg, trading.ProposeOptions{
				PlanFile: planFile,
				NoScreen: noScreen,
				NoNews:   noNews,
			})
		},
	}

	// Propose command flags
	cmd.Flags().String("plan-file", "", "Skip the committee and read the plan from this file")
	cmd.Flags().Bool("no-screen", false, "Leave screener candidates out of the committee prompt")
	cmd.Flags().Bool("no-news", false, "Leave news headlines out of the committee prompt")

	return cmd
}

// newExecuteCmd creates the execute command
func newExecuteCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute [SESSION-ID]",
		Short: "Submit a stored pending session to the broker",
		Long: `Load a pending session (the latest one when no id is given), show its plan,
ask for confirmation, then validate and submit the orders, sells first.
Example: kistrade execute --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) > 0 {
				sessionID = args[0]
			}
			yes, _ := cmd.Flags().GetBool("yes")
			noSync, _ := cmd.Flags().GetBool("no-sync")

			return runExecuteCommand(cfg, sessionID, yes, noSync)
		},
	}

	// Execute command flags
	cmd.Flags().Bool("yes", false, "Submit without the confirmation prompt")
	cmd.Flags().Bool("no-sync", false, "Skip the post-batch broker sync")

	return cmd
}

// newStatusCmd creates the status command
func newStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the valued book, its risk profile and any pending session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusCommand(cfg)
		},
	}
}

// newScreenCmd creates the screen command
func newScreenCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "screen [STRATEGY]",
		Short: "Scan the stock universes for buy candidates",
		Long: fmt.Sprintf(`Score the per-strategy universes and print candidates worth the committee's
attention. Strategies: %s. All of them run when none is given.`,
			strings.Join(strategyNames(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy := ""
			if len(args) > 0 {
				strategy = strings.ToLower(args[0])
			}
			return runScreenCommand(cfg, strategy)
		},
	}
}

// newReportCmd creates the report command
func newReportCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show overall performance and recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			save, _ := cmd.Flags().GetBool("save")
			return runReportCommand(cfg, save)
		},
	}

	cmd.Flags().Bool("save", false, "Write the report as JSON into the results directory")

	return cmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kistrade v1.0.0")
			fmt.Println("KIS overseas portfolio reconciliation and execution")
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(cfg *config.Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Inspect and validate the kistrade configuration",
	}

	// config show subcommand
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			showConfig(cfg)
		},
	})

	// config validate subcommand
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cfg)
		},
	})

	return configCmd
}

// runSyncCommand pulls the broker book over the local one
func runSyncCommand(cfg *config.Config) error {
	app, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Println("🔄 Syncing the book with the broker...")
	report, err := app.Sync(context.Background())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	DisplaySyncReport(report, cfg.TradeCurrency)
	return nil
}

// runProposeCommand builds and stores one proposal
func runProposeCommand(cfg *config.Config, opts trading.ProposeOptions) error {
	app, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Println("🧮 Building a rebalancing proposal...")
	proposal, err := app.Propose(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("propose failed: %w", err)
	}

	DisplayProposal(proposal, cfg.TradeCurrency)

	if proposal.SessionID == "" {
		DisplayInfo("Nothing actionable; no session was stored.")
		return nil
	}

	DisplaySuccess(fmt.Sprintf("Session %s stored, expires %s.",
		proposal.SessionID, proposal.ExpiresAt.Local().Format("15:04:05")))
	fmt.Println("💡 Review the plan above, then run 'kistrade execute' to submit it.")
	return nil
}

// runExecuteCommand submits a pending session after confirmation
func runExecuteCommand(cfg *config.Config, sessionID string, yes, skipSync bool) error {
	app, err := openApp(cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()

	rec, plan, err := app.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	DisplayPlan(rec, plan)

	if !yes {
		confirmed, err := ConfirmExecution(len(plan.Orders))
		if err != nil {
			return err
		}
		if !confirmed {
			DisplayInfo("Execution cancelled; the session stays pending until it expires.")
			return nil
		}
	}

	fmt.Printf("🚀 Executing session %s...\n", rec.ID)
	report, err := app.Execute(ctx, trading.ExecuteOptions{SessionID: rec.ID, SkipSync: skipSync})
	if err != nil {
		return fmt.Errorf("execute failed: %w", err)
	}

	DisplayExecutionReport(report)
	return nil
}

// runStatusCommand shows the account view
func runStatusCommand(cfg *config.Config) error {
	app, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Status(context.Background())
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	DisplayHeader("📊 Account status")
	DisplaySnapshot(st.Snapshot, cfg.TradeCurrency)
	DisplayRisk(st.Risk)
	DisplayPendingSession(st.Pending)
	return nil
}

// runScreenCommand scans one or all universes
func runScreenCommand(cfg *config.Config, strategy string) error {
	app, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Println("🔍 Scanning universes, this can take a minute...")
	results, err := app.Screen(context.Background(), screener.Strategy(strategy))
	if err != nil {
		return fmt.Errorf("screen failed: %w", err)
	}

	DisplayCandidates(results)
	return nil
}

// runReportCommand shows performance and recent sessions
func runReportCommand(cfg *config.Config, save bool) error {
	app, err := openApp(cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Report(context.Background())
	if err != nil {
		return fmt.Errorf("report failed: %w", err)
	}

	DisplayPerformance(report, cfg.TradeCurrency)

	if save {
		path, err := saveReport(cfg, report)
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		DisplaySuccess(fmt.Sprintf("Report saved to %s", path))
	}
	return nil
}

// saveReport writes the report into the results directory, one timestamped
// JSON file per run.
func saveReport(cfg *config.Config, report *trading.PerformanceReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("report_%s.json", time.Now().Format("2006-01-02_150405"))
	path := filepath.Join(cfg.ResultsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// showConfig displays the current configuration
func showConfig(cfg *config.Config) {
	fmt.Println("📋 Current kistrade configuration:")
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("Data Directory:       %s\n", cfg.DataDir)
	fmt.Printf("Cache Directory:      %s\n", cfg.CacheDir)
	fmt.Printf("Results Directory:    %s\n", cfg.ResultsDir)
	fmt.Printf("Ledger File:          %s\n", cfg.LedgerPath())
	fmt.Printf("Session Database:     %s\n", cfg.SessionDBPath())
	fmt.Println()
	fmt.Printf("KIS Base URL:         %s\n", cfg.KISBaseURL)
	fmt.Printf("Exchange Segments:    %s\n", strings.Join(cfg.ExchangeSegments, ", "))
	fmt.Printf("Trade Currency:       %s\n", cfg.TradeCurrency)
	fmt.Printf("Quote Source:         %s\n", cfg.QuoteSource)
	fmt.Println()
	fmt.Printf("Max Order Value:      %.2f\n", cfg.MaxOrderValue)
	fmt.Printf("Max Position Pct:     %.0f%%\n", cfg.MaxPositionPct*100)
	fmt.Printf("Min Cash Reserve:     %.2f\n", cfg.MinCashReserve)
	fmt.Printf("Initial Cash:         %.2f\n", cfg.InitialCash)
	fmt.Println()
	fmt.Printf("LLM Provider:         %s\n", cfg.LLMProvider)
	fmt.Printf("LLM Model:            %s\n", cfg.LLMModel)
	fmt.Printf("Session TTL:          %d minutes\n", cfg.SessionTTLMinutes)
	fmt.Printf("Cache Enabled:        %t\n", cfg.CacheEnabled)
	fmt.Printf("Cache TTL:            %d minutes\n", cfg.CacheTTLMinutes)
	fmt.Printf("Debug Mode:           %t\n", cfg.DebugEnabled)
	if cfg.DebugEnabled {
		fmt.Printf("Debug URL:            http://localhost:%d\n", cfg.DebugPort)
	}
	fmt.Println()

	// Integrations
	fmt.Println("🔌 API Configuration:")
	fmt.Println("─────────────────────")
	if cfg.KISAppKey != "" && cfg.KISAppSecret != "" {
		fmt.Println("KIS OpenAPI:          ✅ Configured")
	} else {
		fmt.Println("KIS OpenAPI:          ❌ Not configured")
	}

	if cfg.HasLLM() {
		fmt.Println("LLM Committee:        ✅ Configured")
	} else {
		fmt.Println("LLM Committee:        ❌ Not configured")
	}

	if cfg.LongportAppKey != "" && cfg.LongportAppSecret != "" && cfg.LongportAccessToken != "" {
		fmt.Println("Longport Quotes:      ✅ Configured")
	} else {
		fmt.Println("Longport Quotes:      ❌ Not configured")
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		fmt.Println("Telegram Alerts:      ✅ Configured")
	} else {
		fmt.Println("Telegram Alerts:      ❌ Not configured")
	}
}

// validateConfig validates the configuration and credentials
func validateConfig(cfg *config.Config) error {
	fmt.Println("🔍 Validating kistrade configuration...")
	fmt.Println("═══════════════════════════════════════")

	// Check directories
	fmt.Print("📁 Checking directories... ")
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Println("❌")
		return fmt.Errorf("directory validation failed: %w", err)
	}
	fmt.Println("✅")

	// Check configuration values and broker credentials
	fmt.Print("⚙️  Checking configuration values... ")
	if err := cfg.Validate(); err != nil {
		fmt.Println("❌")
		return err
	}
	fmt.Println("✅")

	// Check optional integrations
	fmt.Print("🔑 Checking optional integrations... ")
	warnings := []string{}

	if !cfg.HasLLM() {
		warnings = append(warnings, "no LLM API key configured; propose needs --plan-file")
	}
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		warnings = append(warnings, "Telegram notifications not configured")
	}

	if len(warnings) > 0 {
		fmt.Println("⚠️")
		for _, warning := range warnings {
			fmt.Printf("  ⚠️  %s\n", warning)
		}
	} else {
		fmt.Println("✅")
	}

	fmt.Println()
	if len(warnings) == 0 {
		fmt.Println("✅ Configuration validation completed successfully!")
	} else {
		fmt.Printf("⚠️  Configuration validation completed with %d warnings.\n", len(warnings))
		fmt.Println("Some features may be limited without the optional integrations.")
	}

	fmt.Println()
	fmt.Println("💡 Tips:")
	fmt.Println("  • Set KIS_APP_KEY, KIS_APP_SECRET, KIS_ACCOUNT_NO and KIS_ACCOUNT_CODE for broker access")
	fmt.Println("  • Set DEEPSEEK_API_KEY (or OPENAI_API_KEY with LLM_PROVIDER=openai) for committee proposals")
	fmt.Println("  • Run 'kistrade sync' to pull the broker book before the first proposal")

	return nil
}

func strategyNames() []string {
	strategies := screener.Strategies()
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = string(s)
	}
	return names
}
