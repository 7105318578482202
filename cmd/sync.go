package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hireloop/interview-intake/internal/logger"
	"github.com/hireloop/interview-intake/internal/reconcile"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var confirmPrompt = promptui.Select{
	Label: "Proceed?",
	Items: []string{PromptYes, PromptNo},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Compare local candidates against the ElevenLabs history and repair drift",
}

var syncVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report sync status without writing anything",
	Run: func(cmd *cobra.Command, _ []string) {
		runSync(cmd, func(ctx context.Context, r *reconcile.Reconciler, cmd *cobra.Command, logger *zap.Logger) error {
			report, err := r.VerifySyncStatus(ctx, flagDuration(cmd, "window"))
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

var syncBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay a window of the conversation history through ingestion",
	Run: func(cmd *cobra.Command, _ []string) {
		runSync(cmd, func(ctx context.Context, r *reconcile.Reconciler, cmd *cobra.Command, logger *zap.Logger) error {
			opts := reconcile.BackfillOptions{
				SkipExisting: flagBool(cmd, "skip-existing"),
				DryRun:       flagBool(cmd, "dry-run"),
			}
			if window := flagDuration(cmd, "window"); window > 0 {
				opts.To = time.Now().UTC()
				opts.From = opts.To.Add(-window)
			}

			if !opts.DryRun && !flagBool(cmd, "yes") {
				if !confirm(logger) {
					logger.Info("exiting", zap.String("reason", "got no from prompt"))
					return nil
				}
			}

			report, err := r.Backfill(ctx, opts)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

var syncHealCmd = &cobra.Command{
	Use:   "heal",
	Short: "Detect missing conversations and ingest them",
	Run: func(cmd *cobra.Command, _ []string) {
		runSync(cmd, func(ctx context.Context, r *reconcile.Reconciler, cmd *cobra.Command, logger *zap.Logger) error {
			window := flagDuration(cmd, "window")

			if !flagBool(cmd, "yes") {
				gaps, err := r.DetectGaps(ctx, window)
				if err != nil {
					return err
				}
				if len(gaps.Missing) == 0 && len(gaps.Mismatched) == 0 {
					logger.Info("no gaps detected")
					return nil
				}
				if err := printReport(gaps); err != nil {
					return err
				}
				if !confirm(logger) {
					logger.Info("exiting", zap.String("reason", "got no from prompt"))
					return nil
				}
			}

			report, err := r.HealGaps(ctx, window)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncVerifyCmd, syncBackfillCmd, syncHealCmd)

	for _, cmd := range []*cobra.Command{syncVerifyCmd, syncBackfillCmd, syncHealCmd} {
		cmd.Flags().Duration("window", 0, "how far back to look (default depends on the command)")
	}

	syncBackfillCmd.Flags().Bool("skip-existing", false, "do not re-ingest conversations already stored locally")
	syncBackfillCmd.Flags().Bool("dry-run", false, "report volume without writing anything")
	syncBackfillCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	syncHealCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

// runSync wires a short-lived pipeline and hands it to the subcommand body.
func runSync(cmd *cobra.Command, body func(context.Context, *reconcile.Reconciler, *cobra.Command, *zap.Logger) error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config == nil || config.ElevenLabs == nil || config.ElevenLabs.AgentID == "" {
		logger.Fatal("agent id is required under elevenlabs.agent-id")
	}

	apiKey, err := resolveAPIKey(config)
	if err != nil {
		logger.Fatal("loading elevenlabs api key", zap.Error(err))
	}

	deps, err := buildPipeline(ctx, config, apiKey, logger)
	if err != nil {
		logger.Fatal("building the pipeline", zap.Error(err))
	}
	defer deps.store.Close()

	if err := body(ctx, deps.reconciler, cmd, logger); err != nil {
		logger.Fatal("sync command failed", zap.Error(err))
	}
}

func confirm(logger *zap.Logger) bool {
	_, action, err := confirmPrompt.Run()
	if err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
	return action == PromptYes
}

func printReport(report interface{}) error {
	pretty, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func flagDuration(cmd *cobra.Command, name string) time.Duration {
	v, _ := cmd.Flags().GetDuration(name)
	return v
}
