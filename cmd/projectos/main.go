// projectos is the multi-tenant project-memory assistant core.
//
// It serves the chat pipeline over HTTP/WebSocket (serve), runs single turns
// from the command line (turn), forces a distillation pass (distill), and
// prints the truth-bound project pulse (pulse).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"projectos/internal/config"
	"projectos/internal/logging"
	"projectos/internal/perception"
	"projectos/internal/pipeline"
	"projectos/internal/server"
	"projectos/internal/store"
)

var (
	// Global flags
	cfgPath string
	dataDir string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "projectos",
	Short: "projectOS - durable project memory with truth-bound recall",
	Long: `projectOS is a multi-tenant conversational assistant core.

Every user message passes a deterministic pipeline: command short-circuits,
two-tier fact capture, truth-bound retrieval, gated generation, and an audit
trace. Project status is never model-authored.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if verbose {
			cfg.Logging.Level = zapcore.DebugLevel.String()
		}
		logger, err = logging.New(cfg.Logging)
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

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat pipeline over HTTP and WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		disk := store.New(cfg.DataDir, logging.Named(logger, "store"))
		model, err := perception.NewCaller(cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to build model client: %w", err)
		}
		orch := pipeline.New(*cfg, disk, model, logging.Named(logger, "pipeline"))
		srv := server.New(*cfg, orch, disk, logging.Named(logger, "server"))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

var turnCmd = &cobra.Command{
	Use:   "turn <user> <project> <message...>",
	Short: "Run a single turn and print the reply",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := buildPipeline()
		if err != nil {
			return err
		}
		msg := ""
		for i, a := range args[2:] {
			if i > 0 {
				msg += " "
			}
			msg += a
		}
		reply := orch.HandleTurn(cmd.Context(), pipeline.Turn{
			User: args[0], Project: args[1], Message: msg,
		})
		fmt.Println(reply)
		return nil
	},
}

var distillCmd = &cobra.Command{
	Use:   "distill <user> <project>",
	Short: "Force a Tier-1 to Tier-2 distillation pass",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := buildPipeline()
		if err != nil {
			return err
		}
		reply := orch.HandleTurn(cmd.Context(), pipeline.Turn{
			User: args[0], Project: args[1], Message: "!facts distill",
		})
		fmt.Println(reply)
		return nil
	},
}

var pulseCmd = &cobra.Command{
	Use:   "pulse <user> <project>",
	Short: "Print the truth-bound project pulse",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		disk := store.New(cfg.DataDir, logging.Named(logger, "store"))
		fmt.Println(disk.BuildTruthBoundPulse(args[0], args[1]))
		return nil
	},
}

func buildPipeline() (*pipeline.Orchestrator, error) {
	disk := store.New(cfg.DataDir, logging.Named(logger, "store"))
	model, err := perception.NewCaller(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to build model client: %w", err)
	}
	return pipeline.New(*cfg, disk, model, logging.Named(logger, "pipeline")), nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the state directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(distillCmd)
	rootCmd.AddCommand(pulseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
