package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/trustscore/internal/evaluation"
)

// #region main

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for bad input and 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, evaluation.ErrValidation) {
		return 2
	}
	return 1
}

// #endregion main

// #region root

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	jsonOut    bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "trustscore",
		Short:         "Score AI outputs through rules, an LLM judge and human review",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (overrides TRUSTSCORE_* env)")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "output as JSON instead of tables")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newSubmitCommand(flags))
	root.AddCommand(newGetCommand(flags))
	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newQueueCommand(flags))
	root.AddCommand(newReviewCommand(flags))
	root.AddCommand(newDriftCommand(flags))
	root.AddCommand(newDashboardCommand(flags))
	root.AddCommand(newReplayCommand(flags))
	return root
}

// #endregion root
