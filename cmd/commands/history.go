package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/tempus/internal/storage"
)

// NewHistoryCommand returns the history subcommand.
func NewHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent task executions",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records",
				Value: 20,
			},
		},
		Action: runHistory,
	}
}

func runHistory(_ context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	log := storage.NewExecutionLog(cfg.History.Path)
	records, err := log.Tail(cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No executions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTASK\tRESULT\tDURATION\tERROR")
	for _, rec := range records {
		result := "ok"
		if !rec.Successful {
			result = "failed"
		}
		name := rec.TaskName
		if name == "" {
			name = rec.TaskID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\n",
			rec.At.Format("2006-01-02 15:04:05"),
			name,
			result,
			rec.DurationMS,
			rec.Error,
		)
	}
	return w.Flush()
}
