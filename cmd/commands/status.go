package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/tempus/internal/config"
	"github.com/dohr-michael/tempus/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show tempus daemon status",
		Action: func(_ context.Context, _ *cli.Command) error {
			status, hb, err := heartbeat.Check(config.HeartbeatPath(), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Daemon: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
				if hb.SchedulerRunning {
					if hb.LastTickAt != nil {
						fmt.Printf("Scheduler: running, last tick %s ago\n",
							time.Since(*hb.LastTickAt).Truncate(time.Second))
					} else {
						fmt.Println("Scheduler: running, no tick yet")
					}
				} else {
					fmt.Println("Scheduler: stopped")
				}
			case heartbeat.StatusStale:
				fmt.Printf("Daemon: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Daemon: NOT RUNNING")
			}

			return nil
		},
	}
}
