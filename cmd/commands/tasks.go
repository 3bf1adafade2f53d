package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/tempus/internal/scheduler"
	"github.com/dohr-michael/tempus/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage scheduled tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, running, completed, failed, cancelled)"},
					&cli.StringFlag{Name: "agent", Usage: "Filter by agent id"},
				},
				Action: runTasksList,
			},
			{
				Name:  "add",
				Usage: "Create a task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "Task name"},
					&cli.StringFlag{Name: "description", Usage: "Task description"},
					&cli.StringFlag{Name: "when", Usage: `Schedule expression ("urgent", "tomorrow", "30m", ISO timestamp)`},
					&cli.StringFlag{Name: "every", Usage: `Recurrence ("1 hour", "every morning", cron line)`},
					&cli.IntFlag{Name: "priority", Usage: "Priority 0-10"},
					&cli.StringFlag{Name: "type", Usage: "Schedule type (explicit, interval, priority)"},
					&cli.StringSliceFlag{Name: "tag", Usage: "Tag (repeatable)"},
					&cli.StringFlag{Name: "agent", Usage: "Agent id to scope the task to"},
					&cli.StringFlag{Name: "handler", Usage: "Handler id to re-bind at runtime"},
				},
				Action: runTasksAdd,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksDelete,
			},
			{
				Name:   "due",
				Usage:  "List tasks that are due now",
				Action: runTasksDue,
			},
		},
		DefaultCommand: "list",
	}
}

// newManager wires a passive manager over the configured registry; the
// CLI never starts the polling loop.
func newManager(ctx context.Context, cmd *cli.Command) (*scheduler.Manager, error) {
	cfg := loadConfig(cmd)
	registry, err := openRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	mgr := scheduler.NewManager(scheduler.ManagerConfig{
		Registry:          registry,
		DefaultPriority:   cfg.Scheduler.DefaultPriority,
		PriorityThreshold: cfg.Scheduler.PriorityThreshold,
	})
	if err := mgr.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize scheduler: %w", err)
	}
	return mgr, nil
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	mgr, err := newManager(ctx, cmd)
	if err != nil {
		return err
	}

	filter := tasks.Filter{SortBy: "createdAt", SortDirection: "desc"}
	if s := cmd.String("status"); s != "" {
		filter.Statuses = []tasks.Status{tasks.Status(upper(s))}
	}
	if agent := cmd.String("agent"); agent != "" {
		filter.Metadata = map[string]any{tasks.MetadataAgentKey + ".id": agent}
	}

	list, err := mgr.FindTasks(ctx, filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	return printTaskTable(list)
}

func runTasksDue(ctx context.Context, cmd *cli.Command) error {
	mgr, err := newManager(ctx, cmd)
	if err != nil {
		return err
	}

	list, err := mgr.FindTasks(ctx, tasks.Filter{IsDueNow: true, SortBy: "scheduledTime"})
	if err != nil {
		return fmt.Errorf("list due tasks: %w", err)
	}
	return printTaskTable(list)
}

func printTaskTable(list []*tasks.Task) error {
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tPRIO\tSCHEDULED\tNAME")
	for _, t := range list {
		scheduled := "-"
		if t.ScheduledTime != nil {
			scheduled = t.ScheduledTime.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID,
			t.Status,
			t.ScheduleType,
			t.Priority,
			scheduled,
			t.Name,
		)
	}
	return w.Flush()
}

func runTasksAdd(ctx context.Context, cmd *cli.Command) error {
	mgr, err := newManager(ctx, cmd)
	if err != nil {
		return err
	}

	t := &tasks.Task{
		Name:         cmd.String("name"),
		Description:  cmd.String("description"),
		When:         cmd.String("when"),
		Priority:     cmd.Int("priority"),
		ScheduleType: tasks.ScheduleType(upper(cmd.String("type"))),
		Tags:         cmd.StringSlice("tag"),
		HandlerID:    cmd.String("handler"),
	}
	if every := cmd.String("every"); every != "" {
		t.Interval = &tasks.Interval{Expression: every}
	}

	var created *tasks.Task
	if agent := cmd.String("agent"); agent != "" {
		created, err = mgr.CreateTaskForAgent(ctx, t, agent)
	} else {
		created, err = mgr.CreateTask(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	fmt.Printf("Created task %s (%s, priority %d)\n", created.ID, created.ScheduleType, created.Priority)
	if created.ScheduledTime != nil {
		fmt.Printf("Scheduled for %s\n", created.ScheduledTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: tempus tasks show <task_id>")
	}

	mgr, err := newManager(ctx, cmd)
	if err != nil {
		return err
	}

	t, err := mgr.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Name:        %s\n", t.Name)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Type:        %s\n", t.ScheduleType)
	fmt.Printf("Priority:    %d\n", t.Priority)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.ScheduledTime != nil {
		fmt.Printf("Scheduled:   %s\n", t.ScheduledTime.Format("2006-01-02 15:04:05"))
	}
	if t.LastExecutedAt != nil {
		fmt.Printf("Last run:    %s (%s ago)\n",
			t.LastExecutedAt.Format("2006-01-02 15:04:05"),
			time.Since(*t.LastExecutedAt).Truncate(time.Second))
	}
	if t.Interval != nil {
		fmt.Printf("Recurrence:  %s (%d executions)\n", t.Interval.Expression, t.Interval.ExecutionCount)
	}
	if len(t.Tags) > 0 {
		fmt.Printf("Tags:        %v\n", t.Tags)
	}
	if ref, ok := t.AgentRef(); ok {
		fmt.Printf("Agent:       %s\n", ref.ID)
	}
	if t.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", t.Description)
	}
	return nil
}

func runTasksDelete(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: tempus tasks delete <task_id>")
	}

	mgr, err := newManager(ctx, cmd)
	if err != nil {
		return err
	}

	ok, err := mgr.DeleteTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if !ok {
		fmt.Printf("Task %s not found.\n", taskID)
		return nil
	}
	fmt.Printf("Task %s deleted.\n", taskID)
	return nil
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
