package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	jobscli "github.com/odyssey-erp/replenish/cmd/replenishctl/cli"
)

// operator is the part of jobscli.JobsCLI the commands drive.
type operator interface {
	TriggerRecalculate(ctx context.Context, codes []string) (*asynq.TaskInfo, error)
	TriggerCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]jobscli.QueueStats, error)
	ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error)
	Close() error
}

type dialFunc func(redisAddr string) (operator, error)

func dialRedis(redisAddr string) (operator, error) {
	c, err := jobscli.NewJobsCLI(redisAddr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	if err := newApp(os.Stdout, dialRedis).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "replenishctl:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer, dial dialFunc) *cli.App {
	var ops operator
	return &cli.App{
		Name:   "replenishctl",
		Usage:  "Queue and inspect replenishment background jobs",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address of the job queue",
				Value:   "127.0.0.1:6379",
				EnvVars: []string{"REDIS_ADDR"},
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			ops, err = dial(c.String("redis-addr"))
			return err
		},
		After: func(c *cli.Context) error {
			if ops == nil {
				return nil
			}
			return ops.Close()
		},
		Commands: []*cli.Command{
			{
				Name:      "recalculate",
				Usage:     "Queue a reorder point and forecast run",
				ArgsUsage: "[code ...]",
				Action: func(c *cli.Context) error {
					info, err := ops.TriggerRecalculate(c.Context, c.Args().Slice())
					if err != nil {
						return err
					}
					return printQueued(c.App.Writer, info)
				},
			},
			{
				Name:  "cleanup",
				Usage: "Queue an idempotency key cleanup",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "retention",
						Usage:   "How long idempotency keys are kept",
						Value:   168 * time.Hour,
						EnvVars: []string{"IDEMPOTENCY_RETENTION"},
					},
				},
				Action: func(c *cli.Context) error {
					info, err := ops.TriggerCleanup(c.Context, c.Duration("retention"))
					if err != nil {
						return err
					}
					return printQueued(c.App.Writer, info)
				},
			},
			{
				Name:  "queues",
				Usage: "Show queue depth",
				Action: func(c *cli.Context) error {
					stats, err := ops.InspectQueues(c.Context)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
					for _, s := range stats {
						fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
					}
					return w.Flush()
				},
			},
			{
				Name:  "scheduled",
				Usage: "List scheduled tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Usage: "Page size", Value: 10},
				},
				Action: func(c *cli.Context) error {
					tasks, err := ops.ListScheduled(c.Context, c.Int("n"))
					if err != nil {
						return err
					}
					for _, t := range tasks {
						fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
					}
					return nil
				},
			},
		},
	}
}

func printQueued(w io.Writer, info *asynq.TaskInfo) error {
	if info == nil {
		return errors.New("no task info returned")
	}
	_, err := fmt.Fprintf(w, "queued %s (%s)\n", info.ID, info.Queue)
	return err
}
