package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/talentbridge-systems/crmsync/internal/dlq"
	"github.com/talentbridge-systems/crmsync/internal/messaging"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue management",
	Long:  "List, inspect, and purge messages on the dead-letter stream",
}

var dlqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List dead-lettered messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		q, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		failed, err := q.List(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to list dead-letter queue: %w", err)
		}
		if len(failed) == 0 {
			fmt.Println("Dead-letter queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOG ID\tENTITY\tOPERATION\tREASON\tDELIVERIES\tFAILED AT\tERROR")
		for _, f := range failed {
			logID, entity, op := "-", "-", "-"
			if f.Message != nil {
				logID = f.Message.LogID
				entity = f.Message.EntityType + "/" + f.Message.EntityID
				op = string(f.Message.Operation)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				logID, entity, op, f.Reason, f.Deliveries,
				f.Timestamp.Format(time.RFC3339), f.Error,
			)
		}
		return w.Flush()
	},
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead-letter stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for k, v := range q.Stats(ctx) {
			fmt.Printf("%s: %v\n", k, v)
		}
		return nil
	},
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge the dead-letter stream",
	Long:  "Remove every message from the dead-letter stream. This cannot be undone.",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return fmt.Errorf("pass --yes to confirm purging the dead-letter stream")
		}

		q, cleanup, err := connectDLQ()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := q.Purge(ctx); err != nil {
			return fmt.Errorf("failed to purge dead-letter queue: %w", err)
		}
		fmt.Println("Dead-letter stream purged")
		return nil
	},
}

// connectDLQ opens a NATS connection and binds the dead-letter queue.
func connectDLQ() (*dlq.Queue, func(), error) {
	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = cfg.NATS.URL
	natsCfg.Name = "crmsyncctl"

	js, err := messaging.NewJetStreamClient(natsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q, err := dlq.New(ctx, js)
	if err != nil {
		js.Close()
		return nil, nil, fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}
	return q, js.Close, nil
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().IntP("limit", "l", 50, "Maximum messages to list")
	dlqPurgeCmd.Flags().Bool("yes", false, "Confirm the purge")
}
