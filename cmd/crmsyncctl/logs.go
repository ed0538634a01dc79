package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/messaging"
	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/repository"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Webhook log management",
	Long:  "Inspect and requeue webhook log entries",
}

var logsGetCmd = &cobra.Command{
	Use:   "get [log-id]",
	Short: "Show a webhook log entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := connectRepository()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entry, err := repo.GetLogEntry(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch log entry: %w", err)
		}

		out, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var logsRequeueCmd = &cobra.Command{
	Use:   "requeue [log-id]",
	Short: "Requeue a webhook log entry",
	Long: `Reset a log entry to pending and republish its queue message.

Use this for entries stuck in failed after the underlying cause (schema gap,
dependency outage) has been fixed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logID := args[0]

		repo, cleanup, err := connectRepository()
		if err != nil {
			return err
		}
		defer cleanup()

		natsCfg := messaging.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = "crmsyncctl"
		js, err := messaging.NewJetStreamClient(natsCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer js.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		entry, err := repo.GetLogEntry(ctx, logID)
		if err != nil {
			return fmt.Errorf("failed to fetch log entry: %w", err)
		}

		if err := repo.SetLogStatus(ctx, logID, model.StatusPending, ""); err != nil {
			return fmt.Errorf("failed to reset status: %w", err)
		}

		msg := &model.QueueMessage{
			LogID:                 entry.LogID,
			EntityType:            entry.EntityType,
			EntityID:              entry.EntityID,
			Operation:             entry.Operation,
			SourceSystemTimestamp: entry.SourceSystemTimestamp,
			PayloadChecksum:       entry.PayloadChecksum,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal queue message: %w", err)
		}
		if _, err := js.PublishSync(ctx, msg.Subject(), data); err != nil {
			return fmt.Errorf("failed to publish queue message: %w", err)
		}

		fmt.Printf("Log entry %s requeued on %s\n", logID, msg.Subject())
		return nil
	},
}

// connectRepository opens the Postgres store using the loaded config.
func connectRepository() (*repository.PostgresRepository, func(), error) {
	registry, err := schema.Load(cfg.Schema.Path, logging.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schema document: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.Postgres.DSN(), registry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return repo, repo.Close, nil
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsGetCmd)
	logsCmd.AddCommand(logsRequeueCmd)
}
