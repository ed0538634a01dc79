package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// breakerSnapshot mirrors the admin endpoint's JSON shape.
type breakerSnapshot struct {
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Failures  int           `json:"failures"`
	Threshold int           `json:"threshold"`
	Cooldown  time.Duration `json:"cooldown"`
	OpenedAt  *time.Time    `json:"opened_at,omitempty"`
}

var breakersCmd = &cobra.Command{
	Use:   "breakers",
	Short: "Circuit breaker management",
	Long:  "Inspect and reset the per-dependency circuit breakers of a running service",
}

var breakersListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List circuit breakers",
	Long:    "List every circuit breaker of the targeted service with its current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		base := serviceURL(cmd)

		resp, err := http.Get(base + "/admin/breakers")
		if err != nil {
			return fmt.Errorf("failed to reach service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("service returned %s", resp.Status)
		}

		var snapshots []breakerSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(snapshots) == 0 {
			fmt.Println("No breakers registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tFAILURES\tTHRESHOLD\tOPENED AT")
		for _, s := range snapshots {
			opened := "-"
			if s.OpenedAt != nil {
				opened = s.OpenedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.Name, s.State, s.Failures, s.Threshold, opened)
		}
		return w.Flush()
	},
}

var breakersResetCmd = &cobra.Command{
	Use:   "reset [name]",
	Short: "Reset a circuit breaker",
	Long:  "Manually close the named circuit breaker and clear its failure counter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := serviceURL(cmd)
		name := args[0]

		resp, err := http.Post(base+"/admin/breakers/"+name+"/reset", "application/json", nil)
		if err != nil {
			return fmt.Errorf("failed to reach service: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("unknown breaker %q", name)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("service returned %s", resp.Status)
		}

		fmt.Printf("Breaker %s reset to closed\n", name)
		return nil
	},
}

// serviceURL picks the admin base URL from the --service flag.
func serviceURL(cmd *cobra.Command) string {
	service, _ := cmd.Flags().GetString("service")
	if service == "worker" {
		return workerURL
	}
	return receiverURL
}

func init() {
	rootCmd.AddCommand(breakersCmd)
	breakersCmd.AddCommand(breakersListCmd)
	breakersCmd.AddCommand(breakersResetCmd)

	breakersListCmd.Flags().String("service", "receiver", "target service (receiver, worker)")
	breakersResetCmd.Flags().String("service", "receiver", "target service (receiver, worker)")
}
