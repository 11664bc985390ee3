package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// NewQueueCommand constructs the `queue` command group.
func NewQueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Work queue operations",
	}
	cmd.AddCommand(
		newQueueListCommand(baseURL),
		newQueueStatsCommand(baseURL),
		newQueueEnqueueCommand(baseURL),
	)
	return cmd
}

// newQueueListCommand constructs the `queue list` subcommand.
func newQueueListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured queues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Queues []string `json:"queues"`
			}
			if _, err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/queues", nil, &resp); err != nil {
				return err
			}
			for _, q := range resp.Queues {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), q)
			}
			return nil
		},
	}
}

// newQueueStatsCommand constructs the `queue stats` subcommand.
func newQueueStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "stats",
		Short: "Show visible and invisible message counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("queue")
			var resp map[string]any
			if _, err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/queues/"+url.PathEscape(name), nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	c.Flags().String("queue", "workitems", "Queue name")
	return c
}

// newQueueEnqueueCommand constructs the `queue enqueue` subcommand.
func newQueueEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a work item to a queue",
		Example: `  maestro queue enqueue --type ping --data '{"message":"hello"}'
  maestro queue enqueue --type sleep --data '{"duration":"30s"}' --delay 1m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("queue")
			typ, _ := cmd.Flags().GetString("type")
			id, _ := cmd.Flags().GetString("id")
			data, _ := cmd.Flags().GetString("data")
			delay, _ := cmd.Flags().GetDuration("delay")
			if typ == "" {
				return fmt.Errorf("--type is required")
			}
			body := map[string]any{"type": typ}
			if id != "" {
				body["id"] = id
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("invalid --data; expected JSON")
				}
				body["data"] = json.RawMessage(data)
			}
			if delay > 0 {
				body["delay"] = delay.String()
			}
			var resp struct {
				MessageID     string    `json:"messageId"`
				NextVisibleAt time.Time `json:"nextVisibleAt"`
			}
			u := baseURL() + "/v1/queues/" + url.PathEscape(name) + "/messages"
			if _, err := doJSON(cmd.Context(), http.MethodPost, u, body, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK\nmessage_id: %s\nvisible_at: %s\n",
				resp.MessageID, resp.NextVisibleAt.Format(time.RFC3339))
			return nil
		},
	}
	c.Flags().String("queue", "workitems", "Queue name")
	c.Flags().String("type", "", "Work item type (required)")
	c.Flags().String("id", "", "Work item ID (generated when empty)")
	c.Flags().String("data", "", "Work item data as JSON")
	c.Flags().Duration("delay", 0, "Hide the message for this long")
	return c
}
