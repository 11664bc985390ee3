package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/runtime"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// ErrNotStopped is returned by `processor stop --wait` when the replica is
// still draining at the deadline.
var ErrNotStopped = errors.New("replica did not reach Stopped before the wait elapsed")

// controlResp mirrors the start/stop response body.
type controlResp struct {
	Replica string             `json:"replica"`
	Local   lifecycle.Snapshot `json:"local"`
	Reached *bool              `json:"reached,omitempty"`
}

// NewProcessorCommand constructs the `processor` command group.
func NewProcessorCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processor",
		Short: "Processor lifecycle operations",
		Long: `Inspect and control the replica's processor lifecycle.

Lifecycle:
  Initializing → Working ⇄ Stopping → Stopped → Working

  status   Local and fleet state, in-flight count, queue depths
  start    Resume admitting work
  stop     Request a drain; --wait blocks until Stopped
  history  Recorded transitions, newest first
  health   gRPC health check`,
	}
	cmd.AddCommand(
		newProcessorStatusCommand(baseURL),
		newProcessorStartCommand(baseURL),
		newProcessorStopCommand(baseURL),
		newProcessorHistoryCommand(baseURL),
		newProcessorHealthCommand(),
	)
	return cmd
}

// newProcessorStatusCommand constructs the `processor status` subcommand.
func newProcessorStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Show local and fleet lifecycle state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			var st runtime.Status
			if _, err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/status", nil, &st); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	c.Flags().Bool("json", false, "Print the raw JSON response")
	return c
}

func printStatus(w io.Writer, st runtime.Status) {
	_, _ = fmt.Fprintf(w, "replica:   %s\n", st.Replica)
	_, _ = fmt.Fprintf(w, "state:     %s (in flight %d, since %s)\n",
		st.Local.State, st.Local.InFlight, st.Local.Since.Format(time.RFC3339))

	counts := make([]string, 0, len(st.Fleet.Counts))
	for name, n := range st.Fleet.Counts {
		counts = append(counts, fmt.Sprintf("%s=%d", name, n))
	}
	sort.Strings(counts)
	_, _ = fmt.Fprintf(w, "fleet:     %s (%d replicas: %s)\n", st.Fleet.State, st.Fleet.Replicas, strings.Join(counts, " "))
	if len(st.Fleet.Stale) > 0 {
		_, _ = fmt.Fprintf(w, "stale:     %s\n", strings.Join(st.Fleet.Stale, ", "))
	}

	names := make([]string, 0, len(st.Queues))
	for name := range st.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q := st.Queues[name]
		_, _ = fmt.Fprintf(w, "queue:     %s visible=%d invisible=%d\n", name, q.Visible, q.Invisible)
	}
}

// newProcessorStartCommand constructs the `processor start` subcommand.
func newProcessorStartCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Resume admitting work",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp controlResp
			if _, err := doJSON(cmd.Context(), http.MethodPost, baseURL()+"/v1/status/start", nil, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK\nstate: %s\n", resp.Local.State)
			return nil
		},
	}
}

// newProcessorStopCommand constructs the `processor stop` subcommand.
func newProcessorStopCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "stop",
		Short: "Request a drain",
		Long: `Request a drain. In-flight work items finish; no new ones are admitted.

With --wait the command blocks until the replica reaches Stopped or the
duration elapses, and exits non-zero if it is still draining. Adding --fleet
then keeps polling /v1/status until every fresh replica in the shared state
store reports Stopped, which is how a deployment waits for a full drain.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wait, _ := cmd.Flags().GetDuration("wait")
			fleet, _ := cmd.Flags().GetBool("fleet")
			poll, _ := cmd.Flags().GetDuration("poll")
			if wait < 0 {
				return fmt.Errorf("invalid --wait; must not be negative")
			}
			if fleet && wait == 0 {
				return fmt.Errorf("--fleet requires --wait")
			}
			deadline := time.Now().Add(wait)
			url := baseURL() + "/v1/status/stop"
			if wait > 0 {
				url += "?wait=" + wait.String()
			}
			var resp controlResp
			if _, err := doJSON(cmd.Context(), http.MethodPost, url, nil, &resp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: OK\nstate: %s\nin_flight: %d\n", resp.Local.State, resp.Local.InFlight)
			if resp.Reached != nil && !*resp.Reached {
				return ErrNotStopped
			}
			if fleet {
				return waitFleetStopped(cmd, baseURL, deadline, poll)
			}
			return nil
		},
	}
	c.Flags().Duration("wait", 0, "Wait up to this long for Stopped (e.g. 30s)")
	c.Flags().Bool("fleet", false, "With --wait, also wait for every replica to report Stopped")
	c.Flags().Duration("poll", time.Second, "Fleet polling interval")
	return c
}

// waitFleetStopped polls /v1/status until the fleet summary reports every
// replica Stopped or the deadline passes.
func waitFleetStopped(cmd *cobra.Command, baseURL BaseURLFunc, deadline time.Time, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	for {
		var st runtime.Status
		if _, err := doJSON(cmd.Context(), http.MethodGet, baseURL()+"/v1/status", nil, &st); err != nil {
			return err
		}
		if st.Fleet.AllStopped {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fleet: Stopped (%d replicas)\n", st.Fleet.Replicas)
			return nil
		}
		if !time.Now().Add(poll).Before(deadline) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fleet: %s\n", st.Fleet.State)
			return ErrNotStopped
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(poll):
		}
	}
}

// historyResp mirrors the history response body.
type historyResp struct {
	Replica string `json:"replica"`
	Entries []struct {
		Seq  uint64          `json:"seq"`
		From lifecycle.State `json:"from"`
		To   lifecycle.State `json:"to"`
		At   time.Time       `json:"at"`
	} `json:"entries"`
	Next uint64 `json:"next"`
}

// newProcessorHistoryCommand constructs the `processor history` subcommand.
func newProcessorHistoryCommand(baseURL BaseURLFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded lifecycle transitions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			start, _ := cmd.Flags().GetUint64("start")
			url := fmt.Sprintf("%s/v1/status/history?limit=%d", baseURL(), limit)
			if start > 0 {
				url += fmt.Sprintf("&start=%d", start)
			}
			var resp historyResp
			if _, err := doJSON(cmd.Context(), http.MethodGet, url, nil, &resp); err != nil {
				return err
			}
			if len(resp.Entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No transitions recorded")
				return nil
			}
			for _, e := range resp.Entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%6d  %s  %s -> %s\n", e.Seq, e.At.Format(time.RFC3339), e.From, e.To)
			}
			if resp.Next > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "more: --start %d\n", resp.Next)
			}
			return nil
		},
	}
	c.Flags().Int("limit", 50, "Maximum transitions to list")
	c.Flags().Uint64("start", 0, "Newest sequence to list (from a previous page)")
	return c
}

// newProcessorHealthCommand constructs the `processor health` subcommand.
func newProcessorHealthCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service (MAESTRO_GRPC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, _ := cmd.Flags().GetString("service")
			asJSON, _ := cmd.Flags().GetBool("json")
			conn, err := dialGRPC()
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			res, err := healthpb.NewHealthClient(conn).Check(cmd.Context(), &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			if asJSON {
				b, err := protojson.Marshal(res)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			} else {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", res.GetStatus())
			}
			if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("replica is %s", res.GetStatus())
			}
			return nil
		},
	}
	c.Flags().String("service", "", "Health service name (empty for the server)")
	c.Flags().Bool("json", false, "Print the raw health response as JSON")
	return c
}
