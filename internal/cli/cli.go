package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignatij/agentkernel/internal/log"
	internal_storage "github.com/ignatij/agentkernel/internal/storage"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/replay"
	"github.com/ignatij/agentkernel/pkg/service"
	"github.com/ignatij/agentkernel/pkg/tool"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	createCmd := &cobra.Command{
		Use:   "create [graph.json]",
		Short: "Create a run from a graph definition file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			svc := newService(store)

			raw, err := os.ReadFile(args[0])
			if err != nil {
				log.GetLogger().Errorf("Failed to read graph file: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to read graph file: %v\n", err)
				os.Exit(1)
			}
			var req struct {
				Graph  models.Graph      `json:"graph"`
				Budget models.BudgetSpec `json:"budget"`
				Policy models.Policy     `json:"policy"`
			}
			if err := json.Unmarshal(raw, &req); err != nil {
				log.GetLogger().Errorf("Failed to parse graph file: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to parse graph file: %v\n", err)
				os.Exit(1)
			}
			id, err := svc.CreateRun(req.Graph, req.Budget, req.Policy)
			if err != nil {
				log.GetLogger().Errorf("Failed to create run: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to create run: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Created run %s for workflow '%s'\n", id, req.Graph.Workflow)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all runs",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			svc := newService(store)
			runs, err := svc.ListRuns()
			if err != nil {
				log.GetLogger().Errorf("Failed to list runs: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
				os.Exit(1)
			}
			if len(runs) == 0 {
				fmt.Fprintf(os.Stdout, "No runs found.\n")
				return
			}
			fmt.Fprintf(os.Stdout, "Runs:\n")
			for _, run := range runs {
				fmt.Fprintf(os.Stdout, "- ID: %s, Workflow: %s, Status: %s, Created: %s\n",
					run.ID, run.Name, run.Status, run.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	eventsCmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "Print a run's event stream",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			svc := newService(store)

			afterSeq := int64(-1)
			if after, err := cmd.Flags().GetString("after"); err == nil && after != "" {
				parsed, err := strconv.ParseInt(after, 10, 64)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: invalid --after value: %v\n", err)
					os.Exit(1)
				}
				afterSeq = parsed
			}
			events, err := svc.GetEvents(models.RunID(args[0]), afterSeq)
			if err != nil {
				log.GetLogger().Errorf("Failed to list events: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list events: %v\n", err)
				os.Exit(1)
			}
			for _, e := range events {
				fmt.Fprintf(os.Stdout, "%4d %s %-24s %s\n",
					e.Seq, e.Timestamp.Format(time.RFC3339), e.Type, string(e.Payload))
			}
		},
	}
	eventsCmd.Flags().String("after", "", "only events with seq greater than this")

	replayCmd := &cobra.Command{
		Use:   "replay [run-id]",
		Short: "Replay a finished run from its event log",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()

			mode := replay.StrictMode
			if m, err := cmd.Flags().GetString("mode"); err == nil && m != "" {
				mode = replay.Mode(m)
			}
			engine := replay.NewEngine(store, tool.NewRegistry())
			report, err := engine.Replay(cmd.Context(), models.RunID(args[0]), mode)
			if err != nil {
				log.GetLogger().Errorf("Replay failed: %v", err)
				fmt.Fprintf(os.Stderr, "Error: replay failed: %v\n", err)
				os.Exit(1)
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to encode report: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "%s\n", out)
		},
	}
	replayCmd.Flags().String("mode", string(replay.StrictMode), "replay mode: STRICT or REEXECUTE")

	stopCmd := &cobra.Command{
		Use:   "stop [run-id]",
		Short: "Request a cooperative stop of a live run",
		Long:  "Sends a stop request to the serve process; only the process executing the run can abort it.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := requestStop(addr, args[0]); err != nil {
				log.GetLogger().Errorf("Failed to stop run: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to stop run: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Stop requested for run %s\n", args[0])
		},
	}
	stopCmd.Flags().String("addr", "http://localhost:8080", "base URL of the serve process")

	rootCmd.AddCommand(createCmd, listCmd, eventsCmd, replayCmd, stopCmd)
}

// requestStop asks the serve process to abort a run. The stop must go
// through the server because only the executing process holds the run's
// controller; a fresh service built here would never see the run as live.
func requestStop(addr, runID string) error {
	url := fmt.Sprintf("%s/runs/%s/stop", strings.TrimRight(addr, "/"), runID)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return errors.Wrapf(err, "reach serve process at %s", addr)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.Errorf("stop rejected (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func newService(store *internal_storage.PostgresStore) *service.KernelService {
	return service.NewKernelService(store, tool.NewRegistry(), log.GetLogger())
}

func storeFromFlags(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	log.GetLogger().Debugf("Using db: %s", dbConnStr)
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
