package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignatij/agentkernel/internal/log"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/replay"
	"github.com/ignatij/agentkernel/pkg/service"
)

// StartServer exposes the kernel over HTTP:
//
//	GET  /health
//	GET  /runs                       list runs
//	POST /runs                       create a run from a JSON body
//	GET  /runs/{id}                  run projection
//	POST /runs/{id}/start            start execution (async)
//	POST /runs/{id}/stop             cooperative abort
//	GET  /runs/{id}/events?after=N   event stream after seq N
//	POST /runs/{id}/replay?mode=M    replay a finished run
//	POST /approvals/{id}?approve=B   resolve a pending approval
func StartServer(port string, svc *service.KernelService, rep *replay.Engine) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/runs", RunsHandler(svc))
	mux.HandleFunc("/runs/", RunHandler(svc, rep))
	mux.HandleFunc("/approvals/", ApprovalHandler(svc))

	log.GetLogger().Infof("Starting agentkernel server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "agentkernel server is running")
}

type createRunRequest struct {
	Graph  models.Graph      `json:"graph"`
	Budget models.BudgetSpec `json:"budget"`
	Policy models.Policy     `json:"policy"`
}

func RunsHandler(svc *service.KernelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			runs, err := svc.ListRuns()
			if err != nil {
				log.GetLogger().Errorf("Failed to list runs: %v", err)
				http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		case http.MethodPost:
			var req createRunRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
				return
			}
			id, err := svc.CreateRun(req.Graph, req.Budget, req.Policy)
			if err != nil {
				log.GetLogger().Errorf("Failed to create run: %v", err)
				http.Error(w, fmt.Sprintf("Failed to create run: %v", err), http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]models.RunID{"run_id": id})
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func RunHandler(svc *service.KernelService, rep *replay.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/runs/")
		parts := strings.SplitN(rest, "/", 2)
		runID := models.RunID(parts[0])
		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			getRunHTTP(w, svc, runID)
		case action == "start" && r.Method == http.MethodPost:
			startRunHTTP(w, svc, runID)
		case action == "stop" && r.Method == http.MethodPost:
			stopRunHTTP(w, svc, runID)
		case action == "events" && r.Method == http.MethodGet:
			listEventsHTTP(w, r, svc, runID)
		case action == "replay" && r.Method == http.MethodPost:
			replayRunHTTP(w, r, rep, runID)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

func getRunHTTP(w http.ResponseWriter, svc *service.KernelService, runID models.RunID) {
	proj, err := svc.GetRunProjection(runID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get run: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func startRunHTTP(w http.ResponseWriter, svc *service.KernelService, runID models.RunID) {
	// Execution runs in the background; progress is followed through the
	// events endpoint.
	go func() {
		if _, err := svc.StartRun(context.Background(), runID); err != nil {
			log.GetLogger().Errorf("Run %s failed: %v", runID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func stopRunHTTP(w http.ResponseWriter, svc *service.KernelService, runID models.RunID) {
	if err := svc.StopRun(runID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to stop run: %v", err), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func listEventsHTTP(w http.ResponseWriter, r *http.Request, svc *service.KernelService, runID models.RunID) {
	afterSeq := int64(-1)
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			http.Error(w, "Invalid 'after' parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}
	events, err := svc.GetEvents(runID, afterSeq)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list events: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func replayRunHTTP(w http.ResponseWriter, r *http.Request, rep *replay.Engine, runID models.RunID) {
	mode := replay.StrictMode
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = replay.Mode(strings.ToUpper(m))
	}
	report, err := rep.Replay(r.Context(), runID, mode)
	if err != nil {
		http.Error(w, fmt.Sprintf("Replay failed: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func ApprovalHandler(svc *service.KernelService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		requestID := strings.TrimPrefix(r.URL.Path, "/approvals/")
		approved := r.URL.Query().Get("approve") == "true"
		if err := svc.Approvals().Resolve(requestID, approved); err != nil {
			http.Error(w, fmt.Sprintf("Failed to resolve approval: %v", err), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"approved": approved})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}
