package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internal_http "github.com/ignatij/agentkernel/internal/http"
	"github.com/ignatij/agentkernel/internal/log"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/replay"
	"github.com/ignatij/agentkernel/pkg/service"
	"github.com/ignatij/agentkernel/pkg/storage"
	"github.com/ignatij/agentkernel/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.KernelService) {
	t.Helper()
	store := storage.NewMemoryStore()
	registry := tool.NewRegistry()

	echo := tool.NewFunc("echo", "1.0.0",
		tool.Object(map[string]*tool.Contract{"msg": tool.Scalar("string")}, "msg"),
		tool.Object(map[string]*tool.Contract{"msg": tool.Scalar("string")}, "msg"),
		models.SideEffectPure,
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"msg": input["msg"]}, nil
		})
	require.NoError(t, registry.Register(echo))

	svc := service.NewKernelService(store, registry, log.GetLogger())
	require.NoError(t, svc.RegisterHandler("echoer", func(ctx context.Context, inv *tool.Invoker) error {
		_, err := inv.Invoke(ctx, "echo", map[string]interface{}{"msg": "hi"})
		return err
	}))

	rep := replay.NewEngine(store, registry)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", internal_http.HealthHandler)
	mux.HandleFunc("/runs", internal_http.RunsHandler(svc))
	mux.HandleFunc("/runs/", internal_http.RunHandler(svc, rep))
	mux.HandleFunc("/approvals/", internal_http.ApprovalHandler(svc))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func createRunRequestBody() []byte {
	return []byte(`{
		"graph": {
			"workflow": "http-test",
			"tasks": [{"id": "t1", "name": "echo once", "role": "echoer"}]
		},
		"budget": {
			"max_tokens": 1000,
			"max_tool_calls": 10,
			"max_time_seconds": 60,
			"max_recursion_depth": 3,
			"max_parallel": 2
		},
		"policy": {"default_action": "ALLOW"}
	}`)
}

func createRunHTTP(t *testing.T, srv *httptest.Server) models.RunID {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+"/runs", "application/json", bytes.NewBuffer(createRunRequestBody()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		RunID models.RunID `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.RunID)
	return created.RunID
}

func waitForTerminal(t *testing.T, svc *service.KernelService, runID models.RunID) models.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state", runID)
	return models.Run{}
}

func TestE2EServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, err := srv.Client().Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "agentkernel server is running", string(body))
	})

	t.Run("CreateRun", func(t *testing.T) {
		srv, svc := newTestServer(t)
		runID := createRunHTTP(t, srv)

		run, err := svc.GetRun(runID)
		require.NoError(t, err)
		assert.Equal(t, "http-test", run.Name)
		assert.Equal(t, models.CreatedRunStatus, run.Status)
	})

	t.Run("CreateRunInvalidGraph", func(t *testing.T) {
		srv, _ := newTestServer(t)
		body := []byte(`{"graph": {"workflow": "bad", "tasks": []}}`)
		resp, err := srv.Client().Post(srv.URL+"/runs", "application/json", bytes.NewBuffer(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ListRuns", func(t *testing.T) {
		srv, _ := newTestServer(t)
		runID := createRunHTTP(t, srv)

		resp, err := srv.Client().Get(srv.URL + "/runs")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var runs []models.Run
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
		require.Len(t, runs, 1)
		assert.Equal(t, runID, runs[0].ID)
	})

	t.Run("StartRunAndListEvents", func(t *testing.T) {
		srv, svc := newTestServer(t)
		runID := createRunHTTP(t, srv)

		resp, err := srv.Client().Post(fmt.Sprintf("%s/runs/%s/start", srv.URL, runID), "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		run := waitForTerminal(t, svc, runID)
		assert.Equal(t, models.SucceededRunStatus, run.Status)

		resp, err = srv.Client().Get(fmt.Sprintf("%s/runs/%s/events", srv.URL, runID))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var events []models.Event
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
		require.NotEmpty(t, events)
		assert.Equal(t, models.EventRunStarted, events[0].Type)
		assert.Equal(t, models.EventRunFinished, events[len(events)-1].Type)
		for i, e := range events {
			assert.Equal(t, int64(i), e.Seq)
		}
	})

	t.Run("EventsAfterSeq", func(t *testing.T) {
		srv, svc := newTestServer(t)
		runID := createRunHTTP(t, srv)

		_, err := svc.StartRun(context.Background(), runID)
		require.NoError(t, err)

		resp, err := srv.Client().Get(fmt.Sprintf("%s/runs/%s/events?after=1", srv.URL, runID))
		require.NoError(t, err)
		defer resp.Body.Close()

		var events []models.Event
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
		require.NotEmpty(t, events)
		assert.Equal(t, int64(2), events[0].Seq)
	})

	t.Run("GetRunProjection", func(t *testing.T) {
		srv, svc := newTestServer(t)
		runID := createRunHTTP(t, srv)

		_, err := svc.StartRun(context.Background(), runID)
		require.NoError(t, err)

		resp, err := srv.Client().Get(fmt.Sprintf("%s/runs/%s", srv.URL, runID))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var proj models.RunProjection
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&proj))
		assert.Equal(t, models.SucceededRunStatus, proj.Status)
		assert.Len(t, proj.ToolCalls, 1)
		assert.Equal(t, int64(1), proj.Usage.ToolCalls)
	})

	t.Run("StopRunNotExecuting", func(t *testing.T) {
		srv, _ := newTestServer(t)
		runID := createRunHTTP(t, srv)

		resp, err := srv.Client().Post(fmt.Sprintf("%s/runs/%s/stop", srv.URL, runID), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("ReplayFinishedRun", func(t *testing.T) {
		srv, svc := newTestServer(t)
		runID := createRunHTTP(t, srv)

		_, err := svc.StartRun(context.Background(), runID)
		require.NoError(t, err)

		resp, err := srv.Client().Post(fmt.Sprintf("%s/runs/%s/replay?mode=REEXECUTE", srv.URL, runID), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var report replay.Report
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.Equal(t, 1, report.Reexecuted)
		assert.Empty(t, report.Divergences)
	})

	t.Run("ReplayUnfinishedRun", func(t *testing.T) {
		srv, _ := newTestServer(t)
		runID := createRunHTTP(t, srv)

		resp, err := srv.Client().Post(fmt.Sprintf("%s/runs/%s/replay", srv.URL, runID), "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ResolveUnknownApproval", func(t *testing.T) {
		srv, _ := newTestServer(t)
		resp, err := srv.Client().Post(srv.URL+"/approvals/nope?approve=true", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
