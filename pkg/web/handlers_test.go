package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/pkg/cmd"
	"github.com/stagegate/stagegate/pkg/contract"
	"github.com/stagegate/stagegate/pkg/dag"
	"github.com/stagegate/stagegate/pkg/eventbus"
	"github.com/stagegate/stagegate/pkg/events"
	"github.com/stagegate/stagegate/pkg/executor"
	"github.com/stagegate/stagegate/pkg/models"
	"github.com/stagegate/stagegate/pkg/persistence/file"
	"github.com/stagegate/stagegate/pkg/registry"
	"github.com/stagegate/stagegate/pkg/state"
	"github.com/stagegate/stagegate/pkg/web"
	"github.com/stagegate/stagegate/pkg/worker"
	"github.com/stagegate/stagegate/pkg/workflow"
)

type testEnv struct {
	app       *fiber.App
	runs      *workflow.Registry
	monitor   *workflow.Monitor
	contracts *contract.Manager
	store     *file.Persistence
	registry  *registry.Registry
	bus       eventbus.EventBus
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	runs := workflow.NewRegistry()
	contracts := contract.NewManager(store.Contracts(), slog.Default(), false)
	reg := registry.NewRegistry(slog.Default())

	bus, err := cmd.NewEventBus("memory", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	monitor := workflow.NewMonitor(runs, slog.Default())
	require.NoError(t, monitor.Attach(bus))
	require.NoError(t, bus.Subscribe(context.Background()))

	handlers := web.NewAPIHandlers(runs, monitor, contracts, store, reg, bus, slog.Default())

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return &testEnv{
		app:       app,
		runs:      runs,
		monitor:   monitor,
		contracts: contracts,
		store:     store,
		registry:  reg,
		bus:       bus,
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func TestGetHealth(t *testing.T) {
	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
}

func TestGetRuns(t *testing.T) {
	env := setupTestApp(t)

	require.NoError(t, env.runs.Register(&models.WorkflowContext{
		WorkflowID:  "wf-orders",
		ExecutionID: "exec-1",
		Status:      models.RunStatusRunning,
	}))

	resp, body := doRequest(t, env.app, http.MethodGet, "/runs", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Runs       []models.WorkflowContext `json:"runs"`
		TotalCount int                      `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, 1, parsed.TotalCount)
	assert.Equal(t, "exec-1", parsed.Runs[0].ExecutionID)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/runs/exec-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, env.app, http.MethodGet, "/runs/exec-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "not_found")
}

func TestGetRunEvents(t *testing.T) {
	env := setupTestApp(t)
	ctx := context.Background()

	require.NoError(t, env.runs.Register(&models.WorkflowContext{
		WorkflowID:  "wf-orders",
		ExecutionID: "exec-9",
		Status:      models.RunStatusRunning,
	}))

	base := events.NewBaseEvent(events.NodeStartedEvent, "wf-orders")
	base.ExecutionID = "exec-9"
	require.NoError(t, env.bus.Publish(ctx, "wf-orders", events.NodeStarted{
		BaseEvent: base,
		NodeID:    "draft",
		Phase:     "design",
		Attempt:   1,
	}))

	// Bus delivery is asynchronous.
	require.Eventually(t, func() bool {
		return len(env.monitor.Events("exec-9")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, body := doRequest(t, env.app, http.MethodGet, "/runs/exec-9/events", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Events     []events.NodeStarted `json:"events"`
		TotalCount int                  `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &parsed))
	require.Equal(t, 1, parsed.TotalCount)
	assert.Equal(t, "draft", parsed.Events[0].NodeID)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/runs/exec-missing/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type okWorker struct{}

func (okWorker) Execute(_ context.Context, spec models.NodeSpec, _ *models.WorkflowContext) (*models.NodeResult, error) {
	return &models.NodeResult{NodeID: spec.ID, Status: models.NodeStatusSucceeded, Score: 1.0}, nil
}

type okFactory struct{ typeName string }

func (f *okFactory) Type() string { return f.typeName }

func (f *okFactory) Create(_ map[string]any, _ *slog.Logger) (worker.Worker, error) {
	return okWorker{}, nil
}

func TestResumeRunOverAPI(t *testing.T) {
	env := setupTestApp(t)
	ctx := context.Background()

	env.registry.Register(&okFactory{"design-work"})
	env.registry.Register(&okFactory{"build-work"})

	def := &models.WorkflowDefinition{
		ID:     "wf-resume-api",
		Name:   "resume over api",
		Phases: []string{"design", "build"},
		Nodes: []models.NodeDefinition{
			{ID: "draft", Name: "draft", Type: models.NodeTypeTask, Phase: "design", WorkerType: "design-work"},
			{ID: "compile", Name: "compile", Type: models.NodeTypeTask, Phase: "build", WorkerType: "build-work", Dependencies: []string{"draft"}},
		},
	}

	// A first run against the same store leaves a phase boundary checkpoint
	// behind.
	graph, err := dag.FromDefinition(def)
	require.NoError(t, err)

	exec, err := executor.NewExecutor(executor.Config{}, def, graph, executor.Deps{
		Registry:  env.registry,
		State:     state.NewManager(def.ID, env.store.Checkpoints(), slog.Default()),
		Artifacts: env.store.Artifacts(),
		Publisher: env.bus,
		Workflows: workflow.NewRegistry(),
		Logger:    slog.Default(),
	})
	require.NoError(t, err)

	wctx, err := exec.Execute(ctx)
	require.NoError(t, err)

	metas, err := env.store.Checkpoints().ListMetadata(ctx, def.ID)
	require.NoError(t, err)

	var designBoundary string

	for _, meta := range metas {
		if meta.Label == "phase-design" {
			designBoundary = meta.CheckpointID
		}
	}

	require.NotEmpty(t, designBoundary)

	resp, body := doRequest(t, env.app, http.MethodPost, "/runs/resume", web.ResumeRunRequest{
		CheckpointID: designBoundary,
		Definition:   *def,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "resuming")

	// The monitor log is the synchronization point: the resumed run publishes
	// a second run.completed once it finishes.
	require.Eventually(t, func() bool {
		completed := 0

		for _, ev := range env.monitor.Events(wctx.ExecutionID) {
			if ev.GetType() == events.RunCompletedEvent {
				completed++
			}
		}

		return completed == 2
	}, 2*time.Second, 20*time.Millisecond)

	got, ok := env.runs.Get(wctx.ExecutionID)
	require.True(t, ok)
	assert.Equal(t, models.RunStatusCompleted, got.Status)

	// Unknown checkpoints are rejected before anything starts.
	resp, _ = doRequest(t, env.app, http.MethodPost, "/runs/resume", web.ResumeRunRequest{
		CheckpointID: "ckpt-missing",
		Definition:   *def,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Definitions naming unregistered worker types never launch.
	bad := *def
	bad.Nodes = []models.NodeDefinition{
		{ID: "draft", Name: "draft", Type: models.NodeTypeTask, Phase: "design", WorkerType: "no-such-worker"},
	}
	bad.Phases = []string{"design"}

	resp, _ = doRequest(t, env.app, http.MethodPost, "/runs/resume", web.ResumeRunRequest{
		CheckpointID: designBoundary,
		Definition:   bad,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContractLifecycleOverAPI(t *testing.T) {
	env := setupTestApp(t)

	createBody := web.CreateContractRequest{
		TeamID: "team-platform",
		Name:   "design-handoff",
		Specification: models.ContractSpecification{
			FromPhase:         "design",
			ToPhase:           "implementation",
			RequiredArtifacts: []string{"api-spec"},
		},
	}

	resp, body := doRequest(t, env.app, http.MethodPost, "/contracts", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created models.Contract
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, models.ContractStatusDraft, created.Status)
	assert.Equal(t, 1, created.Version)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/contracts/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doRequest(t, env.app, http.MethodPost, "/contracts/"+created.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var activated models.Contract
	require.NoError(t, json.Unmarshal(body, &activated))
	assert.Equal(t, models.ContractStatusActive, activated.Status)

	// Activating twice conflicts: the contract is no longer a draft.
	resp, _ = doRequest(t, env.app, http.MethodPost, "/contracts/"+created.ID+"/activate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doRequest(t, env.app, http.MethodGet, "/contracts?team_id=team-platform", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, 1, listed.TotalCount)
}

func TestCreateContractValidation(t *testing.T) {
	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, http.MethodPost, "/contracts", map[string]any{
		"team_id": "team-x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "validation_error")

	resp, _ = doRequest(t, env.app, http.MethodGet, "/contracts", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetContractNotFound(t *testing.T) {
	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, http.MethodGet, "/contracts/contract-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "contract not found")
}

func TestGetCheckpoints(t *testing.T) {
	env := setupTestApp(t)
	ctx := context.Background()

	meta := &models.CheckpointMetadata{
		CheckpointID: "ckpt-1",
		WorkflowID:   "wf-orders",
		Type:         models.CheckpointTypeManual,
	}
	require.NoError(t, env.store.Checkpoints().SaveMetadata(ctx, meta))

	resp, body := doRequest(t, env.app, http.MethodGet, "/checkpoints?workflow_id=wf-orders", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, 1, listed.TotalCount)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/checkpoints/ckpt-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/checkpoints/ckpt-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/checkpoints", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetWorkerTypes(t *testing.T) {
	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, http.MethodGet, "/workers", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "worker_types")
}
