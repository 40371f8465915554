package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/resurrect"
	"github.com/fleetworks/director/task"
)

type apiFixture struct {
	store  *registry.InMem
	tasks  *task.Manager
	server *httptest.Server
}

// newAPIFixture serves the full router over a running one-worker task
// manager. Deploy tasks just echo into their output.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{store: registry.NewInMem()}
	f.tasks = task.NewManager(f.store, 1, log.NewNopLogger())
	f.tasks.Register(task.TypeUpdateDeployment, func(ctx context.Context, tk *task.Task) error {
		fmt.Fprintf(tk.Output(), "deploying %s\n", tk.Deployment)
		return nil
	})
	f.tasks.Register(task.TypeDeleteDeployment, func(ctx context.Context, tk *task.Task) error {
		return nil
	})
	f.tasks.Register(task.TypeScan, func(ctx context.Context, tk *task.Task) error {
		return nil
	})
	f.tasks.Register(task.TypeResolveProblem, func(ctx context.Context, tk *task.Task) error {
		return nil
	})
	f.tasks.Register(task.TypeDeleteSnapshot, func(ctx context.Context, tk *task.Task) error {
		return nil
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		f.tasks.Run(stop)
		close(done)
	}()

	srv := &Server{
		Tasks:    f.tasks,
		Store:    f.store,
		Resolver: &resurrect.Resolver{Store: f.store, Submit: f.tasks, Logger: log.NewNopLogger()},
		Logger:   log.NewNopLogger(),
	}
	f.server = httptest.NewServer(NewHandler(srv, NewRouter(), log.NewNopLogger()))
	t.Cleanup(func() {
		f.server.Close()
		close(stop)
		<-done
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("X-Director-User", "admin")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeTask(t *testing.T, resp *http.Response) task.Info {
	t.Helper()
	defer resp.Body.Close()
	var info task.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	return info
}

func (f *apiFixture) waitTerminal(t *testing.T, id task.ID) task.Info {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		info, err := f.tasks.Status(id)
		require.NoError(t, err)
		if info.State.Terminal() {
			return info
		}
		select {
		case <-deadline:
			t.Fatalf("task %d still %s", id, info.State)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubmitDeployAccepted(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "POST", "/v1/deployments/mycloud", "name: mycloud\n")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/v1/tasks/1", resp.Header.Get("Location"))

	info := decodeTask(t, resp)
	assert.Equal(t, task.ID(1), info.ID)
	assert.Equal(t, task.TypeUpdateDeployment, info.Type)
	assert.Equal(t, "admin", info.User)
}

func TestGetTask(t *testing.T) {
	f := newAPIFixture(t)
	submitted := decodeTask(t, f.do(t, "POST", "/v1/deployments/mycloud", "name: mycloud\n"))
	f.waitTerminal(t, submitted.ID)

	resp := f.do(t, "GET", fmt.Sprintf("/v1/tasks/%d", submitted.ID), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeTask(t, resp)
	assert.Equal(t, task.StateDone, info.State)
}

func TestGetTaskNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "GET", "/v1/tasks/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, "GET", "/v1/tasks/banana", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskOutputFull(t *testing.T) {
	f := newAPIFixture(t)
	submitted := decodeTask(t, f.do(t, "POST", "/v1/deployments/mycloud", "name: mycloud\n"))
	f.waitTerminal(t, submitted.ID)

	resp := f.do(t, "GET", fmt.Sprintf("/v1/tasks/%d/output", submitted.ID), "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "deploying mycloud\n", string(body))
}

func TestTaskOutputRange(t *testing.T) {
	f := newAPIFixture(t)
	submitted := decodeTask(t, f.do(t, "POST", "/v1/deployments/mycloud", "name: mycloud\n"))
	f.waitTerminal(t, submitted.ID)
	full := "deploying mycloud\n"

	req, err := http.NewRequest("GET", f.server.URL+fmt.Sprintf("/v1/tasks/%d/output", submitted.ID), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=10-16")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 10-16/%d", len(full)), resp.Header.Get("Content-Range"))
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mycloud", string(body))
}

func TestTaskOutputOpenRange(t *testing.T) {
	f := newAPIFixture(t)
	submitted := decodeTask(t, f.do(t, "POST", "/v1/deployments/mycloud", "name: mycloud\n"))
	f.waitTerminal(t, submitted.ID)

	req, err := http.NewRequest("GET", f.server.URL+fmt.Sprintf("/v1/tasks/%d/output", submitted.ID), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=10-")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mycloud\n", string(body))
}

func TestListTasks(t *testing.T) {
	f := newAPIFixture(t)
	decodeTask(t, f.do(t, "POST", "/v1/deployments/a", "name: a\n"))
	decodeTask(t, f.do(t, "POST", "/v1/deployments/b", "name: b\n"))

	resp := f.do(t, "GET", "/v1/tasks", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []task.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 2)
	assert.Equal(t, task.ID(1), infos[0].ID)
	assert.Equal(t, task.ID(2), infos[1].ID)
}

func TestDeleteUnknownDeployment(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, "DELETE", "/v1/deployments/nope", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var derr director.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&derr))
	assert.Equal(t, director.CodeUnknownDeployment, derr.Code)
}

func TestScanUnknownDeployment(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(t, "POST", "/v1/deployments/nope/scans", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDeploymentsAndInstances(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "mycloud", Provider: "dummy"}))
	require.NoError(t, f.store.SaveInstance(&registry.Instance{
		Deployment: "mycloud", Job: "nats", Index: 0,
		State: director.InstanceStarted, VMCID: "vm-1",
	}))

	resp := f.do(t, "GET", "/v1/deployments", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var deployments []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&deployments))
	require.Len(t, deployments, 1)
	assert.Equal(t, "mycloud", deployments[0]["name"])

	resp = f.do(t, "GET", "/v1/deployments/mycloud/instances", "")
	defer resp.Body.Close()
	var instances []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&instances))
	require.Len(t, instances, 1)
	assert.Equal(t, "nats/0", instances[0]["id"])
	assert.Equal(t, "vm-1", instances[0]["vm_cid"])
}

func TestPutResolutions(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))
	id, err := f.store.CreateProblem(&registry.Problem{
		Deployment: "mycloud", ResourceID: "nats/0",
		Type: registry.ProblemMissingVM, State: registry.ProblemOpen,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	resp := f.do(t, "PUT", "/v1/deployments/mycloud/problems",
		fmt.Sprintf(`{"%d": "recreate_vm"}`, id))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	problem, err := f.store.Problem(id)
	require.NoError(t, err)
	assert.Equal(t, string(resurrect.ResolveRecreateVM), problem.Resolution)
}

func TestPutResolutionsCrossDeployment(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "other"}))
	id, err := f.store.CreateProblem(&registry.Problem{
		Deployment: "other", ResourceID: "db/0",
		Type: registry.ProblemMissingVM, State: registry.ProblemOpen,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	resp := f.do(t, "PUT", "/v1/deployments/mycloud/problems",
		fmt.Sprintf(`{"%d": "recreate_vm"}`, id))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var derr director.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&derr))
	assert.Equal(t, director.CodeCrossDeployment, derr.Code)
}

func TestDeleteSnapshotCrossDeployment(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "other"}))
	require.NoError(t, f.store.SaveDisk(&registry.PersistentDisk{
		CID: "disk-9", Deployment: "other",
		Instance: director.MakeInstanceID("db", 0), SizeMB: 1024, Active: true,
	}))
	require.NoError(t, f.store.SaveSnapshot(&registry.Snapshot{
		CID: "snap-9", DiskCID: "disk-9", CreatedAt: time.Now().UTC(),
	}))

	// rejected before any task is queued, never accepted for later
	// failure
	resp := f.do(t, "DELETE", "/v1/deployments/mycloud/snapshots/snap-9", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var derr director.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&derr))
	assert.Equal(t, director.CodeDeploymentMismatch, derr.Code)

	assert.Empty(t, f.tasks.Tasks())

	// the snapshot row is untouched
	_, err := f.store.Snapshot("snap-9")
	assert.NoError(t, err)
}

func TestDeleteSnapshotSameDeploymentAccepted(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))
	require.NoError(t, f.store.SaveDisk(&registry.PersistentDisk{
		CID: "disk-1", Deployment: "mycloud",
		Instance: director.MakeInstanceID("nats", 0), SizeMB: 1024, Active: true,
	}))
	require.NoError(t, f.store.SaveSnapshot(&registry.Snapshot{
		CID: "snap-1", DiskCID: "disk-1", CreatedAt: time.Now().UTC(),
	}))

	resp := f.do(t, "DELETE", "/v1/deployments/mycloud/snapshots/snap-1", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/v1/tasks/")
}

func TestListProblemsDefaultsToOpen(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))
	_, err := f.store.CreateProblem(&registry.Problem{
		Deployment: "mycloud", ResourceID: "nats/0",
		Type: registry.ProblemMissingVM, State: registry.ProblemOpen,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	resolvedID, err := f.store.CreateProblem(&registry.Problem{
		Deployment: "mycloud", ResourceID: "nats/1",
		Type: registry.ProblemMissingVM, State: registry.ProblemOpen,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	resolved, err := f.store.Problem(resolvedID)
	require.NoError(t, err)
	resolved.State = registry.ProblemResolved
	require.NoError(t, f.store.UpdateProblem(resolved))

	resp := f.do(t, "GET", "/v1/deployments/mycloud/problems", "")
	defer resp.Body.Close()
	var open []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&open))
	require.Len(t, open, 1)
	assert.Equal(t, "nats/0", open[0]["resource_id"])

	resp = f.do(t, "GET", "/v1/deployments/mycloud/problems?state=resolved", "")
	defer resp.Body.Close()
	var closed []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&closed))
	assert.Len(t, closed, 1)
}

func TestNotFoundFallback(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(t, "GET", "/v2/whatever", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
