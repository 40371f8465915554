package task

import (
	"sync"
	"time"

	"github.com/fleetworks/director/registry"
)

type ID int64

type Type string

const (
	TypeUpdateDeployment   Type = "update_deployment"
	TypeDeleteDeployment   Type = "delete_deployment"
	TypeCreateRelease      Type = "create_release"
	TypeUpdateStemcell     Type = "update_stemcell"
	TypeSnapshotDeployment Type = "snapshot_deployment"
	TypeDeleteSnapshot     Type = "delete_snapshot"
	TypeScan               Type = "scan"
	TypeScanAndFix         Type = "scan_and_fix"
	TypeResolveProblem     Type = "resolve_problem"
	TypeBackup             Type = "backup"
)

type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
	StateDone       State = "done"
	StateError      State = "error"
)

func (s State) Terminal() bool {
	return s == StateCancelled || s == StateDone || s == StateError
}

// Task is a long-running operation tracked to completion. Exactly one
// worker processes a task; the only mutation anyone else may cause is
// a cancellation request, which is cooperative and observed by the
// worker at its next safe checkpoint.
type Task struct {
	ID          ID
	Type        Type
	Description string
	User        string
	// Deployment scopes the advisory lock held while the task runs;
	// empty for tasks that touch no deployment.
	Deployment string
	Timestamp  time.Time
	// Params carries small string-valued arguments; Payload carries a
	// document such as a manifest.
	Params  map[string]string
	Payload []byte

	output *Output

	mtx    sync.Mutex
	state  State
	result string
}

func newTask(id ID, tp Type, description, user, deployment string) *Task {
	return &Task{
		ID:          id,
		Type:        tp,
		Description: description,
		User:        user,
		Deployment:  deployment,
		Timestamp:   time.Now().UTC(),
		output:      NewOutput(),
		state:       StateQueued,
	}
}

func (t *Task) State() State {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.state
}

func (t *Task) Result() string {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.result
}

// Output is the task's log sink. Readers may tail it while the task
// is still running.
func (t *Task) Output() *Output {
	return t.output
}

// Interrupted reports whether cancellation has been requested. It is
// the cancellation token handed to handlers, polled at their batch
// boundaries.
func (t *Task) Interrupted() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.state == StateCancelling
}

// requestCancel moves queued/processing to cancelling. Terminal
// states are immutable; cancelling twice is a no-op.
func (t *Task) requestCancel() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	switch t.state {
	case StateQueued, StateProcessing:
		t.state = StateCancelling
		return true
	case StateCancelling:
		return true
	default:
		return false
	}
}

// begin moves queued to processing. It reports false when the task
// was cancelled while still queued, in which case the worker must
// finalize it instead of running the handler.
func (t *Task) begin() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.state == StateQueued {
		t.state = StateProcessing
		return true
	}
	return false
}

// finish drives the task to its terminal state: done on success,
// error on failure, cancelled if cancellation was honoured.
func (t *Task) finish(err error, interrupted bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.state.Terminal() {
		return
	}
	switch {
	case interrupted || t.state == StateCancelling:
		t.state = StateCancelled
		t.result = "task cancelled"
	case err != nil:
		t.state = StateError
		t.result = err.Error()
	default:
		t.state = StateDone
		t.result = ""
	}
}

func (t *Task) record() *registry.TaskRecord {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return &registry.TaskRecord{
		ID:          int64(t.ID),
		Type:        string(t.Type),
		State:       string(t.state),
		Description: t.Description,
		User:        t.User,
		Deployment:  t.Deployment,
		Timestamp:   t.Timestamp,
		Result:      t.result,
	}
}

// Info is the read-only status view served to API callers.
type Info struct {
	ID          ID        `json:"id"`
	Type        Type      `json:"type"`
	State       State     `json:"state"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	User        string    `json:"user,omitempty"`
	Result      string    `json:"result,omitempty"`
}

func (t *Task) Info() Info {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return Info{
		ID:          t.ID,
		Type:        t.Type,
		State:       t.state,
		Description: t.Description,
		Timestamp:   t.Timestamp,
		User:        t.User,
		Result:      t.result,
	}
}
