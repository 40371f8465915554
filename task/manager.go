package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/registry"
)

// Handler runs one task to completion. A handler failure becomes the
// task's error state; it never propagates past the worker.
type Handler func(ctx context.Context, t *Task) error

// Manager owns the queue, the worker pool, and the per-deployment
// advisory locks that serialize mutating tasks against the same
// deployment. Tasks against different deployments proceed in
// parallel.
type Manager struct {
	store    registry.Store
	queue    *Queue
	workers  int
	logger   log.Logger
	handlers map[Type]Handler

	tasksMx sync.RWMutex
	tasks   map[ID]*Task
	nextID  ID

	locks *deploymentLocks
}

func NewManager(store registry.Store, workers int, logger log.Logger) *Manager {
	if workers <= 0 {
		workers = 3
	}
	return &Manager{
		store:    store,
		queue:    NewQueue(),
		workers:  workers,
		logger:   logger,
		handlers: map[Type]Handler{},
		tasks:    map[ID]*Task{},
		nextID:   1,
		locks:    newDeploymentLocks(),
	}
}

// Register binds a handler to a task type. All registration happens
// at construction time, before Run.
func (m *Manager) Register(tp Type, h Handler) {
	m.handlers[tp] = h
}

// Submit enqueues a task and returns immediately; it never waits for
// execution. The id is monotonic over the life of the manager.
func (m *Manager) Submit(tp Type, description, user, deployment string, params map[string]string, payload []byte) (*Task, error) {
	if _, ok := m.handlers[tp]; !ok {
		return nil, errors.Errorf("no handler registered for task type %q", tp)
	}
	m.tasksMx.Lock()
	id := m.nextID
	m.nextID++
	t := newTask(id, tp, description, user, deployment)
	t.Params = params
	t.Payload = payload
	m.tasks[id] = t
	m.tasksMx.Unlock()

	if err := m.store.SaveTask(t.record()); err != nil {
		return nil, errors.Wrap(err, "recording task")
	}
	if user != "" {
		err := m.store.SaveUser(&registry.User{Name: user, FirstSeen: time.Now().UTC()})
		if err != nil {
			m.logger.Log("during", "recording user", "user", user, "err", err)
		}
	}
	m.queue.Enqueue(t)
	queueLength.Set(float64(m.queue.Len()))
	return t, nil
}

// Cancel requests cooperative cancellation. The running worker
// honours it at its next checkpoint; a task already terminal is left
// alone and reported as such.
func (m *Manager) Cancel(id ID) error {
	t, err := m.task(id)
	if err != nil {
		return err
	}
	if !t.requestCancel() {
		return errors.Errorf("task %d is already %s", id, t.State())
	}
	return m.store.SaveTask(t.record())
}

func (m *Manager) Status(id ID) (Info, error) {
	t, err := m.task(id)
	if err != nil {
		return Info{}, err
	}
	return t.Info(), nil
}

// Output returns the requested byte range of the task's log plus the
// total length, for resumable tailing.
func (m *Manager) Output(id ID, offset, length int64) ([]byte, int64, error) {
	t, err := m.task(id)
	if err != nil {
		return nil, 0, err
	}
	slice, total := t.Output().ReadRange(offset, length)
	return slice, total, nil
}

func (m *Manager) Tasks() []Info {
	m.tasksMx.RLock()
	defer m.tasksMx.RUnlock()
	out := make([]Info, 0, len(m.tasks))
	for id := ID(1); id < m.nextID; id++ {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t.Info())
		}
	}
	return out
}

func (m *Manager) task(id ID) (*Task, error) {
	m.tasksMx.RLock()
	defer m.tasksMx.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, &director.Error{
			Type: director.Missing,
			Code: director.CodeTaskNotFound,
			Err:  fmt.Errorf("task %d not found", id),
		}
	}
	return t, nil
}

// Run starts the queue loop and the worker pool, and blocks until
// stop is closed and workers have drained.
func (m *Manager) Run(stop chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.queue.Loop(stop)
	}()
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			logger := log.With(m.logger, "worker", worker)
			for t := range m.queue.Ready() {
				queueLength.Set(float64(m.queue.Len()))
				m.run(t, logger)
			}
		}(i)
	}
	wg.Wait()
}

// run executes one task. The worker holds the deployment's advisory
// lock for the whole run, so two mutating operations on the same
// deployment can never interleave. Panics and handler errors both
// land in the task's output and its terminal state; nothing escapes
// the pool.
func (m *Manager) run(t *Task, logger log.Logger) {
	logger = log.With(logger, "task", t.ID, "type", t.Type)

	if t.Deployment != "" {
		unlock := m.locks.lock(t.Deployment)
		defer unlock()
	}

	if !t.begin() {
		// cancelled while still queued
		t.finish(nil, true)
		m.persist(t, logger)
		logger.Log("state", t.State())
		return
	}
	m.persist(t, logger)
	logger.Log("state", "in-progress")

	start := time.Now()
	err := m.invoke(t)
	taskDuration.With(
		"task_type", string(t.Type),
		"success", fmt.Sprint(err == nil),
	).Observe(time.Since(start).Seconds())

	if err != nil {
		fmt.Fprintf(t.Output(), "task failed: %s\n", err)
	}
	t.finish(err, false)
	m.persist(t, logger)
	logger.Log("state", t.State(), "took", time.Since(start), "err", err)
}

func (m *Manager) invoke(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task handler panicked: %v", r)
		}
	}()
	h := m.handlers[t.Type]
	return h(context.Background(), t)
}

func (m *Manager) persist(t *Task, logger log.Logger) {
	if err := m.store.SaveTask(t.record()); err != nil {
		logger.Log("err", errors.Wrap(err, "persisting task state"))
	}
}

// deploymentLocks are advisory: correctness relies on every mutating
// path going through the manager, which it does.
type deploymentLocks struct {
	mtx   sync.Mutex
	locks map[string]*sync.Mutex
}

func newDeploymentLocks() *deploymentLocks {
	return &deploymentLocks{locks: map[string]*sync.Mutex{}}
}

func (d *deploymentLocks) lock(deployment string) (unlock func()) {
	d.mtx.Lock()
	l, ok := d.locks[deployment]
	if !ok {
		l = &sync.Mutex{}
		d.locks[deployment] = l
	}
	d.mtx.Unlock()
	l.Lock()
	return l.Unlock
}
