package agent

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Client talks to the agent process running inside each VM. The
// director only needs liveness and a small apply surface; everything
// else the agent does is its own business.
type Client interface {
	// Ping succeeds iff the agent has heartbeated recently.
	Ping(ctx context.Context, agentID string) error
	// Apply pushes the instance's job state and blocks until the
	// agent reports the jobs healthy, or the context expires.
	Apply(ctx context.Context, agentID string, state string) error
	// ListDisks reports the disk cids the agent currently has
	// mounted.
	ListDisks(ctx context.Context, agentID string) ([]string, error)
}

var ErrUnresponsive = errors.New("agent is not responding")

// Fake is the in-memory Client used by tests and the dummy provider
// setup: agents exist once marked alive, and report whatever disks
// were attached through it.
type Fake struct {
	mtx   sync.Mutex
	alive map[string]bool
	disks map[string][]string
	// ApplyErr, when set, fails the next Apply; simulates a canary
	// that never goes healthy.
	ApplyErr error
}

func NewFake() *Fake {
	return &Fake{
		alive: map[string]bool{},
		disks: map[string][]string{},
	}
}

var _ Client = &Fake{}

func (f *Fake) SetAlive(agentID string, alive bool) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.alive[agentID] = alive
}

func (f *Fake) SetDisks(agentID string, disks []string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.disks[agentID] = disks
}

func (f *Fake) Ping(ctx context.Context, agentID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if !f.alive[agentID] {
		return errors.Wrap(ErrUnresponsive, agentID)
	}
	return nil
}

func (f *Fake) Apply(ctx context.Context, agentID string, state string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.ApplyErr != nil {
		err := f.ApplyErr
		f.ApplyErr = nil
		return err
	}
	f.alive[agentID] = true
	return nil
}

func (f *Fake) ListDisks(ctx context.Context, agentID string) ([]string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if !f.alive[agentID] {
		return nil, errors.Wrap(ErrUnresponsive, agentID)
	}
	return f.disks[agentID], nil
}
