package release

import (
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director/artifact"
	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/task"
)

const natsRelease = `
name: nats
version: "1"
jobs:
- name: nats
  digest: abc123
packages:
- name: nats-server
  digest: def456
`

type harness struct {
	store *registry.InMem
	blobs *artifact.InMem
	mgr   *task.Manager
	stop  chan struct{}
	done  chan struct{}
}

// newHarness runs the ingestor the way production does: behind the
// task queue, one worker.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: registry.NewInMem(),
		blobs: artifact.NewInMem(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	ing := &Ingestor{Store: h.store, Artifacts: h.blobs, Logger: log.NewNopLogger()}
	h.mgr = task.NewManager(h.store, 1, log.NewNopLogger())
	h.mgr.Register(task.TypeCreateRelease, ing.HandleCreateRelease)
	h.mgr.Register(task.TypeUpdateStemcell, ing.HandleUpdateStemcell)
	go func() {
		h.mgr.Run(h.stop)
		close(h.done)
	}()
	t.Cleanup(func() {
		close(h.stop)
		<-h.done
	})
	return h
}

func (h *harness) run(t *testing.T, tp task.Type, payload string) *task.Task {
	t.Helper()
	tk, err := h.mgr.Submit(tp, "upload", "admin", "", nil, []byte(payload))
	require.NoError(t, err)
	deadline := time.After(5 * time.Second)
	for !tk.State().Terminal() {
		select {
		case <-deadline:
			t.Fatalf("task %d still %s", tk.ID, tk.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
	return tk
}

func (h *harness) output(tk *task.Task) string {
	data, _ := tk.Output().ReadRange(0, -1)
	return string(data)
}

func TestCreateRelease(t *testing.T) {
	h := newHarness(t)

	tk := h.run(t, task.TypeCreateRelease, natsRelease)
	require.Equal(t, task.StateDone, tk.State())

	releases, err := h.store.Releases()
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "nats", releases[0].Name)

	versions, err := h.store.ReleaseVersions("nats")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "1", versions[0].Version)
	assert.NotEmpty(t, versions[0].Fingerprint)
	assert.NotEmpty(t, versions[0].ArtifactRef)
}

func TestCreateReleaseIdempotent(t *testing.T) {
	h := newHarness(t)
	h.run(t, task.TypeCreateRelease, natsRelease)

	tk := h.run(t, task.TypeCreateRelease, natsRelease)
	require.Equal(t, task.StateDone, tk.State())
	assert.Contains(t, h.output(tk), "nothing to do")

	versions, err := h.store.ReleaseVersions("nats")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCreateReleaseVersionCollision(t *testing.T) {
	h := newHarness(t)
	h.run(t, task.TypeCreateRelease, natsRelease)

	changed := strings.Replace(natsRelease, "digest: abc123", "digest: zzz999", 1)
	tk := h.run(t, task.TypeCreateRelease, changed)
	assert.Equal(t, task.StateError, tk.State())
	assert.Contains(t, h.output(tk), "different contents")

	versions, err := h.store.ReleaseVersions("nats")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestCreateReleaseRejectsBadDescriptor(t *testing.T) {
	h := newHarness(t)
	tk := h.run(t, task.TypeCreateRelease, "jobs: []\n")
	assert.Equal(t, task.StateError, tk.State())
}

func TestUpdateStemcell(t *testing.T) {
	h := newHarness(t)

	tk := h.run(t, task.TypeUpdateStemcell, "name: ubuntu\nversion: \"97\"\ncid: sc-1\n")
	require.Equal(t, task.StateDone, tk.State())

	cells, err := h.store.Stemcells()
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, "sc-1", cells[0].CID)

	// same image again is a no-op
	tk = h.run(t, task.TypeUpdateStemcell, "name: ubuntu\nversion: \"97\"\ncid: sc-1\n")
	require.Equal(t, task.StateDone, tk.State())
	assert.Contains(t, h.output(tk), "nothing to do")

	// a different image under the same name/version is refused
	tk = h.run(t, task.TypeUpdateStemcell, "name: ubuntu\nversion: \"97\"\ncid: sc-2\n")
	assert.Equal(t, task.StateError, tk.State())
}

func TestFingerprintIgnoresDeclarationOrder(t *testing.T) {
	a := Manifest{
		Jobs:     []Element{{Name: "a", Digest: "1"}, {Name: "b", Digest: "2"}},
		Packages: []Element{{Name: "p", Digest: "3"}},
	}
	b := Manifest{
		Jobs:     []Element{{Name: "b", Digest: "2"}, {Name: "a", Digest: "1"}},
		Packages: []Element{{Name: "p", Digest: "3"}},
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Packages[0].Digest = "4"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
