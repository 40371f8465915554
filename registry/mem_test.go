package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director"
)

func TestInstanceIdentityIsUnique(t *testing.T) {
	s := NewInMem()
	require.NoError(t, s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 0, State: director.InstanceStarted}))

	// saving the same identity again replaces, never duplicates
	require.NoError(t, s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 0, State: director.InstanceStopped}))

	instances, err := s.InstancesFor("dep")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, director.InstanceStopped, instances[0].State)
}

func TestVMBoundToOneInstance(t *testing.T) {
	s := NewInMem()
	require.NoError(t, s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 0, VMCID: "vm-1"}))

	err := s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 1, VMCID: "vm-1"})
	assert.ErrorIs(t, err, ErrVMBound)

	// rebinding the same instance to its own VM is fine
	require.NoError(t, s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 0, VMCID: "vm-1", State: director.InstanceStarted}))
}

func TestOneActiveDiskPerInstance(t *testing.T) {
	s := NewInMem()
	id := director.MakeInstanceID("nats", 0)
	require.NoError(t, s.SaveDisk(&PersistentDisk{CID: "disk-1", Deployment: "dep", Instance: id, SizeMB: 1024, Active: true}))

	err := s.SaveDisk(&PersistentDisk{CID: "disk-2", Deployment: "dep", Instance: id, SizeMB: 2048, Active: true})
	assert.ErrorIs(t, err, ErrSecondActive)

	// an inactive second disk is the migration intermediate state
	require.NoError(t, s.SaveDisk(&PersistentDisk{CID: "disk-2", Deployment: "dep", Instance: id, SizeMB: 2048, Active: false}))

	// flipping: deactivate old, then activate new
	require.NoError(t, s.SaveDisk(&PersistentDisk{CID: "disk-1", Deployment: "dep", Instance: id, SizeMB: 1024, Active: false}))
	require.NoError(t, s.SaveDisk(&PersistentDisk{CID: "disk-2", Deployment: "dep", Instance: id, SizeMB: 2048, Active: true}))
}

func TestProblemStaysInDeployment(t *testing.T) {
	s := NewInMem()
	require.NoError(t, s.SaveDeployment(&Deployment{Name: "dep", Provider: "dummy"}))

	id, err := s.CreateProblem(&Problem{Deployment: "dep", ResourceID: "nats/0", Type: ProblemMissingVM, State: ProblemOpen, CreatedAt: time.Now()})
	require.NoError(t, err)

	p, err := s.Problem(id)
	require.NoError(t, err)
	p.Deployment = "other"
	assert.ErrorIs(t, s.UpdateProblem(p), ErrCrossDeployment)

	// recording a problem against an unknown deployment is rejected
	_, err = s.CreateProblem(&Problem{Deployment: "ghost", ResourceID: "x", Type: ProblemMissingVM, State: ProblemOpen})
	assert.Error(t, err)
}

func TestListingsSortedByName(t *testing.T) {
	s := NewInMem()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.SaveDeployment(&Deployment{Name: name, Provider: "dummy"}))
	}
	deployments, err := s.Deployments()
	require.NoError(t, err)
	var names []string
	for _, d := range deployments {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestTakeSnapshot(t *testing.T) {
	s := NewInMem()
	require.NoError(t, s.SaveDeployment(&Deployment{Name: "dep", Provider: "dummy"}))
	require.NoError(t, s.SaveVM(&VM{CID: "vm-1", AgentID: "agent-1", Deployment: "dep"}))
	require.NoError(t, s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 0, VMCID: "vm-1"}))
	require.NoError(t, s.SaveDisk(&PersistentDisk{CID: "disk-1", Deployment: "dep", Instance: director.MakeInstanceID("nats", 0), Active: true}))
	require.NoError(t, s.SaveDisk(&PersistentDisk{CID: "disk-0", Deployment: "dep", Instance: director.MakeInstanceID("nats", 0), Active: false}))

	snap, err := TakeSnapshot(s, "dep")
	require.NoError(t, err)
	assert.Len(t, snap.Instances, 1)
	assert.Contains(t, snap.VMs, "vm-1")

	active := snap.ActiveDisk(director.MakeInstanceID("nats", 0))
	require.NotNil(t, active)
	assert.Equal(t, "disk-1", active.CID)

	_, err = TakeSnapshot(s, "ghost")
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	s := NewInMem()
	require.NoError(t, s.SaveDeployment(&Deployment{Name: "dep", Provider: "dummy"}))
	require.NoError(t, s.SaveInstance(&Instance{Deployment: "dep", Job: "nats", Index: 0}))
	require.NoError(t, s.SaveRelease(&Release{Name: "nats"}))
	require.NoError(t, s.SaveReleaseVersion(&ReleaseVersion{Release: "nats", Version: "1", Fingerprint: "abc"}))

	raw, err := Dump(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"dep"`)
	assert.Contains(t, string(raw), `"nats"`)
}
