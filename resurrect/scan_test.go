package resurrect

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/agent"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/reconcile"
	"github.com/fleetworks/director/registry"
)

const healManifest = `
name: mycloud
cloud_provider: dummy
networks:
- name: default
  range: 10.0.0.0/24
  gateway: 10.0.0.1
resource_pools:
- name: small
  size: 10
  stemcell:
    name: ubuntu
    version: "97"
jobs:
- name: nats
  instances: 1
  resource_pool: small
  persistent_disk: 1024
  networks: [default]
`

type scanFixture struct {
	store    *registry.InMem
	cloud    *cpi.Fake
	agents   *agent.Fake
	deployer *reconcile.Deployer
	scanner  *Scanner

	vmCID   string
	agentID string
	diskCID string
}

// newScanFixture deploys one healthy instance and wires the agent fake
// so a scan of the untouched fleet reports nothing.
func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	f := &scanFixture{
		store:  registry.NewInMem(),
		cloud:  cpi.NewFake(),
		agents: agent.NewFake(),
	}
	require.NoError(t, f.store.SaveStemcell(&registry.Stemcell{Name: "ubuntu", Version: "97", CID: "sc-1"}))
	exec := &reconcile.Executor{
		CPI:    f.cloud,
		Agents: f.agents,
		Store:  f.store,
		DNS:    reconcile.NewInMemDNS(),
		Logger: log.NewNopLogger(),
	}
	f.deployer = reconcile.NewDeployer(f.store, exec, log.NewNopLogger())
	f.scanner = &Scanner{Store: f.store, CPI: f.cloud, Agents: f.agents, Logger: log.NewNopLogger()}

	_, err := f.deployer.Deploy(context.Background(), []byte(healManifest), reconcile.NeverInterrupt, &bytes.Buffer{})
	require.NoError(t, err)

	inst, err := f.store.Instance("mycloud", "nats", 0)
	require.NoError(t, err)
	f.vmCID = inst.VMCID
	vm, err := f.store.VM(inst.VMCID)
	require.NoError(t, err)
	f.agentID = vm.AgentID

	snap, err := registry.TakeSnapshot(f.store, "mycloud")
	require.NoError(t, err)
	disk := snap.ActiveDisk(director.MakeInstanceID("nats", 0))
	require.NotNil(t, disk)
	f.diskCID = disk.CID
	f.agents.SetDisks(f.agentID, []string{f.diskCID})
	return f
}

func (f *scanFixture) scan(t *testing.T) []*registry.Problem {
	t.Helper()
	problems, err := f.scanner.Scan(context.Background(), "mycloud")
	require.NoError(t, err)
	return problems
}

func TestScanHealthyFleet(t *testing.T) {
	f := newScanFixture(t)
	assert.Empty(t, f.scan(t))
}

func TestScanDetectsMissingVM(t *testing.T) {
	f := newScanFixture(t)
	f.cloud.RemoveVM(f.vmCID)

	problems := f.scan(t)
	require.Len(t, problems, 1)
	assert.Equal(t, registry.ProblemMissingVM, problems[0].Type)
	assert.Equal(t, "nats/0", problems[0].ResourceID)
	assert.Equal(t, registry.ProblemOpen, problems[0].State)

	// a second scan reports the same open problem, not a duplicate
	assert.Len(t, f.scan(t), 1)
}

func TestScanDetectsUnresponsiveAgent(t *testing.T) {
	f := newScanFixture(t)
	f.agents.SetAlive(f.agentID, false)

	problems := f.scan(t)
	require.Len(t, problems, 1)
	assert.Equal(t, registry.ProblemUnresponsiveAgent, problems[0].Type)
	assert.Equal(t, "nats/0", problems[0].ResourceID)
}

func TestScanDetectsDetachedDisk(t *testing.T) {
	f := newScanFixture(t)
	f.agents.SetDisks(f.agentID, nil)

	problems := f.scan(t)
	require.Len(t, problems, 1)
	assert.Equal(t, registry.ProblemDetachedDisk, problems[0].Type)
	assert.Equal(t, f.diskCID, problems[0].ResourceID)
	assert.Equal(t, "nats/0", problems[0].Data["instance"])
}

func TestScanUnknownDeployment(t *testing.T) {
	f := newScanFixture(t)
	_, err := f.scanner.Scan(context.Background(), "nope")
	assert.Error(t, err)
}
