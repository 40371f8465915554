package reconcile

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director/agent"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/registry"
)

const deployManifest = `
name: mycloud
cloud_provider: dummy
update:
  canaries: 1
  max_in_flight: 1
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
  instances: 2
  resource_pool: small
  persistent_disk: 1024
  networks: [default]
`

const scaledDownManifest = `
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

type deployFixture struct {
	store    *registry.InMem
	cloud    *cpi.Fake
	agents   *agent.Fake
	dns      *InMemDNS
	deployer *Deployer
	out      *bytes.Buffer
}

func newDeployFixture(t *testing.T) *deployFixture {
	t.Helper()
	f := &deployFixture{
		store:  registry.NewInMem(),
		cloud:  cpi.NewFake(),
		agents: agent.NewFake(),
		dns:    NewInMemDNS(),
		out:    &bytes.Buffer{},
	}
	require.NoError(t, f.store.SaveStemcell(&registry.Stemcell{Name: "ubuntu", Version: "97", CID: "sc-1"}))
	exec := &Executor{
		CPI:    f.cloud,
		Agents: f.agents,
		Store:  f.store,
		DNS:    f.dns,
		Logger: log.NewNopLogger(),
	}
	f.deployer = NewDeployer(f.store, exec, log.NewNopLogger())
	return f
}

func TestDeployCreatesFleet(t *testing.T) {
	f := newDeployFixture(t)

	result, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)
	assert.Len(t, result.Succeeded(), 2)

	instances, err := f.store.InstancesFor("mycloud")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	for _, inst := range instances {
		require.NotEmpty(t, inst.VMCID)
		assert.True(t, f.cloud.HasVM(inst.VMCID))
		assert.NotEmpty(t, inst.SpecDigest)
	}

	disks, err := f.store.DisksFor("mycloud")
	require.NoError(t, err)
	assert.Len(t, disks, 2)

	ip, ok := f.dns.Lookup("0.nats.mycloud.director.internal")
	assert.True(t, ok)
	assert.NotEmpty(t, ip)

	// only a fully applied manifest is committed
	dep, err := f.store.Deployment("mycloud")
	require.NoError(t, err)
	assert.Equal(t, deployManifest, dep.Manifest)
	assert.Equal(t, "dummy", dep.Provider)
}

func TestDeploySecondRunIsNoop(t *testing.T) {
	f := newDeployFixture(t)
	_, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)

	before, _ := f.store.InstancesFor("mycloud")

	f.out.Reset()
	result, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Contains(t, f.out.String(), "already converged")

	after, _ := f.store.InstancesFor("mycloud")
	assert.Equal(t, before, after)
}

func TestDeployScaleDown(t *testing.T) {
	f := newDeployFixture(t)
	_, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)

	inst1, err := f.store.Instance("mycloud", "nats", 1)
	require.NoError(t, err)
	goneVM := inst1.VMCID

	_, err = f.deployer.Deploy(context.Background(), []byte(scaledDownManifest), NeverInterrupt, f.out)
	require.NoError(t, err)

	instances, err := f.store.InstancesFor("mycloud")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
	assert.False(t, f.cloud.HasVM(goneVM))
}

func TestDeployResizesDiskInOneRun(t *testing.T) {
	f := newDeployFixture(t)
	_, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)

	before, err := f.store.DisksFor("mycloud")
	require.NoError(t, err)
	require.Len(t, before, 2)

	resized := bytes.Replace([]byte(deployManifest), []byte("persistent_disk: 1024"), []byte("persistent_disk: 2048"), 1)
	result, err := f.deployer.Deploy(context.Background(), resized, NeverInterrupt, f.out)
	require.NoError(t, err)
	assert.Len(t, result.Succeeded(), 2)

	// every instance ends this deploy on a disk of the new size
	after, err := f.store.DisksFor("mycloud")
	require.NoError(t, err)
	require.Len(t, after, 2)
	for _, d := range after {
		assert.Equal(t, 2048, d.SizeMB)
		assert.True(t, d.Active)
	}
	for _, d := range before {
		assert.False(t, f.cloud.HasDisk(d.CID))
	}

	// and a further run with the same manifest has nothing left to do
	f.out.Reset()
	result, err = f.deployer.Deploy(context.Background(), resized, NeverInterrupt, f.out)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Contains(t, f.out.String(), "already converged")
}

func TestDeployPartialFailure(t *testing.T) {
	f := newDeployFixture(t)
	f.cloud.FailNext = "create_vm"

	result, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.Error(t, err)
	assert.Len(t, result.Failed(), 1)
	assert.Len(t, result.Skipped(), 1)

	// failed runs never commit the manifest
	dep, err := f.store.Deployment("mycloud")
	require.NoError(t, err)
	assert.Empty(t, dep.Manifest)
}

func TestDeployInterrupted(t *testing.T) {
	f := newDeployFixture(t)

	result, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), func() bool { return true }, f.out)
	require.Error(t, err)
	assert.Equal(t, ErrInterrupted, errors.Cause(err))
	assert.Len(t, result.Skipped(), 2)
	assert.Empty(t, result.Succeeded())
}

func TestDeployRejectsProviderChange(t *testing.T) {
	f := newDeployFixture(t)
	_, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)

	changed := bytes.Replace([]byte(deployManifest), []byte("cloud_provider: dummy"), []byte("cloud_provider: aws"), 1)
	_, err = f.deployer.Deploy(context.Background(), changed, NeverInterrupt, f.out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bound to provider")
}

func TestDeleteDeployment(t *testing.T) {
	f := newDeployFixture(t)
	_, err := f.deployer.Deploy(context.Background(), []byte(deployManifest), NeverInterrupt, f.out)
	require.NoError(t, err)

	inst0, err := f.store.Instance("mycloud", "nats", 0)
	require.NoError(t, err)
	vm0 := inst0.VMCID

	_, err = f.deployer.Delete(context.Background(), "mycloud", NeverInterrupt, f.out)
	require.NoError(t, err)

	_, err = f.store.Deployment("mycloud")
	assert.Equal(t, registry.ErrNotFound, errors.Cause(err))
	instances, err := f.store.InstancesFor("mycloud")
	require.NoError(t, err)
	assert.Empty(t, instances)
	assert.False(t, f.cloud.HasVM(vm0))
}
