package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleManifest = `
name: mycloud
cloud_provider: dummy
releases:
- name: nats
  version: "1"
stemcells:
- name: ubuntu
  version: "97"
update:
  canaries: 1
  max_in_flight: 2
networks:
- name: default
  range: 10.0.0.0/24
  gateway: 10.0.0.1
  reserved: [10.0.0.2]
resource_pools:
- name: small
  size: 3
  stemcell:
    name: ubuntu
    version: "97"
  cloud_properties:
    instance_type: m4.large
jobs:
- name: nats
  instances: 2
  resource_pool: small
  persistent_disk: 1024
  networks: [default]
  templates: [nats]
`

func TestLoad(t *testing.T) {
	m, err := Load([]byte(exampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "mycloud", m.Name)
	assert.Equal(t, "dummy", m.Provider)
	assert.Equal(t, 1, m.Update.Canaries)
	assert.Equal(t, 2, m.Update.MaxInFlight)

	job, ok := m.JobNamed("nats")
	require.True(t, ok)
	assert.Equal(t, 2, job.Instances)
	assert.Equal(t, 1024, job.PersistentDisk)

	pool, ok := m.PoolNamed("small")
	require.True(t, ok)
	assert.Equal(t, 3, pool.Size)
	assert.Equal(t, "m4.large", pool.CloudProperties["instance_type"])
}

func TestLoadRequiresName(t *testing.T) {
	_, err := Load([]byte("jobs: []\n"))
	assert.Error(t, err)
}

func TestLoadDefaultsMaxInFlight(t *testing.T) {
	m, err := Load([]byte("name: dep\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Update.MaxInFlight)
}

func TestDigestTracksJobAndPool(t *testing.T) {
	m, err := Load([]byte(exampleManifest))
	require.NoError(t, err)
	job, _ := m.JobNamed("nats")
	before := m.Digest(job)

	// same inputs digest identically
	assert.Equal(t, before, m.Digest(job))

	// a pool change invalidates the job digest too
	m.ResourcePools[0].CloudProperties["instance_type"] = "m5.large"
	assert.NotEqual(t, before, m.Digest(job))
}
