package manifest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Manifest is the parsed desired-state document for one deployment.
// Schema validation happens upstream of the director core; the shape
// here is trusted once parsed.
type Manifest struct {
	Name          string         `yaml:"name"`
	Provider      string         `yaml:"cloud_provider"`
	Releases      []ReleaseRef   `yaml:"releases"`
	Stemcells     []StemcellRef  `yaml:"stemcells"`
	Update        UpdateConfig   `yaml:"update"`
	Networks      []Network      `yaml:"networks"`
	ResourcePools []ResourcePool `yaml:"resource_pools"`
	Jobs          []Job          `yaml:"jobs"`
}

type ReleaseRef struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StemcellRef struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// UpdateConfig bounds availability loss during a rolling update:
// Canaries instances are updated first, then the rest in batches of
// at most MaxInFlight.
type UpdateConfig struct {
	Canaries    int `yaml:"canaries"`
	MaxInFlight int `yaml:"max_in_flight"`
}

type Network struct {
	Name     string   `yaml:"name"`
	Range    string   `yaml:"range"`
	Gateway  string   `yaml:"gateway"`
	Reserved []string `yaml:"reserved"`
	Static   []string `yaml:"static"`
}

type ResourcePool struct {
	Name            string                 `yaml:"name"`
	Size            int                    `yaml:"size"`
	Stemcell        StemcellRef            `yaml:"stemcell"`
	CloudProperties map[string]interface{} `yaml:"cloud_properties"`
}

type Job struct {
	Name           string   `yaml:"name"`
	Instances      int      `yaml:"instances"`
	ResourcePool   string   `yaml:"resource_pool"`
	PersistentDisk int      `yaml:"persistent_disk"` // size in MB; 0 = none
	Networks       []string `yaml:"networks"`
	Templates      []string `yaml:"templates"`
}

func Load(def []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(def, &m); err != nil {
		return nil, errors.Wrap(err, "parsing deployment manifest")
	}
	if m.Name == "" {
		return nil, errors.New("deployment manifest has no name")
	}
	if m.Update.MaxInFlight <= 0 {
		m.Update.MaxInFlight = 1
	}
	return &m, nil
}

func (m *Manifest) JobNamed(name string) (Job, bool) {
	for _, j := range m.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

func (m *Manifest) PoolNamed(name string) (ResourcePool, bool) {
	for _, p := range m.ResourcePools {
		if p.Name == name {
			return p, true
		}
	}
	return ResourcePool{}, false
}

// Digest summarizes everything about a job that, when changed, means
// its instances need updating. Two equal digests mean a converged
// instance needs no work.
func (m *Manifest) Digest(j Job) string {
	pool, _ := m.PoolNamed(j.ResourcePool)
	summary := struct {
		Job  Job
		Pool ResourcePool
	}{j, pool}
	def, _ := yaml.Marshal(summary)
	sum := sha256.Sum256(def)
	return hex.EncodeToString(sum[:])
}
