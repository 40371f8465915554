package registry

import (
	"time"

	"github.com/pkg/errors"

	"github.com/fleetworks/director"
)

// The fleet model: what the director believes exists. The storage
// engine behind a Store is a collaborator concern; the invariants are
// not, and every implementation must uphold them:
//
//   - (deployment, job, index) is unique among instances
//   - an instance has at most one active persistent disk
//   - a VM is bound to at most one instance
//   - a problem references a resource in its own deployment

var (
	ErrNotFound        = errors.New("not found")
	ErrVMBound         = errors.New("VM is already bound to another instance")
	ErrSecondActive    = errors.New("instance already has an active persistent disk")
	ErrCrossDeployment = errors.New("resource belongs to a different deployment")
)

type Deployment struct {
	Name     string
	Provider string // infrastructure kind; immutable for the deployment's lifetime
	Manifest string // current desired-state document, replaced atomically on success
	Releases []ReleaseVersionRef
	Stemcell StemcellRef
}

type ReleaseVersionRef struct {
	Name             string
	Version          string
	CurrentlyEmitted bool // referenced by the deployment's current manifest
}

type StemcellRef struct {
	Name    string
	Version string
}

type Instance struct {
	Deployment         string
	Job                string
	Index              int
	State              director.InstanceState
	ResurrectionPaused bool
	VMCID              string // "" while unbound during reconciliation
	SpecDigest         string // digest of the job spec this instance last converged to
}

func (i Instance) ID() director.InstanceID {
	return director.MakeInstanceID(i.Job, i.Index)
}

type VM struct {
	CID        string // provider-assigned
	AgentID    string // director-generated
	Deployment string
	Pool       string
	Network    string
	IP         string
}

type PersistentDisk struct {
	CID        string
	Deployment string
	Instance   director.InstanceID
	SizeMB     int
	// Active marks the disk currently attached and in use. During a
	// disk migration an instance transiently references an old and a
	// new disk; at most one is active.
	Active bool
}

type Snapshot struct {
	CID       string
	DiskCID   string
	CreatedAt time.Time
}

type ProblemType string

const (
	ProblemMissingVM         ProblemType = "missing_vm"
	ProblemUnresponsiveAgent ProblemType = "unresponsive_agent"
	ProblemDetachedDisk      ProblemType = "detached_disk"
	ProblemOutOfDisk         ProblemType = "out_of_disk"
)

type ProblemState string

const (
	ProblemOpen     ProblemState = "open"
	ProblemResolved ProblemState = "resolved"
)

type Problem struct {
	ID         int64
	Deployment string
	ResourceID string // instance ID, VM cid or disk cid, depending on Type
	Type       ProblemType
	State      ProblemState
	Data       map[string]string
	Resolution string
	CreatedAt  time.Time
}

type Release struct {
	Name string
}

type ReleaseVersion struct {
	Release string
	Version string
	// Fingerprint covers the release's jobs and packages; a re-upload
	// with an identical fingerprint is a no-op.
	Fingerprint string
	ArtifactRef string
}

type Stemcell struct {
	Name    string
	Version string
	CID     string // provider image id, opaque
}

// User is anyone who has ever submitted a task. The auth layer in
// front of the API owns credentials; this is only the audit-trail
// side of the relationship.
type User struct {
	Name      string
	FirstSeen time.Time
}

// TaskRecord is the persisted view of a task, written through on
// every state transition. Records are never deleted; retention is an
// external policy.
type TaskRecord struct {
	ID          int64
	Type        string
	State       string
	Description string
	User        string
	Deployment  string
	Timestamp   time.Time
	Result      string
}

// Store is the persistence boundary for fleet state. Mutating methods
// may only be called by the task holding the deployment's lock; the
// problem scanner reads through snapshots (see StateSnapshot) and
// never writes directly.
type Store interface {
	SaveDeployment(*Deployment) error
	Deployment(name string) (*Deployment, error)
	Deployments() ([]*Deployment, error)
	DeleteDeployment(name string) error

	SaveInstance(*Instance) error
	Instance(deployment, job string, index int) (*Instance, error)
	InstancesFor(deployment string) ([]*Instance, error)
	DeleteInstance(deployment, job string, index int) error

	SaveVM(*VM) error
	VM(cid string) (*VM, error)
	VMsFor(deployment string) ([]*VM, error)
	DeleteVM(cid string) error

	SaveDisk(*PersistentDisk) error
	Disk(cid string) (*PersistentDisk, error)
	DisksFor(deployment string) ([]*PersistentDisk, error)
	DeleteDisk(cid string) error

	SaveSnapshot(*Snapshot) error
	Snapshot(cid string) (*Snapshot, error)
	SnapshotsForDisk(diskCID string) ([]*Snapshot, error)
	DeleteSnapshot(cid string) error

	CreateProblem(*Problem) (int64, error)
	Problem(id int64) (*Problem, error)
	ProblemsFor(deployment string, state ProblemState) ([]*Problem, error)
	UpdateProblem(*Problem) error

	SaveRelease(*Release) error
	Releases() ([]*Release, error)
	SaveReleaseVersion(*ReleaseVersion) error
	ReleaseVersions(release string) ([]*ReleaseVersion, error)
	SaveStemcell(*Stemcell) error
	Stemcells() ([]*Stemcell, error)

	SaveTask(*TaskRecord) error
	Task(id int64) (*TaskRecord, error)
	Tasks() ([]*TaskRecord, error)

	// SaveUser is an upsert keyed on name; FirstSeen survives
	// re-saves.
	SaveUser(*User) error
	Users() ([]*User, error)
}

// StateSnapshot is a point-in-time read of one deployment's fleet
// state, safe to inspect without holding the deployment lock.
type StateSnapshot struct {
	Deployment *Deployment
	Instances  []*Instance
	VMs        map[string]*VM             // by cid
	Disks      map[string]*PersistentDisk // by cid
}

func TakeSnapshot(s Store, deployment string) (*StateSnapshot, error) {
	dep, err := s.Deployment(deployment)
	if err != nil {
		return nil, err
	}
	instances, err := s.InstancesFor(deployment)
	if err != nil {
		return nil, err
	}
	vms, err := s.VMsFor(deployment)
	if err != nil {
		return nil, err
	}
	disks, err := s.DisksFor(deployment)
	if err != nil {
		return nil, err
	}
	snap := &StateSnapshot{
		Deployment: dep,
		Instances:  instances,
		VMs:        map[string]*VM{},
		Disks:      map[string]*PersistentDisk{},
	}
	for _, vm := range vms {
		snap.VMs[vm.CID] = vm
	}
	for _, d := range disks {
		snap.Disks[d.CID] = d
	}
	return snap, nil
}

// ActiveDisk returns the instance's active persistent disk, if any.
func (s *StateSnapshot) ActiveDisk(id director.InstanceID) *PersistentDisk {
	for _, d := range s.Disks {
		if d.Instance == id && d.Active {
			return d
		}
	}
	return nil
}
