package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// InMem is the reference Store implementation, used by tests and by
// directors run without a datasource. All invariant checks live here
// and in registry/sql equally.
type InMem struct {
	mtx             sync.RWMutex
	deployments     map[string]*Deployment
	instances       map[string]*Instance // key deployment/job/index
	vms             map[string]*VM
	disks           map[string]*PersistentDisk
	snapshots       map[string]*Snapshot
	problems        map[int64]*Problem
	nextProblemID   int64
	releases        map[string]*Release
	releaseVersions map[string][]*ReleaseVersion
	stemcells       map[string]*Stemcell
	tasks           map[int64]*TaskRecord
	users           map[string]*User
}

func NewInMem() *InMem {
	return &InMem{
		deployments:     map[string]*Deployment{},
		instances:       map[string]*Instance{},
		vms:             map[string]*VM{},
		disks:           map[string]*PersistentDisk{},
		snapshots:       map[string]*Snapshot{},
		problems:        map[int64]*Problem{},
		nextProblemID:   1,
		releases:        map[string]*Release{},
		releaseVersions: map[string][]*ReleaseVersion{},
		stemcells:       map[string]*Stemcell{},
		tasks:           map[int64]*TaskRecord{},
		users:           map[string]*User{},
	}
}

var _ Store = &InMem{}

func instanceKey(deployment, job string, index int) string {
	return fmt.Sprintf("%s/%s/%d", deployment, job, index)
}

func (m *InMem) SaveDeployment(d *Deployment) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *d
	m.deployments[d.Name] = &cp
	return nil
}

func (m *InMem) Deployment(name string) (*Deployment, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	d, ok := m.deployments[name]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "deployment "+name)
	}
	cp := *d
	return &cp, nil
}

func (m *InMem) Deployments() ([]*Deployment, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*Deployment
	for _, d := range m.deployments {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMem) DeleteDeployment(name string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.deployments[name]; !ok {
		return errors.Wrap(ErrNotFound, "deployment "+name)
	}
	delete(m.deployments, name)
	return nil
}

func (m *InMem) SaveInstance(i *Instance) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	key := instanceKey(i.Deployment, i.Job, i.Index)
	if i.VMCID != "" {
		// a VM may back at most one instance
		for k, other := range m.instances {
			if k != key && other.VMCID == i.VMCID {
				return errors.Wrapf(ErrVMBound, "vm %s", i.VMCID)
			}
		}
	}
	cp := *i
	m.instances[key] = &cp
	return nil
}

func (m *InMem) Instance(deployment, job string, index int) (*Instance, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	i, ok := m.instances[instanceKey(deployment, job, index)]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "instance %s/%s/%d", deployment, job, index)
	}
	cp := *i
	return &cp, nil
}

func (m *InMem) InstancesFor(deployment string) ([]*Instance, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*Instance
	for _, i := range m.instances {
		if i.Deployment == deployment {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Job != out[b].Job {
			return out[a].Job < out[b].Job
		}
		return out[a].Index < out[b].Index
	})
	return out, nil
}

func (m *InMem) DeleteInstance(deployment, job string, index int) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	key := instanceKey(deployment, job, index)
	if _, ok := m.instances[key]; !ok {
		return errors.Wrapf(ErrNotFound, "instance %s/%s/%d", deployment, job, index)
	}
	delete(m.instances, key)
	return nil
}

func (m *InMem) SaveVM(vm *VM) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *vm
	m.vms[vm.CID] = &cp
	return nil
}

func (m *InMem) VM(cid string) (*VM, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	vm, ok := m.vms[cid]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "vm "+cid)
	}
	cp := *vm
	return &cp, nil
}

func (m *InMem) VMsFor(deployment string) ([]*VM, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*VM
	for _, vm := range m.vms {
		if vm.Deployment == deployment {
			cp := *vm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })
	return out, nil
}

func (m *InMem) DeleteVM(cid string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.vms[cid]; !ok {
		return errors.Wrap(ErrNotFound, "vm "+cid)
	}
	delete(m.vms, cid)
	return nil
}

func (m *InMem) SaveDisk(d *PersistentDisk) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if d.Active {
		for cid, other := range m.disks {
			if cid != d.CID && other.Deployment == d.Deployment && other.Instance == d.Instance && other.Active {
				return errors.Wrapf(ErrSecondActive, "instance %s", d.Instance)
			}
		}
	}
	cp := *d
	m.disks[d.CID] = &cp
	return nil
}

func (m *InMem) Disk(cid string) (*PersistentDisk, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	d, ok := m.disks[cid]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "disk "+cid)
	}
	cp := *d
	return &cp, nil
}

func (m *InMem) DisksFor(deployment string) ([]*PersistentDisk, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*PersistentDisk
	for _, d := range m.disks {
		if d.Deployment == deployment {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CID < out[j].CID })
	return out, nil
}

func (m *InMem) DeleteDisk(cid string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.disks[cid]; !ok {
		return errors.Wrap(ErrNotFound, "disk "+cid)
	}
	delete(m.disks, cid)
	return nil
}

func (m *InMem) SaveSnapshot(s *Snapshot) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *s
	m.snapshots[s.CID] = &cp
	return nil
}

func (m *InMem) Snapshot(cid string) (*Snapshot, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	s, ok := m.snapshots[cid]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "snapshot "+cid)
	}
	cp := *s
	return &cp, nil
}

func (m *InMem) SnapshotsForDisk(diskCID string) ([]*Snapshot, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*Snapshot
	for _, s := range m.snapshots {
		if s.DiskCID == diskCID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *InMem) DeleteSnapshot(cid string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.snapshots[cid]; !ok {
		return errors.Wrap(ErrNotFound, "snapshot "+cid)
	}
	delete(m.snapshots, cid)
	return nil
}

func (m *InMem) CreateProblem(p *Problem) (int64, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.deployments[p.Deployment]; !ok {
		return 0, errors.Wrap(ErrNotFound, "deployment "+p.Deployment)
	}
	cp := *p
	cp.ID = m.nextProblemID
	m.nextProblemID++
	m.problems[cp.ID] = &cp
	return cp.ID, nil
}

func (m *InMem) Problem(id int64) (*Problem, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "problem %d", id)
	}
	cp := *p
	return &cp, nil
}

func (m *InMem) ProblemsFor(deployment string, state ProblemState) ([]*Problem, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*Problem
	for _, p := range m.problems {
		if p.Deployment == deployment && p.State == state {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMem) UpdateProblem(p *Problem) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	existing, ok := m.problems[p.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "problem %d", p.ID)
	}
	if existing.Deployment != p.Deployment {
		return errors.Wrapf(ErrCrossDeployment, "problem %d", p.ID)
	}
	cp := *p
	m.problems[p.ID] = &cp
	return nil
}

func (m *InMem) SaveRelease(r *Release) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *r
	m.releases[r.Name] = &cp
	return nil
}

func (m *InMem) Releases() ([]*Release, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*Release
	for _, r := range m.releases {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMem) SaveReleaseVersion(rv *ReleaseVersion) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *rv
	m.releaseVersions[rv.Release] = append(m.releaseVersions[rv.Release], &cp)
	return nil
}

func (m *InMem) ReleaseVersions(release string) ([]*ReleaseVersion, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*ReleaseVersion
	for _, rv := range m.releaseVersions[release] {
		cp := *rv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *InMem) SaveStemcell(s *Stemcell) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *s
	m.stemcells[s.Name+"/"+s.Version] = &cp
	return nil
}

func (m *InMem) Stemcells() ([]*Stemcell, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*Stemcell
	for _, s := range m.stemcells {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (m *InMem) SaveTask(t *TaskRecord) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *InMem) Task(id int64) (*TaskRecord, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "task %d", id)
	}
	cp := *t
	return &cp, nil
}

func (m *InMem) Tasks() ([]*TaskRecord, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*TaskRecord
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMem) SaveUser(u *User) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if _, ok := m.users[u.Name]; ok {
		return nil
	}
	cp := *u
	m.users[u.Name] = &cp
	return nil
}

func (m *InMem) Users() ([]*User, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	var out []*User
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
