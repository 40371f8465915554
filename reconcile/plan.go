package reconcile

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/allocate"
	"github.com/fleetworks/director/manifest"
	"github.com/fleetworks/director/registry"
)

// Planner diffs desired manifest state against observed fleet state
// and emits an ordered Plan. Planning allocates all placements up
// front: an allocation failure aborts the whole plan before any
// infrastructure call is made, so nothing is ever partially
// allocated.
type Planner struct {
	Stemcells StemcellLookup
}

// StemcellLookup resolves a stemcell name/version to the provider
// image cid; registry.Store satisfies it.
type StemcellLookup interface {
	Stemcells() ([]*registry.Stemcell, error)
}

func (p *Planner) stemcellCID(ref manifest.StemcellRef) (string, error) {
	cells, err := p.Stemcells.Stemcells()
	if err != nil {
		return "", err
	}
	for _, s := range cells {
		if s.Name == ref.Name && s.Version == ref.Version {
			return s.CID, nil
		}
	}
	return "", &director.Error{
		Type: director.Missing,
		Code: director.CodeInternal,
		Err:  fmt.Errorf("stemcell %s/%s has not been uploaded", ref.Name, ref.Version),
	}
}

type desiredInstance struct {
	id         director.InstanceID
	job        manifest.Job
	pool       manifest.ResourcePool
	digest     string
	diskSizeMB int
}

// Plan computes the action sequence that converges observed onto
// desired. A converged instance yields no actions; an index present
// only in desired yields a create; an index present only in observed
// yields a delete, never a rename.
func (p *Planner) Plan(desired *manifest.Manifest, observed *registry.StateSnapshot) (Plan, error) {
	plan := Plan{Deployment: desired.Name}

	// Desired set, in deterministic job/index order.
	var wants []desiredInstance
	for _, job := range desired.Jobs {
		pool, ok := desired.PoolNamed(job.ResourcePool)
		if !ok {
			return Plan{}, errors.Errorf("job %q references unknown resource pool %q", job.Name, job.ResourcePool)
		}
		for index := 0; index < job.Instances; index++ {
			wants = append(wants, desiredInstance{
				id:         director.MakeInstanceID(job.Name, index),
				job:        job,
				pool:       pool,
				digest:     desired.Digest(job),
				diskSizeMB: job.PersistentDisk,
			})
		}
	}

	have := map[director.InstanceID]*registry.Instance{}
	for _, inst := range observed.Instances {
		have[inst.ID()] = inst
	}

	// Existing placements stay reserved so new instances can't steal
	// an address in use.
	var inUse []allocate.Binding
	for _, inst := range observed.Instances {
		if inst.VMCID == "" {
			continue
		}
		if vm, ok := observed.VMs[inst.VMCID]; ok {
			inUse = append(inUse, allocate.Binding{Pool: vm.Pool, Network: vm.Network, IP: vm.IP})
		}
	}
	alloc, err := allocate.New(desired, inUse)
	if err != nil {
		return Plan{}, err
	}

	var updates []InstancePlan
	for _, want := range wants {
		inst, exists := have[want.id]
		switch {
		case !exists:
			ip, err := p.planCreate(desired, alloc, want, nil)
			if err != nil {
				return Plan{}, err
			}
			updates = append(updates, ip)

		case inst.VMCID == "":
			// detached or healed-away VM: bring it back on the
			// current spec, reusing any persistent disk
			ip, err := p.planCreate(desired, alloc, want, observed.ActiveDisk(want.id))
			if err != nil {
				return Plan{}, err
			}
			updates = append(updates, ip)

		case inst.SpecDigest != want.digest:
			ip, err := p.planReplace(desired, alloc, want, inst, observed)
			if err != nil {
				return Plan{}, err
			}
			updates = append(updates, ip)

		case diskNeedsMigration(observed, want):
			updates = append(updates, InstancePlan{
				Instance: want.id,
				Actions: []Action{{
					Type:       ActionMigrateDisk,
					Instance:   want.id,
					DiskCID:    observed.ActiveDisk(want.id).CID,
					DiskSizeMB: want.diskSizeMB,
				}},
			})

		default:
			// converged; no actions
		}
	}

	// Deletions of instances no longer desired happen last, after all
	// creations and updates for retained instances succeed.
	var deletions []InstancePlan
	var goneIDs []director.InstanceID
	wanted := map[director.InstanceID]bool{}
	for _, w := range wants {
		wanted[w.id] = true
	}
	for id := range have {
		if !wanted[id] {
			goneIDs = append(goneIDs, id)
		}
	}
	sort.Slice(goneIDs, func(i, j int) bool { return goneIDs[i].String() < goneIDs[j].String() })
	for _, id := range goneIDs {
		deletions = append(deletions, p.planRemove(id, have[id], observed))
	}

	plan.Batches = batch(updates, desired.Update)
	// no canary pass for deletions
	plan.Batches = append(plan.Batches, batch(deletions, manifest.UpdateConfig{MaxInFlight: desired.Update.MaxInFlight})...)
	return plan, nil
}

func diskNeedsMigration(observed *registry.StateSnapshot, want desiredInstance) bool {
	disk := observed.ActiveDisk(want.id)
	return disk != nil && want.diskSizeMB > 0 && disk.SizeMB != want.diskSizeMB
}

func (p *Planner) planCreate(m *manifest.Manifest, alloc *allocate.Allocator, want desiredInstance, existingDisk *registry.PersistentDisk) (InstancePlan, error) {
	stemcellCID, err := p.stemcellCID(want.pool.Stemcell)
	if err != nil {
		return InstancePlan{}, err
	}
	binding, err := alloc.Allocate(want.job.ResourcePool, want.job.Networks)
	if err != nil {
		return InstancePlan{}, coverAllocation(err)
	}
	actions := []Action{{
		Type:        ActionCreateVM,
		Instance:    want.id,
		StemcellCID: stemcellCID,
		CloudProps:  want.pool.CloudProperties,
		Binding:     binding,
	}}
	if existingDisk != nil {
		actions = append(actions, Action{
			Type:     ActionAttachDisk,
			Instance: want.id,
			DiskCID:  existingDisk.CID,
		})
	} else if want.diskSizeMB > 0 {
		actions = append(actions, Action{
			Type:       ActionAttachDisk,
			Instance:   want.id,
			DiskSizeMB: want.diskSizeMB,
		})
	}
	actions = append(actions,
		Action{Type: ActionUpdateJobState, Instance: want.id, TargetState: director.InstanceStarted, SpecDigest: want.digest},
		Action{Type: ActionUpdateDNS, Instance: want.id, DNSName: dnsName(m.Name, want.id), Binding: binding},
	)
	return InstancePlan{Instance: want.id, Actions: actions}, nil
}

// planReplace builds the rolling-update sequence for one instance:
// the replacement VM comes up and proves healthy before the old VM is
// torn down.
func (p *Planner) planReplace(m *manifest.Manifest, alloc *allocate.Allocator, want desiredInstance, inst *registry.Instance, observed *registry.StateSnapshot) (InstancePlan, error) {
	stemcellCID, err := p.stemcellCID(want.pool.Stemcell)
	if err != nil {
		return InstancePlan{}, err
	}
	binding, err := alloc.Allocate(want.job.ResourcePool, want.job.Networks)
	if err != nil {
		return InstancePlan{}, coverAllocation(err)
	}
	oldVM := inst.VMCID
	actions := []Action{{
		Type:        ActionCreateVM,
		Instance:    want.id,
		StemcellCID: stemcellCID,
		CloudProps:  want.pool.CloudProperties,
		Binding:     binding,
	}}
	if disk := observed.ActiveDisk(want.id); disk != nil {
		if want.diskSizeMB > 0 && disk.SizeMB != want.diskSizeMB {
			// resized disk: the replacement VM gets a fresh disk of
			// the new size; the old disk comes off the old VM inside
			// the migration
			actions = append(actions, Action{
				Type:       ActionMigrateDisk,
				Instance:   want.id,
				DiskCID:    disk.CID,
				DiskSizeMB: want.diskSizeMB,
				VMCID:      oldVM,
			})
		} else {
			// a volume can't be attached twice: it comes off the old
			// VM before the replacement picks it up
			actions = append(actions,
				Action{Type: ActionDetachDisk, Instance: want.id, DiskCID: disk.CID, VMCID: oldVM},
				Action{Type: ActionAttachDisk, Instance: want.id, DiskCID: disk.CID},
			)
		}
	} else if want.diskSizeMB > 0 {
		actions = append(actions, Action{
			Type:       ActionAttachDisk,
			Instance:   want.id,
			DiskSizeMB: want.diskSizeMB,
		})
	}
	actions = append(actions,
		Action{Type: ActionUpdateJobState, Instance: want.id, TargetState: director.InstanceStarted, SpecDigest: want.digest},
		Action{Type: ActionUpdateDNS, Instance: want.id, DNSName: dnsName(m.Name, want.id), Binding: binding},
		Action{Type: ActionDeleteVM, Instance: want.id, VMCID: oldVM},
	)
	return InstancePlan{Instance: want.id, Actions: actions}, nil
}

func (p *Planner) planRemove(id director.InstanceID, inst *registry.Instance, observed *registry.StateSnapshot) InstancePlan {
	var actions []Action
	if inst.VMCID != "" {
		actions = append(actions, Action{Type: ActionUpdateJobState, Instance: id, TargetState: director.InstanceStopped})
		if disk := observed.ActiveDisk(id); disk != nil {
			actions = append(actions, Action{Type: ActionDetachDisk, Instance: id, DiskCID: disk.CID})
		}
		actions = append(actions, Action{Type: ActionDeleteVM, Instance: id, VMCID: inst.VMCID})
	}
	return InstancePlan{Instance: id, Actions: actions, Remove: true}
}

// batch splits instance plans into the rolling order: canaries first,
// one per batch, then the rest bounded by max-in-flight.
func batch(plans []InstancePlan, cfg manifest.UpdateConfig) []Batch {
	if len(plans) == 0 {
		return nil
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	var batches []Batch
	canaries := cfg.Canaries
	if canaries > len(plans) {
		canaries = len(plans)
	}
	for i := 0; i < canaries; i++ {
		batches = append(batches, Batch{Plans: plans[i : i+1], MaxInFlight: 1})
	}
	rest := plans[canaries:]
	for len(rest) > 0 {
		n := maxInFlight
		if n > len(rest) {
			n = len(rest)
		}
		batches = append(batches, Batch{Plans: rest[:n], MaxInFlight: maxInFlight})
		rest = rest[n:]
	}
	return batches
}

func dnsName(deployment string, id director.InstanceID) string {
	job, index := id.Components()
	return fmt.Sprintf("%d.%s.%s.director.internal", index, job, deployment)
}

func coverAllocation(err error) error {
	switch err.(type) {
	case *allocate.CapacityExhaustedError:
		return &director.Error{Type: director.User, Code: director.CodeCapacityExhausted, Err: err}
	case *allocate.NetworkExhaustedError:
		return &director.Error{Type: director.User, Code: director.CodeNetworkExhausted, Err: err}
	default:
		return err
	}
}
