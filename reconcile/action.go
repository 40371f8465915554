package reconcile

import (
	"github.com/fleetworks/director"
	"github.com/fleetworks/director/allocate"
)

type ActionType string

const (
	ActionCreateVM       ActionType = "create_vm"
	ActionDeleteVM       ActionType = "delete_vm"
	ActionAttachDisk     ActionType = "attach_disk"
	ActionDetachDisk     ActionType = "detach_disk"
	ActionMigrateDisk    ActionType = "migrate_disk"
	ActionUpdateJobState ActionType = "update_job_state"
	ActionUpdateDNS      ActionType = "update_dns_record"
)

// Action is one infrastructure step for one instance. Only the fields
// its type needs are set.
type Action struct {
	Type     ActionType
	Instance director.InstanceID

	// create_vm
	StemcellCID string
	CloudProps  map[string]interface{}
	Binding     allocate.Binding

	// attach_disk: DiskCID names an existing disk to attach;
	// empty means provision a fresh one of DiskSizeMB first.
	// migrate_disk: DiskCID is the old disk, DiskSizeMB the new size.
	DiskCID    string
	DiskSizeMB int

	// delete_vm; for detach_disk and migrate_disk it names the VM
	// the old disk currently hangs off, when that differs from the
	// instance's current VM (a replacement in progress)
	VMCID string

	// update_job_state
	TargetState director.InstanceState
	SpecDigest  string

	// update_dns_record
	DNSName string
}

// InstancePlan is the ordered action sequence for one instance within
// a batch. Sequencing inside a plan is strict: a replacement's old VM
// is deleted only after the update_job_state that proves the new one
// healthy.
type InstancePlan struct {
	Instance director.InstanceID
	Actions  []Action
	// Remove marks a plan that ends the instance's life; its row is
	// dropped after the plan completes.
	Remove bool
}

// Batch is a set of instance plans allowed to run concurrently,
// bounded by MaxInFlight.
type Batch struct {
	Plans       []InstancePlan
	MaxInFlight int
}

// Plan is the full ordered output of planning one operation. Batches
// run strictly in order; deletion batches come last so a failed
// update never leaves fewer healthy instances than before.
type Plan struct {
	Deployment string
	Batches    []Batch
}

func (p Plan) Empty() bool {
	for _, b := range p.Batches {
		if len(b.Plans) > 0 {
			return false
		}
	}
	return true
}

func (p Plan) InstanceCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Plans)
	}
	return n
}
