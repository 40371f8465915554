package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/agent"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/guid"
	"github.com/fleetworks/director/registry"
)

// ErrInterrupted reports a cooperative cancellation honoured at a
// batch boundary. Actions already dispatched ran to completion; it is
// never an asynchronous interruption of in-flight provider calls.
var ErrInterrupted = errors.New("execution interrupted at batch boundary")

// Interrupt is polled between batches. Returning true stops the
// execution; remaining instances are reported as skipped.
type Interrupt func() bool

func NeverInterrupt() bool { return false }

// Executor runs a Plan against the infrastructure. Completed actions
// are recorded in the store as they happen, so a failed run leaves an
// accurate observed state for the next reconciliation to resume from;
// nothing is rolled back.
type Executor struct {
	CPI    cpi.CPI
	Agents agent.Client
	Store  registry.Store
	DNS    DNS
	// CallTimeout bounds every CPI call. On expiry the call counts as
	// failed, without retry.
	CallTimeout time.Duration
	Logger      log.Logger
}

const defaultCallTimeout = 10 * time.Minute

func (e *Executor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Execute runs batches in order. Within a batch, instance plans run
// concurrently up to the batch's max-in-flight. Any failure halts
// subsequent batches; the Result names what succeeded, what failed
// and what was never attempted.
func (e *Executor) Execute(ctx context.Context, plan Plan, interrupt Interrupt) (Result, error) {
	result := Result{}
	var resultMx sync.Mutex

	skipFrom := -1
	var skipReason string
	for i, b := range plan.Batches {
		if interrupt() {
			skipFrom, skipReason = i, "operation cancelled"
			break
		}

		limit := b.MaxInFlight
		if limit <= 0 || limit > len(b.Plans) {
			limit = len(b.Plans)
		}
		g := &errgroup.Group{}
		g.SetLimit(limit)
		for _, ip := range b.Plans {
			ip := ip
			g.Go(func() error {
				failedAction, err := e.runInstance(ctx, plan.Deployment, ip)
				resultMx.Lock()
				defer resultMx.Unlock()
				if err != nil {
					result[ip.Instance] = InstanceResult{Status: StatusFailed, Action: failedAction, Error: err.Error()}
					return err
				}
				result[ip.Instance] = InstanceResult{Status: StatusSuccess}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			skipFrom, skipReason = i+1, "earlier batch failed"
			break
		}
	}

	if skipFrom >= 0 {
		for _, b := range plan.Batches[skipFrom:] {
			for _, ip := range b.Plans {
				if _, done := result[ip.Instance]; !done {
					result[ip.Instance] = InstanceResult{Status: StatusSkipped, Error: skipReason}
				}
			}
		}
		if skipReason == "operation cancelled" {
			return result, ErrInterrupted
		}
		return result, errors.New(result.Error())
	}
	return result, nil
}

// runInstance executes one instance's actions strictly in order,
// stopping at the first failure.
func (e *Executor) runInstance(ctx context.Context, deployment string, ip InstancePlan) (ActionType, error) {
	logger := log.With(e.Logger, "deployment", deployment, "instance", ip.Instance.String())
	for _, a := range ip.Actions {
		start := time.Now()
		err := e.runAction(ctx, deployment, a)
		actionDuration.With(
			"action", string(a.Type),
			"success", fmt.Sprint(err == nil),
		).Observe(time.Since(start).Seconds())
		logger.Log("action", a.Type, "took", time.Since(start), "err", err)
		if err != nil {
			return a.Type, errors.Wrapf(err, "%s", a.Type)
		}
	}
	if ip.Remove {
		job, index := ip.Instance.Components()
		if err := e.Store.DeleteInstance(deployment, job, index); err != nil {
			return "", errors.Wrap(err, "removing instance record")
		}
	}
	return "", nil
}

func (e *Executor) runAction(ctx context.Context, deployment string, a Action) error {
	switch a.Type {
	case ActionCreateVM:
		return e.createVM(ctx, deployment, a)
	case ActionDeleteVM:
		return e.deleteVM(ctx, deployment, a)
	case ActionAttachDisk:
		return e.attachDisk(ctx, deployment, a)
	case ActionDetachDisk:
		return e.detachDisk(ctx, deployment, a)
	case ActionMigrateDisk:
		return e.migrateDisk(ctx, deployment, a)
	case ActionUpdateJobState:
		return e.updateJobState(ctx, deployment, a)
	case ActionUpdateDNS:
		return e.updateDNS(ctx, a)
	default:
		return errors.Errorf("unknown action type %q", a.Type)
	}
}

func (e *Executor) instance(deployment string, id director.InstanceID) (*registry.Instance, error) {
	job, index := id.Components()
	inst, err := e.Store.Instance(deployment, job, index)
	if errors.Cause(err) == registry.ErrNotFound {
		return &registry.Instance{
			Deployment: deployment,
			Job:        job,
			Index:      index,
			State:      director.InstanceStarted,
		}, nil
	}
	return inst, err
}

func (e *Executor) createVM(ctx context.Context, deployment string, a Action) error {
	inst, err := e.instance(deployment, a.Instance)
	if err != nil {
		return err
	}
	agentID := guid.New()
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	cid, err := e.CPI.CreateVM(cctx, agentID, a.StemcellCID, a.CloudProps, cpi.NetworkSettings{
		Name:    a.Binding.Network,
		IP:      a.Binding.IP,
		Gateway: "", // agent derives it from the network definition
	})
	if err != nil {
		return err
	}
	if err := e.Store.SaveVM(&registry.VM{
		CID:        cid,
		AgentID:    agentID,
		Deployment: deployment,
		Pool:       a.Binding.Pool,
		Network:    a.Binding.Network,
		IP:         a.Binding.IP,
	}); err != nil {
		return err
	}
	inst.VMCID = cid
	return e.Store.SaveInstance(inst)
}

func (e *Executor) deleteVM(ctx context.Context, deployment string, a Action) error {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.CPI.DeleteVM(cctx, a.VMCID); err != nil && errors.Cause(err) != cpi.ErrVMNotFound {
		return err
	}
	if err := e.Store.DeleteVM(a.VMCID); err != nil && errors.Cause(err) != registry.ErrNotFound {
		return err
	}
	inst, err := e.instance(deployment, a.Instance)
	if err != nil {
		return err
	}
	if inst.VMCID == a.VMCID {
		inst.VMCID = ""
		return e.Store.SaveInstance(inst)
	}
	return nil
}

func (e *Executor) attachDisk(ctx context.Context, deployment string, a Action) error {
	inst, err := e.instance(deployment, a.Instance)
	if err != nil {
		return err
	}
	diskCID := a.DiskCID
	if diskCID == "" {
		cctx, cancel := e.callCtx(ctx)
		diskCID, err = e.CPI.CreateDisk(cctx, a.DiskSizeMB, a.CloudProps)
		cancel()
		if err != nil {
			return err
		}
		if err := e.Store.SaveDisk(&registry.PersistentDisk{
			CID:        diskCID,
			Deployment: deployment,
			Instance:   a.Instance,
			SizeMB:     a.DiskSizeMB,
			Active:     true,
		}); err != nil {
			return err
		}
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.CPI.AttachDisk(cctx, inst.VMCID, diskCID); err != nil {
		return err
	}
	// re-attaching a disk that a preceding detach deactivated makes
	// it the instance's active disk again
	disk, err := e.Store.Disk(diskCID)
	if err != nil {
		return err
	}
	if !disk.Active {
		disk.Active = true
		return e.Store.SaveDisk(disk)
	}
	return nil
}

func (e *Executor) detachDisk(ctx context.Context, deployment string, a Action) error {
	vmCID := a.VMCID
	if vmCID == "" {
		inst, err := e.instance(deployment, a.Instance)
		if err != nil {
			return err
		}
		vmCID = inst.VMCID
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.CPI.DetachDisk(cctx, vmCID, a.DiskCID); err != nil {
		return err
	}
	// the disk outlives the VM as an orphan until someone decides
	// otherwise
	disk, err := e.Store.Disk(a.DiskCID)
	if err != nil {
		return err
	}
	disk.Active = false
	return e.Store.SaveDisk(disk)
}

// migrateDisk moves an instance onto a fresh disk of the desired
// size. The instance transiently references both disks; at most one
// is ever active.
func (e *Executor) migrateDisk(ctx context.Context, deployment string, a Action) error {
	inst, err := e.instance(deployment, a.Instance)
	if err != nil {
		return err
	}
	oldDisk, err := e.Store.Disk(a.DiskCID)
	if err != nil {
		return err
	}

	cctx, cancel := e.callCtx(ctx)
	newCID, err := e.CPI.CreateDisk(cctx, a.DiskSizeMB, nil)
	cancel()
	if err != nil {
		return err
	}
	if err := e.Store.SaveDisk(&registry.PersistentDisk{
		CID:        newCID,
		Deployment: deployment,
		Instance:   a.Instance,
		SizeMB:     a.DiskSizeMB,
		Active:     false,
	}); err != nil {
		return err
	}

	cctx, cancel = e.callCtx(ctx)
	err = e.CPI.AttachDisk(cctx, inst.VMCID, newCID)
	cancel()
	if err != nil {
		return err
	}

	// flip active: old comes off first so the one-active-disk
	// invariant holds throughout
	oldDisk.Active = false
	if err := e.Store.SaveDisk(oldDisk); err != nil {
		return err
	}
	newDisk, err := e.Store.Disk(newCID)
	if err != nil {
		return err
	}
	newDisk.Active = true
	if err := e.Store.SaveDisk(newDisk); err != nil {
		return err
	}

	// the old disk may hang off a VM being replaced rather than the
	// instance's current one
	oldVM := a.VMCID
	if oldVM == "" {
		oldVM = inst.VMCID
	}
	cctx, cancel = e.callCtx(ctx)
	defer cancel()
	if err := e.CPI.DetachDisk(cctx, oldVM, oldDisk.CID); err != nil {
		return err
	}
	cctx2, cancel2 := e.callCtx(ctx)
	defer cancel2()
	if err := e.CPI.DeleteDisk(cctx2, oldDisk.CID); err != nil {
		return err
	}
	return e.Store.DeleteDisk(oldDisk.CID)
}

func (e *Executor) updateJobState(ctx context.Context, deployment string, a Action) error {
	inst, err := e.instance(deployment, a.Instance)
	if err != nil {
		return err
	}
	vm, err := e.Store.VM(inst.VMCID)
	if err != nil {
		return err
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.Agents.Apply(cctx, vm.AgentID, string(a.TargetState)); err != nil {
		return err
	}
	inst.State = a.TargetState
	if a.SpecDigest != "" {
		inst.SpecDigest = a.SpecDigest
	}
	return e.Store.SaveInstance(inst)
}

func (e *Executor) updateDNS(ctx context.Context, a Action) error {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.DNS.SetRecord(cctx, a.DNSName, a.Binding.IP)
}
