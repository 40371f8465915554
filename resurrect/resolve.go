package resurrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/reconcile"
	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/task"
)

type Resolution string

const (
	ResolveRecreateVM   Resolution = "recreate_vm"
	ResolveReattachDisk Resolution = "reattach_disk"
	ResolveIgnore       Resolution = "ignore"
)

// DefaultResolutions is the policy table consulted by scan_and_fix.
// It is configuration, not mechanism: operators can replace it at
// construction without touching the state machine.
func DefaultResolutions() map[registry.ProblemType]Resolution {
	return map[registry.ProblemType]Resolution{
		registry.ProblemMissingVM:         ResolveRecreateVM,
		registry.ProblemUnresponsiveAgent: ResolveRecreateVM,
		registry.ProblemDetachedDisk:      ResolveReattachDisk,
		registry.ProblemOutOfDisk:         ResolveIgnore,
	}
}

// Submitter is how resolutions become work: each accepted resolution
// is enqueued as its own task, and the problem is marked resolved by
// that task, not before. task.Manager satisfies this.
type Submitter interface {
	Submit(tp task.Type, description, user, deployment string, params map[string]string, payload []byte) (*task.Task, error)
}

// Resolver applies explicit or automatic resolutions to open
// problems.
type Resolver struct {
	Store    registry.Store
	Submit   Submitter
	Defaults map[registry.ProblemType]Resolution
	Logger   log.Logger
}

// Apply handles `put solutions`: an operator-specified mapping of
// problem id to resolution. Explicit resolutions apply even to
// instances whose resurrection is paused. A problem belonging to a
// different deployment than named is rejected outright.
func (r *Resolver) Apply(ctx context.Context, deployment, user string, solutions map[int64]Resolution) error {
	for id, res := range solutions {
		problem, err := r.Store.Problem(id)
		if err != nil {
			return err
		}
		if problem.Deployment != deployment {
			return &director.Error{
				Type: director.User,
				Code: director.CodeCrossDeployment,
				Err:  fmt.Errorf("problem %d belongs to deployment %q, not %q", id, problem.Deployment, deployment),
			}
		}
		if problem.State != registry.ProblemOpen {
			continue
		}
		if err := r.dispatch(problem, res, user); err != nil {
			return err
		}
	}
	return nil
}

// AutoResolve handles scan_and_fix: the default resolution per
// problem type, with no operator input. Instances with resurrection
// paused are skipped; that is the maintenance-window escape hatch.
func (r *Resolver) AutoResolve(ctx context.Context, deployment, user string, problems []*registry.Problem) error {
	defaults := r.Defaults
	if defaults == nil {
		defaults = DefaultResolutions()
	}
	for _, problem := range problems {
		if problem.State != registry.ProblemOpen {
			continue
		}
		if paused, err := r.resurrectionPaused(problem); err != nil {
			return err
		} else if paused {
			r.Logger.Log("problem", problem.ID, "skipped", "resurrection paused")
			continue
		}
		res, ok := defaults[problem.Type]
		if !ok || res == ResolveIgnore {
			continue
		}
		if err := r.dispatch(problem, res, user); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resurrectionPaused(problem *registry.Problem) (bool, error) {
	instID := problem.ResourceID
	if v, ok := problem.Data["instance"]; ok {
		instID = v
	}
	id, err := director.ParseInstanceID(instID)
	if err != nil {
		// problem is not instance-scoped; nothing to pause
		return false, nil
	}
	job, index := id.Components()
	inst, err := r.Store.Instance(problem.Deployment, job, index)
	if errors.Cause(err) == registry.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inst.ResurrectionPaused, nil
}

func (r *Resolver) dispatch(problem *registry.Problem, res Resolution, user string) error {
	if res == ResolveIgnore {
		problem.State = registry.ProblemResolved
		problem.Resolution = string(res)
		return r.Store.UpdateProblem(problem)
	}
	problem.Resolution = string(res)
	if err := r.Store.UpdateProblem(problem); err != nil {
		return err
	}
	_, err := r.Submit.Submit(
		task.TypeResolveProblem,
		fmt.Sprintf("apply %s to problem %d (%s %s)", res, problem.ID, problem.Type, problem.ResourceID),
		user,
		problem.Deployment,
		map[string]string{"problem_id": strconv.FormatInt(problem.ID, 10)},
		nil,
	)
	return errors.Wrapf(err, "enqueueing fix for problem %d", problem.ID)
}

// ParseSolutions decodes an apply_resolutions payload: a JSON object
// of problem id to resolution name.
func ParseSolutions(payload []byte) (map[int64]Resolution, error) {
	var raw map[string]string
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing resolutions")
	}
	solutions := make(map[int64]Resolution, len(raw))
	for idStr, res := range raw {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing problem id %q", idStr)
		}
		solutions[id] = Resolution(res)
	}
	return solutions, nil
}

// Fixer is the handler behind resolve_problem tasks: it performs the
// reconciler actions a resolution implies, and marks the problem
// resolved only once they have succeeded.
type Fixer struct {
	Store    registry.Store
	Deployer *reconcile.Deployer
	CPI      cpi.CPI
	Logger   log.Logger
}

func (f *Fixer) Handle(ctx context.Context, t *task.Task) error {
	id, err := strconv.ParseInt(t.Params["problem_id"], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parsing problem_id")
	}
	problem, err := f.Store.Problem(id)
	if err != nil {
		return err
	}
	if problem.State != registry.ProblemOpen {
		fmt.Fprintf(t.Output(), "problem %d already %s\n", id, problem.State)
		return nil
	}

	switch Resolution(problem.Resolution) {
	case ResolveRecreateVM:
		err = f.recreateVM(ctx, t, problem)
	case ResolveReattachDisk:
		err = f.reattachDisk(ctx, t, problem)
	default:
		err = errors.Errorf("unknown resolution %q", problem.Resolution)
	}
	if err != nil {
		return err
	}

	problem.State = registry.ProblemResolved
	return f.Store.UpdateProblem(problem)
}

// recreateVM drops the dead VM's record, then lets a re-reconcile
// against the stored manifest bring the instance back; healing is
// just convergence from a worse starting point.
func (f *Fixer) recreateVM(ctx context.Context, t *task.Task, problem *registry.Problem) error {
	instID, err := director.ParseInstanceID(problem.ResourceID)
	if err != nil {
		return errors.Wrap(err, "parsing problem resource")
	}
	job, index := instID.Components()
	inst, err := f.Store.Instance(problem.Deployment, job, index)
	if err != nil {
		return err
	}
	if inst.VMCID != "" {
		// best effort: the VM may be long gone from the provider
		cctx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := f.CPI.DeleteVM(cctx, inst.VMCID); err != nil && errors.Cause(err) != cpi.ErrVMNotFound {
			f.Logger.Log("during", "deleting dead vm", "vm", inst.VMCID, "err", err)
		}
		cancel()
		if err := f.Store.DeleteVM(inst.VMCID); err != nil && errors.Cause(err) != registry.ErrNotFound {
			return err
		}
		inst.VMCID = ""
		if err := f.Store.SaveInstance(inst); err != nil {
			return err
		}
	}

	dep, err := f.Store.Deployment(problem.Deployment)
	if err != nil {
		return err
	}
	if dep.Manifest == "" {
		return errors.Errorf("deployment %q has no applied manifest to heal against", problem.Deployment)
	}
	_, err = f.Deployer.Deploy(ctx, []byte(dep.Manifest), t.Interrupted, t.Output())
	return err
}

func (f *Fixer) reattachDisk(ctx context.Context, t *task.Task, problem *registry.Problem) error {
	disk, err := f.Store.Disk(problem.ResourceID)
	if err != nil {
		return err
	}
	job, index := disk.Instance.Components()
	inst, err := f.Store.Instance(disk.Deployment, job, index)
	if err != nil {
		return err
	}
	if inst.VMCID == "" {
		return errors.Errorf("instance %s has no VM to reattach disk %s to", disk.Instance, disk.CID)
	}
	cctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := f.CPI.AttachDisk(cctx, inst.VMCID, disk.CID); err != nil {
		return err
	}
	fmt.Fprintf(t.Output(), "reattached disk %s to %s\n", disk.CID, disk.Instance)
	return nil
}
