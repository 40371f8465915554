package resurrect

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fleetworks/director/agent"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/registry"
)

// Scanner inspects a deployment's fleet for anomalies and opens a
// DeploymentProblem for each one not already open. It works from a
// read snapshot and mutates nothing but the problem table, so it is
// safe to run alongside an in-flight reconciliation; fixes happen in
// spawned tasks that take the deployment lock like anyone else.
type Scanner struct {
	Store       registry.Store
	CPI         cpi.CPI
	Agents      agent.Client
	Logger      log.Logger
	CallTimeout time.Duration
}

const defaultCallTimeout = 30 * time.Second

func (s *Scanner) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Scan detects anomalies in one deployment and records each new one
// as an open problem. It returns the problems now open, including
// pre-existing ones.
func (s *Scanner) Scan(ctx context.Context, deployment string) ([]*registry.Problem, error) {
	snap, err := registry.TakeSnapshot(s.Store, deployment)
	if err != nil {
		return nil, err
	}
	open, err := s.Store.ProblemsFor(deployment, registry.ProblemOpen)
	if err != nil {
		return nil, err
	}
	alreadyOpen := map[string]bool{}
	for _, p := range open {
		alreadyOpen[string(p.Type)+"/"+p.ResourceID] = true
	}

	report := func(tp registry.ProblemType, resourceID string, data map[string]string) {
		if alreadyOpen[string(tp)+"/"+resourceID] {
			return
		}
		p := &registry.Problem{
			Deployment: deployment,
			ResourceID: resourceID,
			Type:       tp,
			State:      registry.ProblemOpen,
			Data:       data,
			CreatedAt:  time.Now().UTC(),
		}
		id, err := s.Store.CreateProblem(p)
		if err != nil {
			s.Logger.Log("during", "recording problem", "resource", resourceID, "err", err)
			return
		}
		p.ID = id
		open = append(open, p)
		problemsDetected.With("deployment", deployment).Add(1)
		s.Logger.Log("problem", tp, "resource", resourceID)
	}

	for _, inst := range snap.Instances {
		instID := inst.ID().String()

		if inst.VMCID == "" {
			report(registry.ProblemMissingVM, instID, nil)
			continue
		}
		vm, ok := snap.VMs[inst.VMCID]
		if !ok {
			report(registry.ProblemMissingVM, instID, map[string]string{"vm_cid": inst.VMCID})
			continue
		}

		// is the VM still in the provider's inventory?
		cctx, cancel := s.callCtx(ctx)
		_, err := s.CPI.FindByInventoryPath(cctx, []string{deployment, vm.CID})
		cancel()
		if errors.Cause(err) == cpi.ErrVMNotFound {
			report(registry.ProblemMissingVM, instID, map[string]string{"vm_cid": vm.CID})
			continue
		}

		// is the agent heartbeating?
		cctx, cancel = s.callCtx(ctx)
		err = s.Agents.Ping(cctx, vm.AgentID)
		cancel()
		if err != nil {
			report(registry.ProblemUnresponsiveAgent, instID, map[string]string{"agent_id": vm.AgentID})
			continue
		}

		// does the agent see the active disk it should?
		if disk := snap.ActiveDisk(inst.ID()); disk != nil {
			cctx, cancel = s.callCtx(ctx)
			mounted, err := s.Agents.ListDisks(cctx, vm.AgentID)
			cancel()
			if err == nil && !contains(mounted, disk.CID) {
				report(registry.ProblemDetachedDisk, disk.CID, map[string]string{"instance": instID})
			}
		}
	}
	return open, nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
