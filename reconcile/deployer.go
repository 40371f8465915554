package reconcile

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fleetworks/director/manifest"
	"github.com/fleetworks/director/registry"
)

// Deployer is the top half of a deploy task: parse the manifest, diff
// it against observed state, converge, and -- only on full success --
// replace the deployment's stored manifest.
type Deployer struct {
	Store    registry.Store
	Planner  *Planner
	Executor *Executor
	Logger   log.Logger
}

func NewDeployer(store registry.Store, exec *Executor, logger log.Logger) *Deployer {
	return &Deployer{
		Store:    store,
		Planner:  &Planner{Stemcells: store},
		Executor: exec,
		Logger:   logger,
	}
}

// Deploy converges one deployment onto the given manifest. The
// returned Result names every instance the plan touched; err is
// non-nil if any of them failed or the run was interrupted.
func (d *Deployer) Deploy(ctx context.Context, def []byte, interrupt Interrupt, out io.Writer) (Result, error) {
	m, err := manifest.Load(def)
	if err != nil {
		return nil, err
	}

	dep, err := d.Store.Deployment(m.Name)
	if errors.Cause(err) == registry.ErrNotFound {
		dep = &registry.Deployment{Name: m.Name, Provider: m.Provider}
		if err := d.Store.SaveDeployment(dep); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if dep.Provider != "" && m.Provider != "" && dep.Provider != m.Provider {
		return nil, errors.Errorf("deployment %q is bound to provider %q for its lifetime", m.Name, dep.Provider)
	}

	observed, err := registry.TakeSnapshot(d.Store, m.Name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	plan, err := d.Planner.Plan(m, observed)
	planDuration.With("deployment", m.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		fmt.Fprintf(out, "deployment %s already converged; nothing to do\n", m.Name)
		return Result{}, d.commitManifest(dep, m, def)
	}

	fmt.Fprintf(out, "converging %s: %d instances across %d batches\n", m.Name, plan.InstanceCount(), len(plan.Batches))
	result, err := d.Executor.Execute(ctx, plan, interrupt)
	for _, id := range result.Succeeded() {
		fmt.Fprintf(out, "  done: %s\n", id)
	}
	for id, res := range result {
		if res.Status == StatusFailed {
			fmt.Fprintf(out, "  FAILED: %s: %s: %s\n", id, res.Action, res.Error)
		}
	}
	for _, id := range result.Skipped() {
		fmt.Fprintf(out, "  skipped: %s\n", id)
	}
	if err != nil {
		return result, err
	}
	return result, d.commitManifest(dep, m, def)
}

// Delete tears the whole deployment down: every instance, then the
// record itself.
func (d *Deployer) Delete(ctx context.Context, name string, interrupt Interrupt, out io.Writer) (Result, error) {
	empty := &manifest.Manifest{Name: name, Update: manifest.UpdateConfig{MaxInFlight: 1}}
	observed, err := registry.TakeSnapshot(d.Store, name)
	if err != nil {
		return nil, err
	}
	plan, err := d.Planner.Plan(empty, observed)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "deleting deployment %s: %d instances\n", name, plan.InstanceCount())
	result, err := d.Executor.Execute(ctx, plan, interrupt)
	if err != nil {
		return result, err
	}
	return result, d.Store.DeleteDeployment(name)
}

// commitManifest is the atomic desired-state switch: the stored
// manifest only ever reflects a fully applied document.
func (d *Deployer) commitManifest(dep *registry.Deployment, m *manifest.Manifest, def []byte) error {
	dep.Manifest = string(def)
	if dep.Provider == "" {
		dep.Provider = m.Provider
	}
	dep.Releases = dep.Releases[:0]
	for _, ref := range m.Releases {
		dep.Releases = append(dep.Releases, registry.ReleaseVersionRef{
			Name:             ref.Name,
			Version:          ref.Version,
			CurrentlyEmitted: true,
		})
	}
	if len(m.Stemcells) > 0 {
		dep.Stemcell = registry.StemcellRef{Name: m.Stemcells[0].Name, Version: m.Stemcells[0].Version}
	}
	return d.Store.SaveDeployment(dep)
}
