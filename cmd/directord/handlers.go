package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/artifact"
	"github.com/fleetworks/director/reconcile"
	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/release"
	"github.com/fleetworks/director/resurrect"
	"github.com/fleetworks/director/snapshot"
	"github.com/fleetworks/director/task"
)

type handlerDeps struct {
	store     registry.Store
	artifacts artifact.Store
	deployer  *reconcile.Deployer
	snapshots *snapshot.Manager
	ingestor  *release.Ingestor
	scanner   *resurrect.Scanner
	resolver  *resurrect.Resolver
	fixer     *resurrect.Fixer
}

// registerHandlers binds every task type to the component that
// executes it. Each handler writes progress to the task's output and
// returns an error only for a genuine task failure; partial results
// within a fan-out are reported in the output, per-item.
func registerHandlers(tasks *task.Manager, deps handlerDeps) {
	tasks.Register(task.TypeUpdateDeployment, func(ctx context.Context, t *task.Task) error {
		_, err := deps.deployer.Deploy(ctx, t.Payload, t.Interrupted, t.Output())
		return err
	})

	tasks.Register(task.TypeDeleteDeployment, func(ctx context.Context, t *task.Task) error {
		_, err := deps.deployer.Delete(ctx, t.Deployment, t.Interrupted, t.Output())
		return err
	})

	tasks.Register(task.TypeCreateRelease, deps.ingestor.HandleCreateRelease)
	tasks.Register(task.TypeUpdateStemcell, deps.ingestor.HandleUpdateStemcell)

	tasks.Register(task.TypeSnapshotDeployment, func(ctx context.Context, t *task.Task) error {
		var (
			results snapshot.Results
			err     error
		)
		if instance := t.Params["instance"]; instance != "" {
			results, err = snapshotInstance(ctx, deps.snapshots, t.Deployment, instance)
		} else {
			results, err = deps.snapshots.SnapshotDeployment(ctx, t.Deployment)
		}
		if err != nil {
			return err
		}
		reportSnapshotResults(t, results)
		if failed := results.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d disks failed to snapshot", failed, len(results))
		}
		return nil
	})

	tasks.Register(task.TypeDeleteSnapshot, func(ctx context.Context, t *task.Task) error {
		if cid := t.Params["snapshot"]; cid != "" {
			if err := deps.snapshots.Delete(ctx, t.Deployment, cid); err != nil {
				return err
			}
			fmt.Fprintf(t.Output(), "deleted snapshot %s\n", cid)
			return nil
		}
		results, err := deps.snapshots.DeleteAll(ctx, t.Deployment)
		if err != nil {
			return err
		}
		reportSnapshotResults(t, results)
		if failed := results.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d snapshots failed to delete", failed, len(results))
		}
		return nil
	})

	tasks.Register(task.TypeScan, func(ctx context.Context, t *task.Task) error {
		problems, err := deps.scanner.Scan(ctx, t.Deployment)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.Output(), "%d open problems\n", len(problems))
		for _, p := range problems {
			fmt.Fprintf(t.Output(), "  %d: %s %s\n", p.ID, p.Type, p.ResourceID)
		}
		return nil
	})

	tasks.Register(task.TypeScanAndFix, func(ctx context.Context, t *task.Task) error {
		problems, err := deps.scanner.Scan(ctx, t.Deployment)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.Output(), "%d open problems\n", len(problems))
		return deps.resolver.AutoResolve(ctx, t.Deployment, t.User, problems)
	})

	tasks.Register(task.TypeResolveProblem, deps.fixer.Handle)

	tasks.Register(task.TypeBackup, func(ctx context.Context, t *task.Task) error {
		image, err := registry.Dump(deps.store)
		if err != nil {
			return err
		}
		ref, err := storeBackup(ctx, deps.artifacts, image)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.Output(), "backup stored as %s (%d bytes)\n", ref, len(image))
		return nil
	})
}

func snapshotInstance(ctx context.Context, m *snapshot.Manager, deployment, instance string) (snapshot.Results, error) {
	id, err := director.ParseInstanceID(instance)
	if err != nil {
		return nil, err
	}
	job, index := id.Components()
	return m.SnapshotInstance(ctx, deployment, job, index)
}

// storeBackup round-trips through a temp file; the blobstore deals in
// local paths.
func storeBackup(ctx context.Context, artifacts artifact.Store, image []byte) (string, error) {
	tmp, err := ioutil.TempFile("", "director-backup")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(image); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return artifacts.Store(ctx, tmp.Name())
}

func reportSnapshotResults(t *task.Task, results snapshot.Results) {
	for _, res := range results {
		if res.Error != "" {
			fmt.Fprintf(t.Output(), "disk %s: FAILED: %s\n", res.DiskCID, res.Error)
		} else if res.SnapshotCID != "" {
			fmt.Fprintf(t.Output(), "disk %s: snapshot %s\n", res.DiskCID, res.SnapshotCID)
		} else {
			fmt.Fprintf(t.Output(), "disk %s: done\n", res.DiskCID)
		}
	}
}
