package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/registry"
)

// Manager coordinates per-disk snapshot creation and deletion across
// a deployment's fleet. Fan-out is best effort: one disk failing is
// recorded but does not stop the rest.
type Manager struct {
	Store  registry.Store
	CPI    cpi.CPI
	Logger log.Logger
	// CallTimeout bounds every CPI call, as in the reconciler.
	CallTimeout time.Duration
}

const defaultCallTimeout = 10 * time.Minute

// DiskResult is one disk's outcome within a fan-out request.
type DiskResult struct {
	DiskCID     string `json:"disk_cid"`
	Instance    string `json:"instance"`
	SnapshotCID string `json:"snapshot_cid,omitempty"`
	Error       string `json:"error,omitempty"`
}

type Results []DiskResult

func (rs Results) Failed() int {
	n := 0
	for _, r := range rs {
		if r.Error != "" {
			n++
		}
	}
	return n
}

func (m *Manager) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// SnapshotDeployment snapshots every active persistent disk of every
// instance in the deployment, disk by disk.
func (m *Manager) SnapshotDeployment(ctx context.Context, deployment string) (Results, error) {
	if _, err := m.Store.Deployment(deployment); err != nil {
		if errors.Cause(err) == registry.ErrNotFound {
			return nil, director.UnknownDeployment(deployment)
		}
		return nil, err
	}
	disks, err := m.Store.DisksFor(deployment)
	if err != nil {
		return nil, err
	}
	var results Results
	for _, disk := range disks {
		if !disk.Active {
			continue
		}
		results = append(results, m.snapshotDisk(ctx, disk))
	}
	return results, nil
}

// SnapshotInstance snapshots the active disks of one instance.
func (m *Manager) SnapshotInstance(ctx context.Context, deployment, job string, index int) (Results, error) {
	inst, err := m.Store.Instance(deployment, job, index)
	if err != nil {
		if errors.Cause(err) == registry.ErrNotFound {
			return nil, &director.Error{
				Type: director.Missing,
				Code: director.CodeInvalidInstance,
				Err:  fmt.Errorf("instance %s/%s/%d not found", deployment, job, index),
			}
		}
		return nil, err
	}
	disks, err := m.Store.DisksFor(deployment)
	if err != nil {
		return nil, err
	}
	var results Results
	for _, disk := range disks {
		if disk.Active && disk.Instance == inst.ID() {
			results = append(results, m.snapshotDisk(ctx, disk))
		}
	}
	return results, nil
}

func (m *Manager) snapshotDisk(ctx context.Context, disk *registry.PersistentDisk) DiskResult {
	res := DiskResult{DiskCID: disk.CID, Instance: disk.Instance.String()}
	meta := map[string]string{
		"deployment": disk.Deployment,
		"instance":   disk.Instance.String(),
	}
	cctx, cancel := m.callCtx(ctx)
	defer cancel()
	cid, err := m.CPI.CreateSnapshot(cctx, disk.CID, meta)
	if err != nil {
		m.Logger.Log("disk", disk.CID, "err", err)
		res.Error = err.Error()
		return res
	}
	if err := m.Store.SaveSnapshot(&registry.Snapshot{
		CID:       cid,
		DiskCID:   disk.CID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		res.Error = err.Error()
		return res
	}
	res.SnapshotCID = cid
	return res
}

// VerifyOwnership checks that the snapshot's disk belongs to the
// named deployment, so callers can refuse a cross-deployment delete
// before doing any work.
func VerifyOwnership(store registry.Store, deployment, snapshotCID string) error {
	snap, err := store.Snapshot(snapshotCID)
	if err != nil {
		if errors.Cause(err) == registry.ErrNotFound {
			return &director.Error{
				Type: director.Missing,
				Code: director.CodeInternal,
				Err:  fmt.Errorf("snapshot %s not found", snapshotCID),
			}
		}
		return err
	}
	disk, err := store.Disk(snap.DiskCID)
	if err != nil {
		return err
	}
	if disk.Deployment != deployment {
		return &director.Error{
			Type: director.User,
			Code: director.CodeDeploymentMismatch,
			Err:  fmt.Errorf("snapshot %s belongs to deployment %q, not %q", snapshotCID, disk.Deployment, deployment),
		}
	}
	return nil
}

// Delete removes one snapshot, verifying it belongs to the named
// deployment. A mismatch is a refusal, never a silent delete.
func (m *Manager) Delete(ctx context.Context, deployment, snapshotCID string) error {
	if err := VerifyOwnership(m.Store, deployment, snapshotCID); err != nil {
		return err
	}
	cctx, cancel := m.callCtx(ctx)
	defer cancel()
	if err := m.CPI.DeleteSnapshot(cctx, snapshotCID); err != nil && errors.Cause(err) != cpi.ErrSnapshotNotFound {
		return err
	}
	return m.Store.DeleteSnapshot(snapshotCID)
}

// DeleteAll removes every snapshot of every disk in the deployment,
// best effort.
func (m *Manager) DeleteAll(ctx context.Context, deployment string) (Results, error) {
	disks, err := m.Store.DisksFor(deployment)
	if err != nil {
		return nil, err
	}
	var results Results
	for _, disk := range disks {
		snaps, err := m.Store.SnapshotsForDisk(disk.CID)
		if err != nil {
			return results, err
		}
		for _, snap := range snaps {
			res := DiskResult{DiskCID: disk.CID, Instance: disk.Instance.String(), SnapshotCID: snap.CID}
			if err := m.Delete(ctx, deployment, snap.CID); err != nil {
				res.Error = err.Error()
			}
			results = append(results, res)
		}
	}
	return results, nil
}
