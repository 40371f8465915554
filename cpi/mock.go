package cpi

import (
	"context"
)

// Mock satisfies CPI with per-call funcs, for wiring into tests.
// Calls whose funcs are left nil panic, so a test exercises exactly
// the capabilities it declares.
type Mock struct {
	CreateVMFunc            func(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks NetworkSettings) (string, error)
	DeleteVMFunc            func(ctx context.Context, vmCID string) error
	CreateDiskFunc          func(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (string, error)
	DeleteDiskFunc          func(ctx context.Context, diskCID string) error
	AttachDiskFunc          func(ctx context.Context, vmCID, diskCID string) error
	DetachDiskFunc          func(ctx context.Context, vmCID, diskCID string) error
	CreateSnapshotFunc      func(ctx context.Context, diskCID string, metadata map[string]string) (string, error)
	DeleteSnapshotFunc      func(ctx context.Context, snapshotCID string) error
	FindByInventoryPathFunc func(ctx context.Context, path []string) (string, error)
	CurrentVMIDFunc         func(ctx context.Context) (string, error)
}

var _ CPI = &Mock{}

func (m *Mock) CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks NetworkSettings) (string, error) {
	return m.CreateVMFunc(ctx, agentID, stemcellCID, cloudProps, networks)
}

func (m *Mock) DeleteVM(ctx context.Context, vmCID string) error {
	return m.DeleteVMFunc(ctx, vmCID)
}

func (m *Mock) CreateDisk(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (string, error) {
	return m.CreateDiskFunc(ctx, sizeMB, cloudProps)
}

func (m *Mock) DeleteDisk(ctx context.Context, diskCID string) error {
	return m.DeleteDiskFunc(ctx, diskCID)
}

func (m *Mock) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	return m.AttachDiskFunc(ctx, vmCID, diskCID)
}

func (m *Mock) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	return m.DetachDiskFunc(ctx, vmCID, diskCID)
}

func (m *Mock) CreateSnapshot(ctx context.Context, diskCID string, metadata map[string]string) (string, error) {
	return m.CreateSnapshotFunc(ctx, diskCID, metadata)
}

func (m *Mock) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	return m.DeleteSnapshotFunc(ctx, snapshotCID)
}

func (m *Mock) FindByInventoryPath(ctx context.Context, path []string) (string, error) {
	return m.FindByInventoryPathFunc(ctx, path)
}

func (m *Mock) CurrentVMID(ctx context.Context) (string, error) {
	return m.CurrentVMIDFunc(ctx)
}
