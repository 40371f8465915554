package cpi

import (
	"context"

	"github.com/pkg/errors"
)

// The things we can ask of an infrastructure provider. One
// implementation exists per provider kind; the reconciler and the
// snapshot manager only ever see opaque cid strings, never
// provider-specific identifiers.
//
// Every call takes a context carrying the caller's deadline. A call
// that times out is a failed call -- it is not retried here, and the
// failure surfaces in the owning plan's report.
type CPI interface {
	CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks NetworkSettings) (vmCID string, err error)
	DeleteVM(ctx context.Context, vmCID string) error
	CreateDisk(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (diskCID string, err error)
	DeleteDisk(ctx context.Context, diskCID string) error
	AttachDisk(ctx context.Context, vmCID, diskCID string) error
	DetachDisk(ctx context.Context, vmCID, diskCID string) error
	CreateSnapshot(ctx context.Context, diskCID string, metadata map[string]string) (snapshotCID string, err error)
	DeleteSnapshot(ctx context.Context, snapshotCID string) error
	// FindByInventoryPath locates a resource in the provider's
	// inventory. Path components are escaped by the provider binding,
	// not by callers.
	FindByInventoryPath(ctx context.Context, path []string) (cid string, err error)
	// CurrentVMID reports the cid of the VM this process runs on, for
	// providers that can answer (used to avoid self-termination
	// during scans).
	CurrentVMID(ctx context.Context) (string, error)
}

// NetworkSettings is what an instance's VM gets told about its
// network attachment at creation time.
type NetworkSettings struct {
	Name    string
	IP      string
	Gateway string
	Range   string
}

// Errors common across providers. Provider bindings wrap their own
// failures in these so callers can match without knowing the backend.
var (
	ErrVMNotFound       = errors.New("vm not found")
	ErrDiskNotFound     = errors.New("disk not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrNotSupported     = errors.New("operation not supported by this provider")
)

// Kind names an infrastructure backend. Selection is static: a
// deployment's kind is fixed at configuration time and never
// re-dispatched per call.
type Kind string

const (
	KindVSphere   Kind = "vsphere"
	KindAWS       Kind = "aws"
	KindOpenStack Kind = "openstack"
)
