package cpi

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Fake is an in-memory provider holding a pretend inventory. It backs
// the "dummy" kind for local development, and most tests in this
// repository drive the reconciler against it.
type Fake struct {
	mtx       sync.Mutex
	nextID    int
	vms       map[string]bool
	disks     map[string]int // cid -> size
	snapshots map[string]string
	attached  map[string]string // diskCID -> vmCID

	// FailNext, when set to an action name such as "create_vm",
	// makes the next matching call fail; used to exercise
	// partial-failure reporting.
	FailNext string
}

func NewFake() *Fake {
	return &Fake{
		vms:       map[string]bool{},
		disks:     map[string]int{},
		snapshots: map[string]string{},
		attached:  map[string]string{},
	}
}

var _ CPI = &Fake{}

func (f *Fake) newCID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) failNext(action string) bool {
	if f.FailNext == action {
		f.FailNext = ""
		return true
	}
	return false
}

func (f *Fake) CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks NetworkSettings) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failNext("create_vm") {
		return "", errors.New("create_vm failed")
	}
	cid := f.newCID("vm")
	f.vms[cid] = true
	return cid, nil
}

func (f *Fake) DeleteVM(ctx context.Context, vmCID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failNext("delete_vm") {
		return errors.New("delete_vm failed")
	}
	if !f.vms[vmCID] {
		return errors.Wrap(ErrVMNotFound, vmCID)
	}
	delete(f.vms, vmCID)
	f.releaseAttachments(vmCID)
	return nil
}

// a VM that goes away gives its volumes back
func (f *Fake) releaseAttachments(vmCID string) {
	for disk, holder := range f.attached {
		if holder == vmCID {
			delete(f.attached, disk)
		}
	}
}

func (f *Fake) CreateDisk(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failNext("create_disk") {
		return "", errors.New("create_disk failed")
	}
	cid := f.newCID("disk")
	f.disks[cid] = sizeMB
	return cid, nil
}

func (f *Fake) DeleteDisk(ctx context.Context, diskCID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, ok := f.disks[diskCID]; !ok {
		return errors.Wrap(ErrDiskNotFound, diskCID)
	}
	delete(f.disks, diskCID)
	delete(f.attached, diskCID)
	return nil
}

func (f *Fake) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failNext("attach_disk") {
		return errors.New("attach_disk failed")
	}
	if !f.vms[vmCID] {
		return errors.Wrap(ErrVMNotFound, vmCID)
	}
	if _, ok := f.disks[diskCID]; !ok {
		return errors.Wrap(ErrDiskNotFound, diskCID)
	}
	// real providers refuse to attach an in-use volume
	if holder, ok := f.attached[diskCID]; ok && holder != vmCID {
		return errors.Errorf("disk %s is attached to %s", diskCID, holder)
	}
	f.attached[diskCID] = vmCID
	return nil
}

func (f *Fake) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	delete(f.attached, diskCID)
	return nil
}

func (f *Fake) CreateSnapshot(ctx context.Context, diskCID string, metadata map[string]string) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.failNext("create_snapshot") {
		return "", errors.New("create_snapshot failed")
	}
	if _, ok := f.disks[diskCID]; !ok {
		return "", errors.Wrap(ErrDiskNotFound, diskCID)
	}
	cid := f.newCID("snap")
	f.snapshots[cid] = diskCID
	return cid, nil
}

func (f *Fake) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, ok := f.snapshots[snapshotCID]; !ok {
		return errors.Wrap(ErrSnapshotNotFound, snapshotCID)
	}
	delete(f.snapshots, snapshotCID)
	return nil
}

func (f *Fake) FindByInventoryPath(ctx context.Context, path []string) (string, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if len(path) == 0 {
		return "", errors.New("empty inventory path")
	}
	cid := path[len(path)-1]
	if f.vms[cid] {
		return cid, nil
	}
	if _, ok := f.disks[cid]; ok {
		return cid, nil
	}
	return "", errors.Wrap(ErrVMNotFound, cid)
}

func (f *Fake) CurrentVMID(ctx context.Context) (string, error) {
	return "", errors.Wrap(ErrNotSupported, "dummy provider")
}

// HasVM reports whether the fake inventory still holds the VM;
// tests use it to assert convergence actually happened.
func (f *Fake) HasVM(cid string) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.vms[cid]
}

// RemoveVM deletes a VM behind the director's back, simulating
// infrastructure-level loss for resurrection tests.
func (f *Fake) RemoveVM(cid string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	delete(f.vms, cid)
	f.releaseAttachments(cid)
}

func (f *Fake) HasDisk(cid string) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	_, ok := f.disks[cid]
	return ok
}

// AttachedTo reports which VM currently holds the disk, or "".
func (f *Fake) AttachedTo(diskCID string) string {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.attached[diskCID]
}

func (f *Fake) SnapshotCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.snapshots)
}
