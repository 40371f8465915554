package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/agent"
	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/registry"
)

// A provider call that outlives the call timeout counts as a failure
// for its instance; it must not wedge the whole execution.
func TestExecuteCallTimeout(t *testing.T) {
	store := registry.NewInMem()
	require.NoError(t, store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))

	slow := &cpi.Mock{
		CreateVMFunc: func(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks cpi.NetworkSettings) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	exec := &Executor{
		CPI:         slow,
		Agents:      agent.NewFake(),
		Store:       store,
		DNS:         NewInMemDNS(),
		CallTimeout: 20 * time.Millisecond,
		Logger:      log.NewNopLogger(),
	}

	plan := Plan{
		Deployment: "mycloud",
		Batches: []Batch{{
			MaxInFlight: 1,
			Plans: []InstancePlan{{
				Instance: director.MakeInstanceID("nats", 0),
				Actions:  []Action{{Type: ActionCreateVM, Instance: director.MakeInstanceID("nats", 0)}},
			}},
		}},
	}

	start := time.Now()
	result, err := exec.Execute(context.Background(), plan, NeverInterrupt)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	res, ok := result[director.MakeInstanceID("nats", 0)]
	require.True(t, ok)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ActionCreateVM, res.Action)
}

func TestExecuteRecordsAsItGoes(t *testing.T) {
	store := registry.NewInMem()
	require.NoError(t, store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))

	var created []string
	provider := &cpi.Mock{
		CreateVMFunc: func(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks cpi.NetworkSettings) (string, error) {
			cid := "vm-" + agentID[:8]
			created = append(created, cid)
			return cid, nil
		},
	}
	exec := &Executor{
		CPI:    provider,
		Agents: agent.NewFake(),
		Store:  store,
		DNS:    NewInMemDNS(),
		Logger: log.NewNopLogger(),
	}

	id := director.MakeInstanceID("nats", 0)
	plan := Plan{
		Deployment: "mycloud",
		Batches: []Batch{{
			MaxInFlight: 1,
			Plans: []InstancePlan{{
				Instance: id,
				Actions:  []Action{{Type: ActionCreateVM, Instance: id}},
			}},
		}},
	}

	_, err := exec.Execute(context.Background(), plan, NeverInterrupt)
	require.NoError(t, err)
	require.Len(t, created, 1)

	// the VM row and the instance binding are written immediately,
	// so a later failure leaves accurate observed state behind
	vm, err := store.VM(created[0])
	require.NoError(t, err)
	assert.Equal(t, "mycloud", vm.Deployment)
	inst, err := store.Instance("mycloud", "nats", 0)
	require.NoError(t, err)
	assert.Equal(t, created[0], inst.VMCID)
}

// Migration flips the instance onto a fresh disk of the desired size
// with never more than one disk active.
func TestExecuteMigratesDisk(t *testing.T) {
	store := registry.NewInMem()
	cloud := cpi.NewFake()
	ctx := context.Background()
	require.NoError(t, store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))

	id := director.MakeInstanceID("nats", 0)
	vmCID, err := cloud.CreateVM(ctx, "agent-1", "sc-1", nil, cpi.NetworkSettings{})
	require.NoError(t, err)
	oldCID, err := cloud.CreateDisk(ctx, 1024, nil)
	require.NoError(t, err)
	require.NoError(t, cloud.AttachDisk(ctx, vmCID, oldCID))
	require.NoError(t, store.SaveVM(&registry.VM{CID: vmCID, AgentID: "agent-1", Deployment: "mycloud"}))
	require.NoError(t, store.SaveInstance(&registry.Instance{Deployment: "mycloud", Job: "nats", Index: 0, VMCID: vmCID}))
	require.NoError(t, store.SaveDisk(&registry.PersistentDisk{CID: oldCID, Deployment: "mycloud", Instance: id, SizeMB: 1024, Active: true}))

	exec := &Executor{
		CPI:    cloud,
		Agents: agent.NewFake(),
		Store:  store,
		DNS:    NewInMemDNS(),
		Logger: log.NewNopLogger(),
	}
	plan := Plan{
		Deployment: "mycloud",
		Batches: []Batch{{
			MaxInFlight: 1,
			Plans: []InstancePlan{{
				Instance: id,
				Actions:  []Action{{Type: ActionMigrateDisk, Instance: id, DiskCID: oldCID, DiskSizeMB: 2048}},
			}},
		}},
	}
	_, err = exec.Execute(ctx, plan, NeverInterrupt)
	require.NoError(t, err)

	// the old disk is gone and the new one is the single active disk
	assert.False(t, cloud.HasDisk(oldCID))
	_, err = store.Disk(oldCID)
	assert.Error(t, err)
	disks, err := store.DisksFor("mycloud")
	require.NoError(t, err)
	require.Len(t, disks, 1)
	assert.Equal(t, 2048, disks[0].SizeMB)
	assert.True(t, disks[0].Active)
	assert.Equal(t, vmCID, cloud.AttachedTo(disks[0].CID))
}

// Within a batch, never more instances in flight than the batch's
// bound.
func TestExecuteHonoursMaxInFlight(t *testing.T) {
	store := registry.NewInMem()
	require.NoError(t, store.SaveDeployment(&registry.Deployment{Name: "mycloud"}))

	var inFlight, peak int64
	provider := &cpi.Mock{
		CreateVMFunc: func(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks cpi.NetworkSettings) (string, error) {
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				seen := atomic.LoadInt64(&peak)
				if cur <= seen || atomic.CompareAndSwapInt64(&peak, seen, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return "vm-" + agentID[:8], nil
		},
	}
	exec := &Executor{
		CPI:    provider,
		Agents: agent.NewFake(),
		Store:  store,
		DNS:    NewInMemDNS(),
		Logger: log.NewNopLogger(),
	}

	var plans []InstancePlan
	for i := 0; i < 4; i++ {
		id := director.MakeInstanceID("nats", i)
		plans = append(plans, InstancePlan{
			Instance: id,
			Actions:  []Action{{Type: ActionCreateVM, Instance: id}},
		})
	}
	plan := Plan{
		Deployment: "mycloud",
		Batches:    []Batch{{MaxInFlight: 2, Plans: plans}},
	}

	result, err := exec.Execute(context.Background(), plan, NeverInterrupt)
	require.NoError(t, err)
	require.Len(t, result, 4)
	for _, res := range result {
		assert.Equal(t, StatusSuccess, res.Status)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}
