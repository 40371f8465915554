package resurrect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"

	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/task"
)

func TestMonitorSubmitsScansPerDeployment(t *testing.T) {
	store := registry.NewInMem()
	require.NoError(t, store.SaveDeployment(&registry.Deployment{Name: "a"}))
	require.NoError(t, store.SaveDeployment(&registry.Deployment{Name: "b"}))

	var scans int64
	mgr := task.NewManager(store, 2, log.NewNopLogger())
	mgr.Register(task.TypeScanAndFix, func(ctx context.Context, tk *task.Task) error {
		atomic.AddInt64(&scans, 1)
		return nil
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		mgr.Run(stop)
		close(done)
	}()

	monitor := &Monitor{Store: store, Submit: mgr, ScanInterval: 20 * time.Millisecond}
	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.Loop(stop, &wg, log.NewNopLogger())

	// the initial pass plus at least one timer tick: two deployments
	// each time
	deadline := time.After(5 * time.Second)
	for atomic.LoadInt64(&scans) < 4 {
		select {
		case <-deadline:
			t.Fatalf("only %d scans submitted", atomic.LoadInt64(&scans))
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(stop)
	wg.Wait()
	<-done
}
