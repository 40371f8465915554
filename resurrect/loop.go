package resurrect

import (
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/task"
)

// Monitor periodically submits scan_and_fix tasks for every known
// deployment. It never heals anything itself; all work flows through
// the task queue so it shows up in task listings and respects the
// per-deployment lock like any other operation.
type Monitor struct {
	Store        registry.Store
	Submit       Submitter
	ScanInterval time.Duration

	initOnce sync.Once
	scanSoon chan struct{}
}

func (m *Monitor) ensureInit() {
	m.initOnce.Do(func() {
		m.scanSoon = make(chan struct{}, 1)
	})
}

// AskForScan schedules a scan pass, or if one is already waiting,
// lets that one happen.
func (m *Monitor) AskForScan() {
	m.ensureInit()
	select {
	case m.scanSoon <- struct{}{}:
	default:
	}
}

func (m *Monitor) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	m.ensureInit()

	// We want to scan at least every ScanInterval. Being asked to scan
	// reschedules the next tick.
	scanTimer := time.NewTimer(m.ScanInterval)

	m.AskForScan()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case <-m.scanSoon:
			if !scanTimer.Stop() {
				select {
				case <-scanTimer.C:
				default:
				}
			}
			if err := m.scanAll(logger); err != nil {
				logger.Log("err", err)
			}
			scanTimer.Reset(m.ScanInterval)
		case <-scanTimer.C:
			m.AskForScan()
		}
	}
}

func (m *Monitor) scanAll(logger log.Logger) error {
	deployments, err := m.Store.Deployments()
	if err != nil {
		return err
	}
	for _, dep := range deployments {
		t, err := m.Submit.Submit(task.TypeScanAndFix, "periodic health scan", "system", dep.Name, nil, nil)
		if err != nil {
			logger.Log("deployment", dep.Name, "err", err)
			continue
		}
		logger.Log("deployment", dep.Name, "task", t.ID)
	}
	return nil
}
