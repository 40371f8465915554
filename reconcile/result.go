package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fleetworks/director"
)

type InstanceStatus string

const (
	StatusSuccess InstanceStatus = "success"
	StatusFailed  InstanceStatus = "failed"
	StatusSkipped InstanceStatus = "skipped"
)

// Result reports, per instance, what an execution did. Partial
// failure is the interesting case: it names exactly which instances
// succeeded, which failed, and which were never attempted.
type Result map[director.InstanceID]InstanceResult

type InstanceResult struct {
	Status InstanceStatus
	// the action that failed, for failed instances
	Action ActionType `json:",omitempty"`
	Error  string     `json:",omitempty"`
}

func (r Result) withStatus(s InstanceStatus) []string {
	var out []string
	for id, res := range r {
		if res.Status == s {
			out = append(out, id.String())
		}
	}
	sort.Strings(out)
	return out
}

func (r Result) Succeeded() []string {
	return r.withStatus(StatusSuccess)
}

func (r Result) Failed() []string {
	return r.withStatus(StatusFailed)
}

func (r Result) Skipped() []string {
	return r.withStatus(StatusSkipped)
}

// Error returns the failure summary for this execution, if any.
func (r Result) Error() string {
	var errIds []string
	var errStr string
	for id, res := range r {
		if res.Status == StatusFailed {
			errIds = append(errIds, id.String())
			errStr = res.Error
		}
	}
	switch {
	case len(errIds) == 0:
		return ""
	case len(errIds) == 1:
		return fmt.Sprintf("%s failed: %s", errIds[0], errStr)
	default:
		sort.Strings(errIds)
		return fmt.Sprintf("multiple instances failed: %s", strings.Join(errIds, ", "))
	}
}
