package director

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidInstanceID = errors.New("invalid instance ID format: expected <job>/<index>")

// InstanceID identifies an instance within a deployment, as the job
// name plus a non-negative index. The index is the unit of identity
// for an instance: a changed job spec updates the instance in place,
// it never renames or renumbers it.
type InstanceID struct {
	job   string
	index int
}

func MakeInstanceID(job string, index int) InstanceID {
	return InstanceID{job: job, index: index}
}

func ParseInstanceID(s string) (InstanceID, error) {
	toks := strings.Split(s, "/")
	if len(toks) != 2 || toks[0] == "" {
		return InstanceID{}, errors.Wrap(ErrInvalidInstanceID, "parsing "+s)
	}
	index, err := strconv.Atoi(toks[1])
	if err != nil || index < 0 {
		return InstanceID{}, errors.Wrap(ErrInvalidInstanceID, "parsing "+s)
	}
	return InstanceID{job: toks[0], index: index}, nil
}

func (id InstanceID) Components() (job string, index int) {
	return id.job, id.index
}

func (id InstanceID) Job() string {
	return id.job
}

func (id InstanceID) Index() int {
	return id.index
}

func (id InstanceID) String() string {
	return fmt.Sprintf("%s/%d", id.job, id.index)
}

func (id InstanceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *InstanceID) UnmarshalText(data []byte) error {
	parsed, err := ParseInstanceID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

type InstanceIDs []InstanceID

func (ids InstanceIDs) Strings() []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// InstanceState is the operator-requested lifecycle state of an
// instance, independent of whether a VM currently backs it.
type InstanceState string

const (
	InstanceStarted  InstanceState = "started"
	InstanceStopped  InstanceState = "stopped"
	InstanceDetached InstanceState = "detached"
)
