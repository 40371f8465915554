package registry

import (
	"encoding/json"
	"time"
)

// BackupImage is a full logical export of the fleet model, used by
// backup tasks. It is a snapshot for disaster recovery, not a wire
// format; the task output records the blobstore ref it was stored
// under.
type BackupImage struct {
	TakenAt     time.Time                    `json:"taken_at"`
	Deployments []*Deployment                `json:"deployments"`
	Instances   []*Instance                  `json:"instances"`
	VMs         []*VM                        `json:"vms"`
	Disks       []*PersistentDisk            `json:"disks"`
	Snapshots   []*Snapshot                  `json:"snapshots"`
	Problems    []*Problem                   `json:"problems"`
	Releases    map[string][]*ReleaseVersion `json:"releases"`
	Stemcells   []*Stemcell                  `json:"stemcells"`
	Tasks       []*TaskRecord                `json:"tasks"`
	Users       []*User                      `json:"users"`
}

// Dump exports every table. The caller holds no lock; each read is
// individually consistent, which is the same guarantee the scanner
// gets.
func Dump(s Store) ([]byte, error) {
	img := BackupImage{
		TakenAt:  time.Now().UTC(),
		Releases: map[string][]*ReleaseVersion{},
	}

	deployments, err := s.Deployments()
	if err != nil {
		return nil, err
	}
	img.Deployments = deployments
	for _, dep := range deployments {
		instances, err := s.InstancesFor(dep.Name)
		if err != nil {
			return nil, err
		}
		img.Instances = append(img.Instances, instances...)
		vms, err := s.VMsFor(dep.Name)
		if err != nil {
			return nil, err
		}
		img.VMs = append(img.VMs, vms...)
		disks, err := s.DisksFor(dep.Name)
		if err != nil {
			return nil, err
		}
		img.Disks = append(img.Disks, disks...)
		for _, d := range disks {
			snaps, err := s.SnapshotsForDisk(d.CID)
			if err != nil {
				return nil, err
			}
			img.Snapshots = append(img.Snapshots, snaps...)
		}
		for _, state := range []ProblemState{ProblemOpen, ProblemResolved} {
			problems, err := s.ProblemsFor(dep.Name, state)
			if err != nil {
				return nil, err
			}
			img.Problems = append(img.Problems, problems...)
		}
	}

	releases, err := s.Releases()
	if err != nil {
		return nil, err
	}
	for _, r := range releases {
		versions, err := s.ReleaseVersions(r.Name)
		if err != nil {
			return nil, err
		}
		img.Releases[r.Name] = versions
	}

	stemcells, err := s.Stemcells()
	if err != nil {
		return nil, err
	}
	img.Stemcells = stemcells

	tasks, err := s.Tasks()
	if err != nil {
		return nil, err
	}
	img.Tasks = tasks

	users, err := s.Users()
	if err != nil {
		return nil, err
	}
	img.Users = users

	return json.MarshalIndent(img, "", "  ")
}
