package http

import (
	"github.com/fleetworks/director/registry"
)

// Wire views: deterministic field sets, decoupled from the registry
// structs so storage changes don't leak into the API.

type deploymentViewT struct {
	Name     string       `json:"name"`
	Provider string       `json:"provider"`
	Releases []releaseRef `json:"releases"`
	Stemcell *stemcellRef `json:"stemcell,omitempty"`
}

type releaseRef struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	CurrentlyEmitted bool   `json:"currently_deployed"`
}

type stemcellRef struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func deploymentView(d *registry.Deployment) deploymentViewT {
	v := deploymentViewT{
		Name:     d.Name,
		Provider: d.Provider,
		Releases: []releaseRef{},
	}
	for _, r := range d.Releases {
		v.Releases = append(v.Releases, releaseRef{r.Name, r.Version, r.CurrentlyEmitted})
	}
	if d.Stemcell.Name != "" {
		v.Stemcell = &stemcellRef{d.Stemcell.Name, d.Stemcell.Version}
	}
	return v
}

func deploymentViews(ds []*registry.Deployment) []deploymentViewT {
	out := make([]deploymentViewT, 0, len(ds))
	for _, d := range ds {
		out = append(out, deploymentView(d))
	}
	return out
}

type instanceView struct {
	ID                 string `json:"id"`
	Job                string `json:"job"`
	Index              int    `json:"index"`
	State              string `json:"state"`
	VMCID              string `json:"vm_cid,omitempty"`
	ResurrectionPaused bool   `json:"resurrection_paused"`
}

func instanceViews(instances []*registry.Instance) []instanceView {
	out := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceView{
			ID:                 inst.ID().String(),
			Job:                inst.Job,
			Index:              inst.Index,
			State:              string(inst.State),
			VMCID:              inst.VMCID,
			ResurrectionPaused: inst.ResurrectionPaused,
		})
	}
	return out
}

type problemView struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	State      string            `json:"state"`
	ResourceID string            `json:"resource_id"`
	Data       map[string]string `json:"data,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
}

func problemViews(problems []*registry.Problem) []problemView {
	out := make([]problemView, 0, len(problems))
	for _, p := range problems {
		out = append(out, problemView{
			ID:         p.ID,
			Type:       string(p.Type),
			State:      string(p.State),
			ResourceID: p.ResourceID,
			Data:       p.Data,
			Resolution: p.Resolution,
		})
	}
	return out
}

type releaseView struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

type stemcellView struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	CID     string `json:"cid"`
}

func stemcellViews(stemcells []*registry.Stemcell) []stemcellView {
	out := make([]stemcellView, 0, len(stemcells))
	for _, sc := range stemcells {
		out = append(out, stemcellView{sc.Name, sc.Version, sc.CID})
	}
	return out
}
