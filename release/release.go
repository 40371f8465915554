// Package release ingests uploaded release and stemcell bundles into
// the registry.
package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/artifact"
	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/task"
)

// Manifest is the descriptor at the head of an uploaded release
// bundle. Jobs and packages carry their own content digests, computed
// by the packager; the version fingerprint is derived from them so
// two uploads with identical contents fingerprint identically
// regardless of declaration order.
type Manifest struct {
	Name     string    `yaml:"name"`
	Version  string    `yaml:"version"`
	Jobs     []Element `yaml:"jobs"`
	Packages []Element `yaml:"packages"`
}

type Element struct {
	Name   string `yaml:"name"`
	Digest string `yaml:"digest"`
}

// StemcellManifest describes an uploaded stemcell: a base image
// already registered with the provider, referenced by cid.
type StemcellManifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	CID     string `yaml:"cid"`
}

// Fingerprint digests the release's jobs and packages.
func (m Manifest) Fingerprint() string {
	var lines []string
	for _, j := range m.Jobs {
		lines = append(lines, "job/"+j.Name+"/"+j.Digest)
	}
	for _, p := range m.Packages {
		lines = append(lines, "pkg/"+p.Name+"/"+p.Digest)
	}
	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Ingestor handles create_release and update_stemcell tasks.
type Ingestor struct {
	Store     registry.Store
	Artifacts artifact.Store
	Logger    log.Logger
}

// HandleCreateRelease parses the bundle descriptor carried in the
// task payload, stores the bundle in the blobstore, and records the
// release version. Re-uploading a version whose fingerprint matches
// the recorded one completes as a no-op success; a version collision
// with different contents is a user error.
func (ing *Ingestor) HandleCreateRelease(ctx context.Context, t *task.Task) error {
	var m Manifest
	if err := yaml.Unmarshal(t.Payload, &m); err != nil {
		return userErr(errors.Wrap(err, "parsing release descriptor"))
	}
	if m.Name == "" || m.Version == "" {
		return userErr(errors.New("release descriptor needs name and version"))
	}

	fingerprint := m.Fingerprint()
	existing, err := ing.Store.ReleaseVersions(m.Name)
	if err != nil {
		return err
	}
	for _, rv := range existing {
		if rv.Version != m.Version {
			continue
		}
		if rv.Fingerprint == fingerprint {
			fmt.Fprintf(t.Output(), "release %s/%s already uploaded; nothing to do\n", m.Name, m.Version)
			return nil
		}
		return userErr(errors.Errorf("release %s/%s already exists with different contents", m.Name, m.Version))
	}

	ref, err := ing.storeBundle(ctx, t.Payload)
	if err != nil {
		return errors.Wrap(err, "storing release bundle")
	}

	if err := ing.Store.SaveRelease(&registry.Release{Name: m.Name}); err != nil {
		return err
	}
	if err := ing.Store.SaveReleaseVersion(&registry.ReleaseVersion{
		Release:     m.Name,
		Version:     m.Version,
		Fingerprint: fingerprint,
		ArtifactRef: ref,
	}); err != nil {
		return err
	}
	fmt.Fprintf(t.Output(), "created release %s/%s (%d jobs, %d packages)\n", m.Name, m.Version, len(m.Jobs), len(m.Packages))
	ing.Logger.Log("release", m.Name, "version", m.Version, "fingerprint", fingerprint[:12])
	return nil
}

// HandleUpdateStemcell records an uploaded stemcell. Stemcells are
// uploaded once and referenced by many deployments; re-uploading the
// same name/version with the same image is a no-op.
func (ing *Ingestor) HandleUpdateStemcell(ctx context.Context, t *task.Task) error {
	var m StemcellManifest
	if err := yaml.Unmarshal(t.Payload, &m); err != nil {
		return userErr(errors.Wrap(err, "parsing stemcell descriptor"))
	}
	if m.Name == "" || m.Version == "" || m.CID == "" {
		return userErr(errors.New("stemcell descriptor needs name, version and cid"))
	}

	stemcells, err := ing.Store.Stemcells()
	if err != nil {
		return err
	}
	for _, sc := range stemcells {
		if sc.Name != m.Name || sc.Version != m.Version {
			continue
		}
		if sc.CID == m.CID {
			fmt.Fprintf(t.Output(), "stemcell %s/%s already uploaded; nothing to do\n", m.Name, m.Version)
			return nil
		}
		return userErr(errors.Errorf("stemcell %s/%s already exists with a different image", m.Name, m.Version))
	}

	if err := ing.Store.SaveStemcell(&registry.Stemcell{Name: m.Name, Version: m.Version, CID: m.CID}); err != nil {
		return err
	}
	fmt.Fprintf(t.Output(), "registered stemcell %s/%s\n", m.Name, m.Version)
	return nil
}

// storeBundle round-trips the payload through a temp file; the
// blobstore contract deals in local paths.
func (ing *Ingestor) storeBundle(ctx context.Context, payload []byte) (string, error) {
	tmp, err := ioutil.TempFile("", "release-bundle")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	return ing.Artifacts.Store(ctx, tmp.Name())
}

func userErr(err error) error {
	return &director.Error{Type: director.User, Code: director.CodeInvalidUpload, Err: err}
}
