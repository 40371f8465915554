package vsphere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/cpi/middleware"
)

// Provider drives a vCenter through its REST automation API. The
// binding owns session handling and inventory-path escaping; nothing
// vSphere-specific leaks past the cid strings it returns.
type Provider struct {
	URL        string // e.g. https://vcenter.example.com
	Datacenter string
	Username   string
	Password   string

	client *http.Client
	logger log.Logger

	sessionMx sync.Mutex
	sessionID string
}

type Config struct {
	URL        string
	Datacenter string
	Username   string
	Password   string
	RPS, Burst int
}

func New(cfg Config, logger log.Logger) *Provider {
	limiters := &middleware.RateLimiters{RPS: cfg.RPS, Burst: cfg.Burst}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	client := rc.StandardClient()
	client.Transport = limiters.RoundTripper(client.Transport, hostOf(cfg.URL))
	return &Provider{
		URL:        strings.TrimSuffix(cfg.URL, "/"),
		Datacenter: cfg.Datacenter,
		Username:   cfg.Username,
		Password:   cfg.Password,
		client:     client,
		logger:     logger,
	}
}

func hostOf(rawurl string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawurl, "https://"), "http://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

var _ cpi.CPI = &Provider{}

// escapeInventoryElement makes a name safe for use as one element of
// a hierarchical inventory path. Percent must be escaped first, or
// escaping a literal "/" would double-escape.
func escapeInventoryElement(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "/", "%2f")
	return s
}

// InventoryPath joins path elements below the datacenter's vm folder,
// escaping each element.
func (p *Provider) InventoryPath(elements []string) string {
	escaped := make([]string, 0, len(elements)+2)
	escaped = append(escaped, escapeInventoryElement(p.Datacenter), "vm")
	for _, el := range elements {
		escaped = append(escaped, escapeInventoryElement(el))
	}
	return strings.Join(escaped, "/")
}

func (p *Provider) session(ctx context.Context) (string, error) {
	p.sessionMx.Lock()
	defer p.sessionMx.Unlock()
	if p.sessionID != "" {
		return p.sessionID, nil
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.URL+"/rest/com/vmware/cis/session", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.Username, p.Password)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "opening vCenter session")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("opening vCenter session: status %d", resp.StatusCode)
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decoding session response")
	}
	p.sessionID = body.Value
	return p.sessionID, nil
}

func (p *Provider) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	sid, err := p.session(ctx)
	if err != nil {
		return err
	}
	var rdr *bytes.Reader
	if reqBody != nil {
		buf, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("vmware-api-session-id", sid)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return cpi.ErrVMNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		// session expired; drop it so the next call logs in again
		p.sessionMx.Lock()
		p.sessionID = ""
		p.sessionMx.Unlock()
		return errors.New("vCenter session expired")
	case resp.StatusCode >= 400:
		return errors.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if respBody != nil {
		return json.NewDecoder(resp.Body).Decode(respBody)
	}
	return nil
}

func (p *Provider) CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks cpi.NetworkSettings) (string, error) {
	spec := map[string]interface{}{
		"source":    stemcellCID,
		"name":      "vm-" + agentID,
		"placement": map[string]interface{}{"datacenter": p.Datacenter},
		"metadata":  map[string]string{"director_agent_id": agentID},
		"network":   networks,
	}
	for k, v := range cloudProps {
		spec[k] = v
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := p.do(ctx, "POST", "/rest/vcenter/vm?action=clone", map[string]interface{}{"spec": spec}, &out); err != nil {
		return "", errors.Wrap(err, "create_vm")
	}
	return out.Value, nil
}

func (p *Provider) DeleteVM(ctx context.Context, vmCID string) error {
	return errors.Wrap(p.do(ctx, "DELETE", "/rest/vcenter/vm/"+vmCID, nil, nil), "delete_vm")
}

func (p *Provider) CreateDisk(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (string, error) {
	spec := map[string]interface{}{
		"capacity": int64(sizeMB) * 1024 * 1024,
	}
	for k, v := range cloudProps {
		spec[k] = v
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := p.do(ctx, "POST", "/rest/vcenter/disk", map[string]interface{}{"spec": spec}, &out); err != nil {
		return "", errors.Wrap(err, "create_disk")
	}
	return out.Value, nil
}

func (p *Provider) DeleteDisk(ctx context.Context, diskCID string) error {
	err := p.do(ctx, "DELETE", "/rest/vcenter/disk/"+diskCID, nil, nil)
	if err == cpi.ErrVMNotFound {
		err = cpi.ErrDiskNotFound
	}
	return errors.Wrap(err, "delete_disk")
}

func (p *Provider) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	body := map[string]interface{}{"spec": map[string]string{"backing": diskCID}}
	return errors.Wrap(p.do(ctx, "POST", "/rest/vcenter/vm/"+vmCID+"/hardware/disk", body, nil), "attach_disk")
}

func (p *Provider) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	return errors.Wrap(p.do(ctx, "DELETE", "/rest/vcenter/vm/"+vmCID+"/hardware/disk/"+diskCID, nil, nil), "detach_disk")
}

func (p *Provider) CreateSnapshot(ctx context.Context, diskCID string, metadata map[string]string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	body := map[string]interface{}{"disk": diskCID, "metadata": metadata}
	if err := p.do(ctx, "POST", "/rest/vcenter/disk/"+diskCID+"/snapshot", body, &out); err != nil {
		return "", errors.Wrap(err, "create_snapshot")
	}
	return out.Value, nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	err := p.do(ctx, "DELETE", "/rest/vcenter/snapshot/"+snapshotCID, nil, nil)
	if err == cpi.ErrVMNotFound {
		err = cpi.ErrSnapshotNotFound
	}
	return errors.Wrap(err, "delete_snapshot")
}

// FindByInventoryPath resolves the last path element as the VM
// identifier; the full escaped path only appears in diagnostics.
func (p *Provider) FindByInventoryPath(ctx context.Context, path []string) (string, error) {
	if len(path) == 0 {
		return "", errors.New("empty inventory path")
	}
	var out struct {
		Value []struct {
			VM string `json:"vm"`
		} `json:"value"`
	}
	q := fmt.Sprintf("/rest/vcenter/vm?filter.vms=%s", escapeInventoryElement(path[len(path)-1]))
	if err := p.do(ctx, "GET", q, nil, &out); err != nil {
		return "", errors.Wrap(err, "find_by_inventory_path")
	}
	if len(out.Value) == 0 {
		return "", errors.Wrapf(cpi.ErrVMNotFound, "inventory path %s", p.InventoryPath(path))
	}
	return out.Value[0].VM, nil
}

func (p *Provider) CurrentVMID(ctx context.Context) (string, error) {
	return "", errors.Wrap(cpi.ErrNotSupported, "vsphere")
}
