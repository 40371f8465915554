package openstack

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/fleetworks/director/cpi"
	"github.com/fleetworks/director/cpi/middleware"
)

// Provider drives an OpenStack cloud through the Nova and Cinder
// APIs, with Keystone token auth renewed on expiry.
type Provider struct {
	AuthURL    string
	ComputeURL string
	VolumeURL  string
	Username   string
	Password   string
	Project    string

	client *http.Client
	logger log.Logger

	tokenMx sync.Mutex
	token   string
}

type Config struct {
	AuthURL    string
	ComputeURL string
	VolumeURL  string
	Username   string
	Password   string
	Project    string
	RPS, Burst int
}

func New(cfg Config, logger log.Logger) *Provider {
	limiters := &middleware.RateLimiters{RPS: cfg.RPS, Burst: cfg.Burst}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	client := rc.StandardClient()
	client.Transport = limiters.RoundTripper(client.Transport, hostOf(cfg.ComputeURL))
	return &Provider{
		AuthURL:    strings.TrimSuffix(cfg.AuthURL, "/"),
		ComputeURL: strings.TrimSuffix(cfg.ComputeURL, "/"),
		VolumeURL:  strings.TrimSuffix(cfg.VolumeURL, "/"),
		Username:   cfg.Username,
		Password:   cfg.Password,
		Project:    cfg.Project,
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

func (p *Provider) authenticate(ctx context.Context) (string, error) {
	p.tokenMx.Lock()
	defer p.tokenMx.Unlock()
	if p.token != "" {
		return p.token, nil
	}
	body := map[string]interface{}{
		"auth": map[string]interface{}{
			"identity": map[string]interface{}{
				"methods": []string{"password"},
				"password": map[string]interface{}{
					"user": map[string]interface{}{
						"name":     p.Username,
						"password": p.Password,
						"domain":   map[string]string{"id": "default"},
					},
				},
			},
			"scope": map[string]interface{}{
				"project": map[string]interface{}{
					"name":   p.Project,
					"domain": map[string]string{"id": "default"},
				},
			},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, "POST", p.AuthURL+"/v3/auth/tokens", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "authenticating with keystone")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("authenticating with keystone: status %d", resp.StatusCode)
	}
	p.token = resp.Header.Get("X-Subject-Token")
	if p.token == "" {
		return "", errors.New("keystone returned no token")
	}
	return p.token, nil
}

func (p *Provider) do(ctx context.Context, method, url string, reqBody, respBody interface{}) error {
	token, err := p.authenticate(ctx)
	if err != nil {
		return err
	}
	var buf []byte
	if reqBody != nil {
		if buf, err = json.Marshal(reqBody); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("X-Auth-Token", token)
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
		p.tokenMx.Lock()
		p.token = ""
		p.tokenMx.Unlock()
		return errors.New("keystone token expired")
	case resp.StatusCode >= 400:
		return errors.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if respBody != nil {
		return json.NewDecoder(resp.Body).Decode(respBody)
	}
	return nil
}

func (p *Provider) CreateVM(ctx context.Context, agentID, stemcellCID string, cloudProps map[string]interface{}, networks cpi.NetworkSettings) (string, error) {
	server := map[string]interface{}{
		"name":     "vm-" + agentID,
		"imageRef": stemcellCID,
		"metadata": map[string]string{"director_agent_id": agentID},
	}
	if flavor, ok := cloudProps["instance_type"].(string); ok {
		server["flavorRef"] = flavor
	}
	if networks.IP != "" {
		server["networks"] = []map[string]string{{"fixed_ip": networks.IP}}
	}
	var out struct {
		Server struct {
			ID string `json:"id"`
		} `json:"server"`
	}
	err := p.do(ctx, "POST", p.ComputeURL+"/servers", map[string]interface{}{"server": server}, &out)
	if err != nil {
		return "", errors.Wrap(err, "create_vm")
	}
	return out.Server.ID, nil
}

func (p *Provider) DeleteVM(ctx context.Context, vmCID string) error {
	return errors.Wrap(p.do(ctx, "DELETE", p.ComputeURL+"/servers/"+vmCID, nil, nil), "delete_vm")
}

func (p *Provider) CreateDisk(ctx context.Context, sizeMB int, cloudProps map[string]interface{}) (string, error) {
	volume := map[string]interface{}{
		"size": (sizeMB + 1023) / 1024,
	}
	if t, ok := cloudProps["type"].(string); ok {
		volume["volume_type"] = t
	}
	var out struct {
		Volume struct {
			ID string `json:"id"`
		} `json:"volume"`
	}
	err := p.do(ctx, "POST", p.VolumeURL+"/volumes", map[string]interface{}{"volume": volume}, &out)
	if err != nil {
		return "", errors.Wrap(err, "create_disk")
	}
	return out.Volume.ID, nil
}

func (p *Provider) DeleteDisk(ctx context.Context, diskCID string) error {
	err := p.do(ctx, "DELETE", p.VolumeURL+"/volumes/"+diskCID, nil, nil)
	if err == cpi.ErrVMNotFound {
		err = cpi.ErrDiskNotFound
	}
	return errors.Wrap(err, "delete_disk")
}

func (p *Provider) AttachDisk(ctx context.Context, vmCID, diskCID string) error {
	body := map[string]interface{}{
		"volumeAttachment": map[string]string{"volumeId": diskCID},
	}
	return errors.Wrap(p.do(ctx, "POST", p.ComputeURL+"/servers/"+vmCID+"/os-volume_attachments", body, nil), "attach_disk")
}

func (p *Provider) DetachDisk(ctx context.Context, vmCID, diskCID string) error {
	return errors.Wrap(p.do(ctx, "DELETE", p.ComputeURL+"/servers/"+vmCID+"/os-volume_attachments/"+diskCID, nil, nil), "detach_disk")
}

func (p *Provider) CreateSnapshot(ctx context.Context, diskCID string, metadata map[string]string) (string, error) {
	snapshot := map[string]interface{}{
		"volume_id": diskCID,
		"force":     true,
		"metadata":  metadata,
	}
	var out struct {
		Snapshot struct {
			ID string `json:"id"`
		} `json:"snapshot"`
	}
	err := p.do(ctx, "POST", p.VolumeURL+"/snapshots", map[string]interface{}{"snapshot": snapshot}, &out)
	if err != nil {
		return "", errors.Wrap(err, "create_snapshot")
	}
	return out.Snapshot.ID, nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotCID string) error {
	err := p.do(ctx, "DELETE", p.VolumeURL+"/snapshots/"+snapshotCID, nil, nil)
	if err == cpi.ErrVMNotFound {
		err = cpi.ErrSnapshotNotFound
	}
	return errors.Wrap(err, "delete_snapshot")
}

// FindByInventoryPath maps to a server lookup; OpenStack has no
// hierarchical inventory, so the last path element is the server id.
func (p *Provider) FindByInventoryPath(ctx context.Context, path []string) (string, error) {
	if len(path) == 0 {
		return "", errors.New("empty inventory path")
	}
	id := path[len(path)-1]
	var out struct {
		Server struct {
			ID string `json:"id"`
		} `json:"server"`
	}
	if err := p.do(ctx, "GET", p.ComputeURL+"/servers/"+id, nil, &out); err != nil {
		if errors.Cause(err) == cpi.ErrVMNotFound {
			return "", errors.Wrap(cpi.ErrVMNotFound, strings.Join(path, "/"))
		}
		return "", errors.Wrap(err, "find_by_inventory_path")
	}
	return out.Server.ID, nil
}

func (p *Provider) CurrentVMID(ctx context.Context) (string, error) {
	var out struct {
		UUID string `json:"uuid"`
	}
	if err := p.do(ctx, "GET", "http://169.254.169.254/openstack/latest/meta_data.json", nil, &out); err != nil {
		return "", errors.Wrap(err, "current_vm_id")
	}
	return out.UUID, nil
}
