package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// HTTPClient reaches agents over their HTTP endpoint. The endpoint
// template contains one %s, substituted with the agent id; routing to
// the right VM is the deployment network's concern (agents register
// under their id in DNS).
type HTTPClient struct {
	Endpoint string
	client   *retryablehttp.Client
}

func NewHTTPClient(endpoint string, logger log.Logger) *HTTPClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.Logger = nil
	if logger != nil {
		client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.Log("retrying", req.URL.String(), "attempt", attempt)
			}
		}
	}
	return &HTTPClient{Endpoint: endpoint, client: client}
}

var _ Client = &HTTPClient{}

func (c *HTTPClient) url(agentID, path string) string {
	base := fmt.Sprintf(c.Endpoint, agentID)
	return strings.TrimRight(base, "/") + path
}

func (c *HTTPClient) Ping(ctx context.Context, agentID string) error {
	req, err := retryablehttp.NewRequest("GET", c.url(agentID, "/ping"), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrap(ErrUnresponsive, agentID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrUnresponsive, "%s: status %d", agentID, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Apply(ctx context.Context, agentID string, state string) error {
	body, err := json.Marshal(map[string]string{"state": state})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequest("POST", c.url(agentID, "/apply"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "applying state to agent %s", agentID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("agent %s rejected apply: status %d", agentID, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) ListDisks(ctx context.Context, agentID string) ([]string, error) {
	req, err := retryablehttp.NewRequest("GET", c.url(agentID, "/disks"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(ErrUnresponsive, agentID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUnresponsive, "%s: status %d", agentID, resp.StatusCode)
	}
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var disks []string
	if err := json.Unmarshal(raw, &disks); err != nil {
		return nil, errors.Wrapf(err, "parsing disk list from agent %s", agentID)
	}
	return disks, nil
}
