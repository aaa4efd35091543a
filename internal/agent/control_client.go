package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/uvn"
)

// ControlClient talks to a running RegistryAgent's ControlServer over its
// unix socket, the same DialContext-over-net.Dial("unix", ...) shape
// client/doublezerod's own tests use to exercise its local API.
type ControlClient struct {
	http *http.Client
}

// NewControlClient returns a client dialing the unix socket at sockPath.
func NewControlClient(sockPath string) *ControlClient {
	return &ControlClient{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sockPath)
				},
			},
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ControlClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := yaml.Marshal(body)
		if err != nil {
			return fmt.Errorf("agent: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://control"+path, reqBody)
	if err != nil {
		return fmt.Errorf("agent: building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent: dialing registry control socket: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("agent: reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agent: registry rejected %s %s: %s", method, path, bytes.TrimSpace(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("agent: decoding response: %w", err)
	}
	return nil
}

func (c *ControlClient) AddCell(ctx context.Context, cell uvn.Cell) (*uvn.Cell, error) {
	var out uvn.Cell
	if err := c.do(ctx, http.MethodPost, "/cells", AddCellRequest{Cell: cell}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ControlClient) UpdateCell(ctx context.Context, cell uvn.Cell) (*uvn.Cell, error) {
	var out uvn.Cell
	if err := c.do(ctx, http.MethodPut, "/cells", AddCellRequest{Cell: cell}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ControlClient) BanCell(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/cells/ban", NameRequest{Name: name}, nil)
}

func (c *ControlClient) DeleteCell(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/cells", NameRequest{Name: name}, nil)
}

func (c *ControlClient) UnbanCell(ctx context.Context, name string) (*uvn.Cell, error) {
	var out uvn.Cell
	if err := c.do(ctx, http.MethodPost, "/cells/unban", NameRequest{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ControlClient) AddParticle(ctx context.Context, p uvn.Particle) (*uvn.Particle, error) {
	var out uvn.Particle
	if err := c.do(ctx, http.MethodPost, "/particles", AddParticleRequest{Particle: p}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ControlClient) UpdateParticle(ctx context.Context, p uvn.Particle) (*uvn.Particle, error) {
	var out uvn.Particle
	if err := c.do(ctx, http.MethodPut, "/particles", AddParticleRequest{Particle: p}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ControlClient) BanParticle(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/particles/ban", NameRequest{Name: name}, nil)
}

func (c *ControlClient) DeleteParticle(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/particles", NameRequest{Name: name}, nil)
}

func (c *ControlClient) UnbanParticle(ctx context.Context, name string) (*uvn.Particle, error) {
	var out uvn.Particle
	if err := c.do(ctx, http.MethodPost, "/particles/unban", NameRequest{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ControlClient) Configure(ctx context.Context, s uvn.Settings) error {
	return c.do(ctx, http.MethodPost, "/settings", SettingsRequest{Settings: s}, nil)
}

func (c *ControlClient) Redeploy(ctx context.Context) (registry.ID, error) {
	var out registry.ID
	err := c.do(ctx, http.MethodPost, "/redeploy", nil, &out)
	return out, err
}

func (c *ControlClient) Sync(ctx context.Context) (registry.ID, error) {
	var out registry.ID
	err := c.do(ctx, http.MethodPost, "/sync", nil, &out)
	return out, err
}

func (c *ControlClient) Rekey(ctx context.Context, scope keymaterial.RekeyScope, maxSpinTime time.Duration) (registry.ID, error) {
	var out registry.ID
	err := c.do(ctx, http.MethodPost, "/rekey", RekeyRequest{Scope: scope, MaxSpinTime: int64(maxSpinTime)}, &out)
	return out, err
}

func (c *ControlClient) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
