package agent

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StatusReporter is implemented by both CellAgent and RegistryAgent.
type StatusReporter interface {
	Status() Status
}

// StatusServer is the read-only counterpart to ControlServer: a CellAgent
// has no mutators worth exposing over a socket (its bundle comes from the
// control plane, not from CLI verbs), but `uno status` still needs a way
// to reach a running agent process from a separate CLI invocation.
type StatusServer struct {
	srv      *http.Server
	lis      net.Listener
	sockPath string
}

// NewStatusServer binds sockPath and serves a's Status() snapshot at
// GET /status.
func NewStatusServer(a StatusReporter, sockPath string) (*StatusServer, error) {
	_ = os.Remove(sockPath)
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("agent: listening on status socket %s: %w", sockPath, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeYAML(w, http.StatusOK, a.Status())
	})

	return &StatusServer{
		srv:      &http.Server{Handler: mux},
		lis:      lis,
		sockPath: sockPath,
	}, nil
}

func (s *StatusServer) Serve() error {
	err := s.srv.Serve(s.lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *StatusServer) Close() error {
	err := s.srv.Close()
	_ = os.Remove(s.sockPath)
	return err
}

// FetchStatus dials sockPath and returns the Status it reports; it's the
// transport `uno status` uses for a cell agent, mirroring ControlClient's
// own Status method for a registry agent.
func FetchStatus(ctx context.Context, sockPath string) (*Status, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
		Timeout: 30 * time.Second,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://status/status", nil)
	if err != nil {
		return nil, fmt.Errorf("agent: building status request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: dialing status socket %s: %w", sockPath, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("agent: reading status response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent: status request failed: %s", body)
	}
	var out Status
	if err := yaml.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("agent: decoding status response: %w", err)
	}
	return &out, nil
}
