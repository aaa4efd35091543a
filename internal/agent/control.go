package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/uvn"
)

// ControlServer exposes a RegistryAgent's mutators over a local unix
// socket, grounded on client/doublezerod's own local admin API
// (internal/api + internal/runtime's http.ServeMux-over-net.Listen("unix")
// shape): every `uno` verb that mutates a UVN document talks to a running
// `uno agent --registry` process through this socket rather than opening
// its own Registry, since a Registry's key material (internal/keymaterial.
// Store) lives only in the owning process's memory.
//
// Bodies are YAML, not JSON, matching every other wire format this
// package touches (bundles, envelopes, permissions documents) rather than
// introducing a second serialization convention for one local API.
type ControlServer struct {
	srv      *http.Server
	lis      net.Listener
	sockPath string
}

// NewControlServer builds the mux and binds the unix socket at sockPath,
// removing any stale socket file left behind by an unclean shutdown.
func NewControlServer(a *RegistryAgent, sockPath string) (*ControlServer, error) {
	_ = os.Remove(sockPath)
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("agent: listening on control socket %s: %w", sockPath, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cells", yamlHandler(func(req AddCellRequest) (*uvn.Cell, error) {
		return a.AddCell(req.Cell)
	}))
	mux.HandleFunc("PUT /cells", yamlHandler(func(req AddCellRequest) (*uvn.Cell, error) {
		return a.UpdateCell(req.Cell.ID, req.Cell)
	}))
	mux.HandleFunc("POST /cells/ban", yamlHandlerNoResult(func(req NameRequest) error {
		return a.BanCellByName(req.Name)
	}))
	mux.HandleFunc("DELETE /cells", yamlHandlerNoResult(func(req NameRequest) error {
		return a.DeleteCellByName(req.Name)
	}))
	mux.HandleFunc("POST /cells/unban", yamlHandler(func(req NameRequest) (*uvn.Cell, error) {
		return a.UnbanCellByName(req.Name)
	}))
	mux.HandleFunc("POST /particles", yamlHandler(func(req AddParticleRequest) (*uvn.Particle, error) {
		return a.AddParticle(req.Particle)
	}))
	mux.HandleFunc("PUT /particles", yamlHandler(func(req AddParticleRequest) (*uvn.Particle, error) {
		return a.UpdateParticle(req.Particle.ID, req.Particle)
	}))
	mux.HandleFunc("POST /particles/ban", yamlHandlerNoResult(func(req NameRequest) error {
		return a.BanParticleByName(req.Name)
	}))
	mux.HandleFunc("DELETE /particles", yamlHandlerNoResult(func(req NameRequest) error {
		return a.DeleteParticleByName(req.Name)
	}))
	mux.HandleFunc("POST /particles/unban", yamlHandler(func(req NameRequest) (*uvn.Particle, error) {
		return a.UnbanParticleByName(req.Name)
	}))
	mux.HandleFunc("POST /settings", yamlHandlerNoResult(func(req SettingsRequest) error {
		return a.Configure(req.Settings)
	}))
	mux.HandleFunc("POST /redeploy", yamlHandlerNoBody(func() (registry.ID, error) {
		return a.Redeploy()
	}))
	mux.HandleFunc("POST /sync", yamlHandlerNoBody(func() (registry.ID, error) {
		return a.Sync()
	}))
	mux.HandleFunc("POST /rekey", yamlHandler(func(req RekeyRequest) (registry.ID, error) {
		return a.Rekey(context.Background(), req.Scope, time.Duration(req.MaxSpinTime))
	}))
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeYAML(w, http.StatusOK, a.Status())
	})

	c := &ControlServer{
		srv:      &http.Server{Handler: mux},
		lis:      lis,
		sockPath: sockPath,
	}
	return c, nil
}

// Serve blocks accepting connections until Close is called.
func (c *ControlServer) Serve() error {
	err := c.srv.Serve(c.lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down and removes the socket file.
func (c *ControlServer) Close() error {
	err := c.srv.Close()
	_ = os.Remove(c.sockPath)
	return err
}

type AddCellRequest struct {
	Cell uvn.Cell `yaml:"cell"`
}

type AddParticleRequest struct {
	Particle uvn.Particle `yaml:"particle"`
}

type NameRequest struct {
	Name string `yaml:"name"`
}

type SettingsRequest struct {
	Settings uvn.Settings `yaml:"settings"`
}

type RekeyRequest struct {
	Scope       keymaterial.RekeyScope `yaml:"scope"`
	MaxSpinTime int64                  `yaml:"max_spin_time_ns"`
}

func writeYAML(w http.ResponseWriter, status int, v any) {
	body, err := yaml.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func yamlHandler[Req any, Resp any](f func(Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := yaml.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("agent: decoding request: %w", err))
			return
		}
		resp, err := f(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeYAML(w, http.StatusOK, resp)
	}
}

func yamlHandlerNoResult[Req any](f func(Req) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := yaml.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("agent: decoding request: %w", err))
			return
		}
		if err := f(req); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func yamlHandlerNoBody[Resp any](f func() (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := f()
		if err != nil {
			writeError(w, err)
			return
		}
		writeYAML(w, http.StatusOK, resp)
	}
}
