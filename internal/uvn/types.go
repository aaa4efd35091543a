// Package uvn holds the UVN data model: the UVN document itself, its cells
// and particles, and the settings that parameterize VPN profiles and
// deployment strategy. It enforces the membership invariants from spec §3
// but knows nothing about key material, deployment computation, or runtime
// state — those live in sibling packages.
package uvn

import (
	"fmt"
)

// Cell is a host that attaches one or more private LANs to the UVN.
type Cell struct {
	ID                 int      `yaml:"id"`
	Name               string   `yaml:"name"`
	Owner              string   `yaml:"owner"`
	PublicAddress      Addr     `yaml:"public_address,omitempty"`
	AllowedLANs        []Prefix `yaml:"allowed_lans"`
	EnableParticlesVPN bool     `yaml:"enable_particles_vpn"`
}

// Private reports whether the cell has no public endpoint, meaning it is
// reachable only outbound and may only peer with public cells on the
// backbone.
func (c *Cell) Private() bool {
	return !c.PublicAddress.IsValid()
}

// Particle is a roaming single-host client that dials into a cell. It has
// no network attributes of its own.
type Particle struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Owner string `yaml:"owner"`
}

// DeploymentStrategy selects how the backbone graph is shaped.
type DeploymentStrategy string

const (
	StrategyCrossedRing DeploymentStrategy = "crossed"
	StrategyCircular    DeploymentStrategy = "circular"
	StrategyRandom      DeploymentStrategy = "random"
	StrategyStatic      DeploymentStrategy = "static"
	StrategyFullMesh    DeploymentStrategy = "full-mesh"
)

// TimingProfile selects the family of liveliness/hello/trigger durations
// the rest of the system derives its timers from.
type TimingProfile string

const (
	TimingDefault TimingProfile = "default"
	TimingFast    TimingProfile = "fast"
)

// VPNProfile is the settings shared by the three VPN profiles (root,
// particles, backbone).
type VPNProfile struct {
	Port                  int      `yaml:"port"`
	PeerPort              int      `yaml:"peer_port,omitempty"`
	Subnet                Prefix   `yaml:"subnet"`
	InterfaceNameTemplate string   `yaml:"interface_name_template"`
	AllowedIPs            []Prefix `yaml:"allowed_ips,omitempty"`
	PeerMTU               int      `yaml:"peer_mtu"`
	Masquerade            bool     `yaml:"masquerade"`
	Forward               bool     `yaml:"forward"`
	Tunnel                string   `yaml:"tunnel"`
}

// BackboneProfile extends VPNProfile with the deployment strategy used to
// compute the backbone graph.
type BackboneProfile struct {
	VPNProfile          `yaml:",inline"`
	DeploymentStrategy  DeploymentStrategy `yaml:"deployment_strategy"`
	StrategyArgs        map[string]any     `yaml:"strategy_args,omitempty"`
}

// Settings holds the three VPN profiles plus the feature toggles and
// timing profile that parameterize the whole UVN.
type Settings struct {
	Root       VPNProfile      `yaml:"root_vpn"`
	Particles  VPNProfile      `yaml:"particles_vpn"`
	Backbone   BackboneProfile `yaml:"backbone_vpn"`

	TimingProfile        TimingProfile `yaml:"timing_profile"`
	EnableRootVPN        bool          `yaml:"enable_root_vpn"`
	EnableParticlesVPN   bool          `yaml:"enable_particles_vpn"`
	DDSDomain            int           `yaml:"dds_domain"`
	EnableDDSSecurity    bool          `yaml:"enable_dds_security"`
}

// Timing returns the liveliness lease, hello interval and max trigger delay
// derived from the settings' timing profile.
func (s *Settings) Timing() Timing {
	return timingFor(s.TimingProfile)
}

// UVN is the named, owned root document: membership (cells, particles, and
// their banned/excluded counterparts) plus settings.
type UVN struct {
	Name  string `yaml:"name"`
	Owner string `yaml:"owner"`

	Settings Settings `yaml:"settings"`

	Cells     map[int]*Cell     `yaml:"cells"`
	Particles map[int]*Particle `yaml:"particles"`

	// ExcludedCells/ExcludedParticles hold banned entities keyed by the id
	// they once held; that id is never reused.
	ExcludedCells     map[int]*Cell     `yaml:"excluded_cells,omitempty"`
	ExcludedParticles map[int]*Particle `yaml:"excluded_particles,omitempty"`
}

// New returns an empty UVN with sensible zero-value settings maps
// initialized.
func New(name, owner string) *UVN {
	return &UVN{
		Name:              name,
		Owner:             owner,
		Settings:          DefaultSettings(),
		Cells:             map[int]*Cell{},
		Particles:         map[int]*Particle{},
		ExcludedCells:     map[int]*Cell{},
		ExcludedParticles: map[int]*Particle{},
	}
}

// DefaultSettings returns the settings a freshly defined UVN starts from:
// private, non-overlapping /16s for the root and particles VPNs, the
// backbone pool reserved for cell-to-cell links, and both optional VPNs
// enabled. `uno define uvn` applies these before any flag overrides; `uno
// config uvn` can replace individual fields afterward.
func DefaultSettings() Settings {
	return Settings{
		Root: VPNProfile{
			Port:                  63447,
			Subnet:                mustPrefix("10.250.0.0/16"),
			InterfaceNameTemplate: "uno-root",
			PeerMTU:               1420,
			Masquerade:            true,
			Forward:               true,
			Tunnel:                "wireguard",
		},
		Particles: VPNProfile{
			Port:                  63448,
			Subnet:                mustPrefix("10.251.0.0/16"),
			InterfaceNameTemplate: "uno-particles",
			PeerMTU:               1420,
			Masquerade:            true,
			Forward:               true,
			Tunnel:                "wireguard",
		},
		Backbone: BackboneProfile{
			VPNProfile: VPNProfile{
				Port:                  63449,
				PeerPort:              63450,
				Subnet:                mustPrefix("10.255.192.0/20"),
				InterfaceNameTemplate: "uno-backbone-%d",
				PeerMTU:               1420,
				Forward:               true,
				Tunnel:                "wireguard",
			},
			DeploymentStrategy: StrategyCrossedRing,
		},
		TimingProfile:      TimingDefault,
		EnableRootVPN:      true,
		EnableParticlesVPN: true,
		DDSDomain:          0,
		EnableDDSSecurity:  false,
	}
}

func mustPrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(fmt.Sprintf("uvn: invalid built-in default prefix %q: %v", s, err))
	}
	return p
}

// CellIDs returns the ids of every non-excluded cell, sorted ascending.
func (u *UVN) CellIDs() []int {
	ids := make([]int, 0, len(u.Cells))
	for id := range u.Cells {
		ids = append(ids, id)
	}
	sortInts(ids)
	return ids
}

// ParticleIDs returns the ids of every non-excluded particle, sorted
// ascending.
func (u *UVN) ParticleIDs() []int {
	ids := make([]int, 0, len(u.Particles))
	for id := range u.Particles {
		ids = append(ids, id)
	}
	sortInts(ids)
	return ids
}

// CellByName looks up an active (non-excluded, non-banned) cell by name,
// for CLI verbs that take a name rather than an id.
func (u *UVN) CellByName(name string) (*Cell, bool) {
	for _, c := range u.Cells {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ParticleByName looks up an active particle by name.
func (u *UVN) ParticleByName(name string) (*Particle, bool) {
	for _, p := range u.Particles {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// ExcludedCellByName looks up a banned cell by name, for `unban`.
func (u *UVN) ExcludedCellByName(name string) (*Cell, bool) {
	for _, c := range u.ExcludedCells {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ExcludedParticleByName looks up a banned particle by name, for `unban`.
func (u *UVN) ExcludedParticleByName(name string) (*Particle, bool) {
	for _, p := range u.ExcludedParticles {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

func sortInts(ids []int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (u *UVN) String() string {
	return fmt.Sprintf("uvn(%s, %d cells, %d particles)", u.Name, len(u.Cells), len(u.Particles))
}
