package registry

import (
	"archive/tar"
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/deployment"
	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/uvn"
	"github.com/mentalsmash/uno/internal/vpnconfig"
)

const (
	bundleConfigEntry = "agent.yml.enc"
	bundleCertEntry   = "id/cert.pem"
	bundleKeyEntry    = "id/key.pem"
	bundlePermsEntry  = "id/permissions.yml"
)

// AgentLink is one backbone edge from the perspective of the cell an
// AgentConfig is built for: enough for the agent to render its own side
// of the tunnel without recomputing the deployment itself.
type AgentLink struct {
	PeerCellID int    `yaml:"peer_cell_id"`
	LocalAddr  string `yaml:"local_addr"`
	RemoteAddr string `yaml:"remote_addr"`
	LinkSubnet string `yaml:"link_subnet"`
	PortIndex  int    `yaml:"port_index"`
}

// AgentConfig is the YAML document a cell's bundle carries: the whole UVN
// document (so the agent can validate membership invariants locally), the
// subset of the deployment relevant to this one cell, and the rendered
// tunnel configs the agent needs to actually bring its interfaces up
// without recomputing any of the registry's deployment or key-material
// logic itself.
type AgentConfig struct {
	RegistryID  string                  `yaml:"registry_id"`
	GeneratedAt time.Time               `yaml:"generated_at"`
	CellID      int                     `yaml:"cell_id"`
	UVN         *uvn.UVN                `yaml:"uvn"`
	Links       []AgentLink             `yaml:"links"`
	RootVPN     *vpnconfig.TunnelConfig `yaml:"root_vpn,omitempty"`
	Backbone    []vpnconfig.EdgeTunnel  `yaml:"backbone,omitempty"`
}

// Bundle is a `.uvn-agent` package: a zstd-compressed tar archive carrying
// a cell's encrypted agent config plus its exported identity material,
// per spec §6's bundle format (xz substituted by zstd, see DESIGN.md).
type Bundle struct {
	CellID  int
	Archive []byte
}

func (r *Registry) regenerateCellBundles(id ID) error {
	if r.art.Bundles == nil {
		r.art.Bundles = map[int]*Bundle{}
	}
	dep := r.art.Deployment

	for cellID, c := range r.doc.Cells {
		cfg := AgentConfig{
			RegistryID:  id.String(),
			GeneratedAt: time.Now(),
			CellID:      cellID,
			UVN:         r.doc,
			Links:       agentLinks(dep, cellID),
			Backbone:    r.art.BackboneEdges[cellID],
		}
		if r.doc.Settings.EnableRootVPN {
			if tc, ok := r.art.RootPeers[cellID]; ok {
				cfg.RootVPN = &tc
			}
		}

		pc, err := r.keys.AssertPeer(r.doc.Name, c.Name,
			[]string{controlplane.TopicCell},
			[]string{controlplane.TopicUVN, controlplane.TopicBackbone})
		if err != nil {
			return fmt.Errorf("registry: asserting identity for cell %q: %w", c.Name, err)
		}

		bundle, err := buildBundle(cellID, cfg, pc)
		if err != nil {
			return fmt.Errorf("registry: building bundle for cell %q: %w", c.Name, err)
		}
		r.art.Bundles[cellID] = bundle

		if r.backboneWriter != nil {
			if err := r.backboneWriter.Write(controlplane.BackboneSample{
				TargetCellID:  c.Name,
				UVNName:       r.doc.Name,
				RegistryID:    id.String(),
				SignedPackage: bundle.Archive,
			}); err != nil {
				return fmt.Errorf("registry: publishing bundle for cell %q: %w", c.Name, err)
			}
		}
	}

	// Drop bundles for cells no longer present, mirroring PurgeGonePeers'
	// "additive assert, explicit purge" shape used by the VPN key stores.
	for id := range r.art.Bundles {
		if _, ok := r.doc.Cells[id]; !ok {
			delete(r.art.Bundles, id)
		}
	}
	return nil
}

func (r *Registry) regenerateParticleConfigs() error {
	if r.doc.Settings.EnableParticlesVPN && r.art.ParticlesVPN != nil {
		r.art.ParticleConfigs = r.art.ParticlesCfg
		return nil
	}
	r.art.ParticleConfigs = map[int]vpnconfig.TunnelConfig{}
	return nil
}

func agentLinks(dep *deployment.Deployment, cellID int) []AgentLink {
	if dep == nil {
		return nil
	}
	slot := dep.Peer(cellID)
	if slot == nil {
		return nil
	}
	links := make([]AgentLink, 0, len(slot.Peers))
	for peerID, link := range slot.Peers {
		links = append(links, AgentLink{
			PeerCellID: peerID,
			LocalAddr:  link.LocalAddr.String(),
			RemoteAddr: link.RemoteAddr.String(),
			LinkSubnet: link.LinkSubnet.String(),
			PortIndex:  link.PortIndex,
		})
	}
	return links
}

// buildBundle renders cfg as YAML, encrypts it to pc's certificate, and
// tars the envelope alongside pc's exported identity material, then
// compresses the archive with zstd.
func buildBundle(cellID int, cfg AgentConfig, pc *keymaterial.PeerCert) (*Bundle, error) {
	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding agent config: %w", err)
	}

	env, err := keymaterial.EncryptFile(pc.Cert, cfgYAML)
	if err != nil {
		return nil, fmt.Errorf("encrypting agent config: %w", err)
	}
	encBlob, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	certPEM, keyPEM, err := encodeIdentity(pc)
	if err != nil {
		return nil, err
	}
	permsYAML, err := yaml.Marshal(pc.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encoding permissions document: %w", err)
	}

	archive, err := tarZstd(map[string][]byte{
		bundleConfigEntry: encBlob,
		bundleCertEntry:   certPEM,
		bundleKeyEntry:    keyPEM,
		bundlePermsEntry:  permsYAML,
	})
	if err != nil {
		return nil, err
	}
	return &Bundle{CellID: cellID, Archive: archive}, nil
}

// OpenBundle reverses buildBundle: it untars and decompresses archive,
// parses the exported identity and permissions document, and decrypts the
// agent config envelope with the identity's own private key. A cell calls
// this exactly once per full-package BackboneSample, since a package
// carries a newly issued identity (rekey forks every peer's cert, not
// just the one targeted) that supersedes whatever the cell held before.
func OpenBundle(archive []byte) (*AgentConfig, *keymaterial.PeerCert, error) {
	files, err := untarZstd(archive)
	if err != nil {
		return nil, nil, err
	}

	certPEM, ok := files[bundleCertEntry]
	if !ok {
		return nil, nil, fmt.Errorf("registry: bundle missing %s", bundleCertEntry)
	}
	keyPEM, ok := files[bundleKeyEntry]
	if !ok {
		return nil, nil, fmt.Errorf("registry: bundle missing %s", bundleKeyEntry)
	}
	cert, key, err := decodeIdentity(certPEM, keyPEM)
	if err != nil {
		return nil, nil, err
	}

	permsYAML, ok := files[bundlePermsEntry]
	if !ok {
		return nil, nil, fmt.Errorf("registry: bundle missing %s", bundlePermsEntry)
	}
	var perms keymaterial.PermissionsDocument
	if err := yaml.Unmarshal(permsYAML, &perms); err != nil {
		return nil, nil, fmt.Errorf("registry: decoding permissions document: %w", err)
	}

	encBlob, ok := files[bundleConfigEntry]
	if !ok {
		return nil, nil, fmt.Errorf("registry: bundle missing %s", bundleConfigEntry)
	}
	cfg, err := decryptConfig(encBlob, key)
	if err != nil {
		return nil, nil, err
	}

	pc := &keymaterial.PeerCert{
		PeerName:    perms.PeerName,
		Key:         key,
		Cert:        cert,
		Permissions: &perms,
	}
	return cfg, pc, nil
}

// DecryptConfig decrypts the bare encrypted string carried by a
// BackboneSample that isn't a full package, using a cell's already-held
// identity key. It's the path taken when a reload only changes the
// document or deployment, not key material.
func DecryptConfig(encryptedConfig string, key *ecdsa.PrivateKey) (*AgentConfig, error) {
	return decryptConfig([]byte(encryptedConfig), key)
}

func decryptConfig(encBlob []byte, key *ecdsa.PrivateKey) (*AgentConfig, error) {
	var env keymaterial.Envelope
	if err := yaml.Unmarshal(encBlob, &env); err != nil {
		return nil, fmt.Errorf("registry: decoding agent config envelope: %w", err)
	}
	cfgYAML, err := keymaterial.DecryptFile(key, &env)
	if err != nil {
		return nil, fmt.Errorf("registry: decrypting agent config: %w", err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(cfgYAML, &cfg); err != nil {
		return nil, fmt.Errorf("registry: decoding agent config: %w", err)
	}
	return &cfg, nil
}

func decodeIdentity(certPEM, keyPEM []byte) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("registry: decoding identity certificate: no PEM block found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: parsing identity certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("registry: decoding identity key: no PEM block found")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: parsing identity key: %w", err)
	}
	return cert, key, nil
}

// untarZstd reverses tarZstd, reading a zstd-compressed tar archive back
// into a name -> content map.
func untarZstd(archive []byte) (map[string][]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("registry: creating zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	files := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry: reading tar entry: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("registry: reading tar entry %s: %w", hdr.Name, err)
		}
		files[hdr.Name] = data
	}
	return files, nil
}

func encodeIdentity(pc *keymaterial.PeerCert) (certPEM, keyPEM []byte, err error) {
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: pc.Cert.Raw})

	der, err := x509.MarshalECPrivateKey(pc.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling identity key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	return certPEM, keyPEM, nil
}

// tarZstd writes files (name -> content) into a tar archive, in
// lexical-name order for reproducibility, and compresses the result with
// zstd, the closest streaming compressor to the original's xz available
// anywhere in this module's dependency set.
func tarZstd(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	now := time.Now()
	for _, name := range names {
		data := files[name]
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o600,
			Size:    int64(len(data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("writing tar entry %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar archive: %w", err)
	}

	var zstdBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstdBuf)
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, &tarBuf); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("compressing bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd writer: %w", err)
	}
	return zstdBuf.Bytes(), nil
}
