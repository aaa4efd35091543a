package controlplane

import (
	"net/netip"
	"time"
)

// UVNSample is written once by the registry and carries the identity every
// other sample is checked against.
type UVNSample struct {
	UVNName    string
	RegistryID string
}

// CellSample is written by each cell and carries the state Peers needs to
// drive its reachability and routed-network events.
type CellSample struct {
	CellID              string
	UVNName             string
	RegistryID          string
	RoutedNetworks      []netip.Prefix
	ReachableNetworks   []netip.Prefix
	UnreachableNetworks []netip.Prefix
	StartTS             time.Time
}

// BackboneSample is written by the registry to deliver a new configuration
// to one target cell. Exactly one of EncryptedConfig or SignedPackage is
// set, matching the "encrypted_config_string | signed_encrypted_package_bytes"
// union.
type BackboneSample struct {
	TargetCellID    string
	UVNName         string
	RegistryID      string
	EncryptedConfig string
	SignedPackage   []byte
}

// IsPackage reports whether this sample carries a full signed bundle rather
// than a bare encrypted config string.
func (b BackboneSample) IsPackage() bool {
	return len(b.SignedPackage) > 0
}
