package uvn

import "fmt"

// ValidationError reports a configuration-kind error identifying the
// offending entities, matching spec §7: configuration errors are rejected
// at the registry and never produced past this point.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Validate checks every membership invariant from spec §3: unique names
// across cells+particles, non-overlapping allowed_lans, no two cells
// sharing a public address.
func (u *UVN) Validate() error {
	names := map[string]string{} // name -> "cell <id>" | "particle <id>"
	for _, id := range u.CellIDs() {
		c := u.Cells[id]
		if prev, ok := names[c.Name]; ok {
			return configErrorf("duplicate name %q: cell %d conflicts with %s", c.Name, c.ID, prev)
		}
		names[c.Name] = fmt.Sprintf("cell %d", c.ID)
	}
	for _, id := range u.ParticleIDs() {
		p := u.Particles[id]
		if prev, ok := names[p.Name]; ok {
			return configErrorf("duplicate name %q: particle %d conflicts with %s", p.Name, p.ID, prev)
		}
		names[p.Name] = fmt.Sprintf("particle %d", p.ID)
	}

	if err := u.validateAllowedLANs(); err != nil {
		return err
	}
	if err := u.validatePublicAddresses(); err != nil {
		return err
	}
	return nil
}

func (u *UVN) validateAllowedLANs() error {
	ids := u.CellIDs()
	for i, aID := range ids {
		a := u.Cells[aID]
		for _, bID := range ids[i+1:] {
			b := u.Cells[bID]
			for _, an := range a.AllowedLANs {
				for _, bn := range b.AllowedLANs {
					if overlaps(an, bn) {
						return configErrorf(
							"overlapping allowed_lans: cell %q (%s) and cell %q (%s)",
							a.Name, an, b.Name, bn)
					}
				}
			}
		}
	}
	return nil
}

func (u *UVN) validatePublicAddresses() error {
	ids := u.CellIDs()
	seen := map[string]string{}
	for _, id := range ids {
		c := u.Cells[id]
		if c.Private() {
			continue
		}
		addr := c.PublicAddress.String()
		if prev, ok := seen[addr]; ok {
			return configErrorf("duplicate public_address %s: cell %q conflicts with cell %q", addr, c.Name, prev)
		}
		seen[addr] = c.Name
	}
	return nil
}
