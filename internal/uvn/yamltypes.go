package uvn

import (
	"fmt"
	"net/netip"
)

// Addr wraps netip.Addr so it can round-trip through YAML as plain text
// (yaml.v3 does not consult encoding.TextMarshaler the way encoding/json
// does, so Cell/Settings fields use this wrapper instead of netip.Addr
// directly).
type Addr struct {
	netip.Addr
}

func AddrFrom(a netip.Addr) Addr { return Addr{a} }

func ParseAddr(s string) (Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return Addr{}, err
	}
	return Addr{a}, nil
}

func (a Addr) MarshalYAML() (any, error) {
	if !a.IsValid() {
		return "", nil
	}
	return a.String(), nil
}

func (a *Addr) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		a.Addr = netip.Addr{}
		return nil
	}
	parsed, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("uvn: invalid address %q: %w", s, err)
	}
	a.Addr = parsed
	return nil
}

// Prefix wraps netip.Prefix for the same reason as Addr.
type Prefix struct {
	netip.Prefix
}

func PrefixFrom(p netip.Prefix) Prefix { return Prefix{p} }

func ParsePrefix(s string) (Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Prefix{}, err
	}
	return Prefix{p}, nil
}

func (p Prefix) MarshalYAML() (any, error) {
	if !p.IsValid() {
		return "", nil
	}
	return p.String(), nil
}

func (p *Prefix) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		p.Prefix = netip.Prefix{}
		return nil
	}
	parsed, err := netip.ParsePrefix(s)
	if err != nil {
		return fmt.Errorf("uvn: invalid prefix %q: %w", s, err)
	}
	p.Prefix = parsed
	return nil
}
