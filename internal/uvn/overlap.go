package uvn

// overlaps reports whether two IPv4 prefixes share any address.
func overlaps(a, b Prefix) bool {
	ap, bp := a.Masked(), b.Masked()
	if ap.Bits() <= bp.Bits() {
		return ap.Contains(bp.Addr())
	}
	return bp.Contains(ap.Addr())
}
