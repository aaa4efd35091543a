package agent

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// pidFile is a single-writer mutual-exclusion lock backed by an flock'd
// file, guarding the tunnel interfaces, NAT rules, and router child a
// CellAgent owns exclusively for its lifetime (spec §5's shared-resource
// policy). A second agent process pointed at the same path fails to start
// rather than racing the first for the same kernel resources.
type pidFile struct {
	f *os.File
}

// acquirePIDFile opens (creating if necessary) the file at path, takes a
// non-blocking exclusive flock on it, and writes the current pid. The
// flock is released automatically if the holding process dies, so a stale
// pid left over from an unclean shutdown never wedges a later Start.
func acquirePIDFile(path string) (*pidFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("agent: opening pid file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("agent: pid file %s is already locked, another agent is running: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("agent: truncating pid file %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("agent: writing pid file %s: %w", path, err)
	}
	return &pidFile{f: f}, nil
}

// release drops the flock, closes the file, and removes it so a later
// Start doesn't have to reason about stale contents.
func (p *pidFile) release(path string) error {
	if p == nil || p.f == nil {
		return nil
	}
	unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	err := p.f.Close()
	if rmErr := os.Remove(path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
