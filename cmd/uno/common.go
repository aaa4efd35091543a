package main

import (
	"fmt"
	"strconv"
	"time"
)

// statusTimeout bounds how long `uno status` waits in total: one deadline
// covers the control-socket attempt and the status-socket fallback together.
const statusTimeout = 5 * time.Second

// parseID parses a cell/particle id argument for the config subcommands.
func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
