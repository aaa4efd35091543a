// Command uno is the CLI front end for a UVN registry and its cell
// agents: define membership, render and distribute configuration, and run
// the long-lived daemon that actually brings a cell or registry up.
package main

import "os"

func main() {
	os.Exit(int(Run()))
}
