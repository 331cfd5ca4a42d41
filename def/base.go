package def

import (
	"os"
)

/*
	Return the home-base path prefix that this process will cram ALL state under.

	Usually it's `"/var/lib/rill"`, but it can be overriden by the `RILL_BASE`
	environment variable.  (The test system uses this to pick a single prefix
	to invoke a group of package tests to run together on the same state,
	while making certain nothing survives to interfere between runs.)
*/
func Base() string {
	base := os.Getenv("RILL_BASE")
	if base == "" {
		base = "/var/lib/rill"
	}
	os.MkdirAll(base, 0755)
	return base
}
