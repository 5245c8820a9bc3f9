// Package version exposes build information injected at link time.
package version

import "fmt"

// Info holds build metadata.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// String renders the build info on one line.
func (i Info) String() string {
	return fmt.Sprintf("keymaster %s (%s, built %s)", i.Version, i.Commit, i.Date)
}
