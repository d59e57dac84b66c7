// Package logging constructs the hclog.Logger the CLI hands to the
// resolver engine (SPEC_FULL.md §6.7). The engine itself only ever
// depends on the hclog.Logger interface and defaults a nil logger to
// hclog.NewNullLogger(); this package is solely the CLI's entry-point
// wiring, the way hashicorp-nomad's command package builds its root
// logger from a -log-level flag before handing it to the agent.
package logging

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds a leveled logger named "resolve" writing to stderr. An
// unrecognized or empty level string defaults to hclog.Info.
func New(level string) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "resolve",
		Level:  lvl,
		Output: os.Stderr,
	})
}
