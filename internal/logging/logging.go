// Package logging builds the console's hclog root logger.
package logging

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// New returns the root logger. Component packages derive named sub-loggers
// from it via Named.
func New(level, format string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "console",
		Level:      hclog.LevelFromString(level),
		Output:     os.Stderr,
		JSONFormat: strings.EqualFold(format, "json"),
	})
}
