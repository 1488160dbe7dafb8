// Package loglevel filters a go-kit logger from a level name.
package loglevel

import (
	"strings"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// NewLevelFilterFromString returns logger filtered at DEBUG|INFO|WARN|ERROR,
// unknown values default to INFO
func NewLevelFilterFromString(logger log.Logger, ls string) log.Logger {
	switch strings.ToUpper(ls) {
	case "DEBUG":
		return level.NewFilter(logger, level.AllowDebug())
	case "WARN":
		return level.NewFilter(logger, level.AllowWarn())
	case "ERROR":
		return level.NewFilter(logger, level.AllowError())
	default:
		return level.NewFilter(logger, level.AllowInfo())
	}
}
