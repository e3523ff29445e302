package commands

import (
	"fmt"

	"github.com/meshgate/gateway/logger"
	"github.com/meshgate/gateway/version"
)

// printStartupBanner prints the gateway's startup summary.
func printStartupBanner(verbosity int, dbPath string) {
	cyan := "\033[36m"
	green := "\033[32m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%sgatewayd%s\n", cyan, bold, reset)
	fmt.Printf("%s%s┌─ Gateway Info ──────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (%s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:     %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, logger.LevelName(verbosity))
	if dbPath != "" {
		fmt.Printf("%s│%s Database:  %s\n", green, reset, dbPath)
	}
	if verbosity >= logger.VerbosityDebug {
		fmt.Printf("%s│%s Logs:      tmp/gateway-debug.log\n", green, reset)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n\n", green, reset)
}
