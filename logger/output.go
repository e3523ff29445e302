package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: results, errors with hints
//	1 (-v)      - + Progress, startup info, node connect/disconnect
//	2 (-vv)     - + RPC dispatch, timing, config loaded, HTTP requests
//	3 (-vvv)    - + frame-level traffic, transfer chunk progress
//	4 (-vvvv)   - + SQL queries, full request/response bodies, data dumps

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // RPC results, command output
	OutputErrors                           // Errors with hints and resolution steps
	OutputUserStatus                       // Final success/failure status

	// Level 1 (-v) - Informational
	OutputProgress      // Progress indicators (e.g. transfer chunk counts)
	OutputStartup       // Startup banners, config summary
	OutputNodeStatus     // Node connected/disconnected/reconnected
	OutputOperationInfo // High-level operation summaries

	// Level 2 (-vv) - Detailed
	OutputRPCDispatch  // Dispatched RPC method + callId
	OutputTiming       // Operation timing (e.g. "rpc took 42ms")
	OutputConfig       // Config values loaded/applied
	OutputHTTPRequests // Outgoing HTTP request URLs and methods
	OutputHTTPStatus   // HTTP response status codes
	OutputDBStats      // Database statistics and connection info

	// Level 3 (-vvv) - Debug
	OutputFrameTraffic   // Raw frame send/receive
	OutputTransferChunks // Per-chunk transfer progress
	OutputInternalFlow   // Internal operation flow (function entry/exit)

	// Level 4 (-vvvv) - Full dump
	OutputSQLQueries // Full SQL queries executed
	OutputSQLResults // SQL query result summaries
	OutputHTTPBody   // Full HTTP request/response bodies
	OutputDataDump   // Full data structure contents
)

// categoryLevels maps each output category to its minimum verbosity level
var categoryLevels = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	OutputProgress:      VerbosityInfo,
	OutputStartup:       VerbosityInfo,
	OutputNodeStatus:    VerbosityInfo,
	OutputOperationInfo: VerbosityInfo,

	OutputRPCDispatch:  VerbosityDebug,
	OutputTiming:       VerbosityDebug,
	OutputConfig:       VerbosityDebug,
	OutputHTTPRequests: VerbosityDebug,
	OutputHTTPStatus:   VerbosityDebug,
	OutputDBStats:      VerbosityDebug,

	OutputFrameTraffic:   VerbosityTrace,
	OutputTransferChunks: VerbosityTrace,
	OutputInternalFlow:   VerbosityTrace,

	OutputSQLQueries: VerbosityAll,
	OutputSQLResults: VerbosityAll,
	OutputHTTPBody:   VerbosityAll,
	OutputDataDump:   VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

// categoryNames provides human-readable names for output categories
var categoryNames = map[OutputCategory]string{
	OutputResults:        "results",
	OutputErrors:         "errors",
	OutputUserStatus:     "status",
	OutputProgress:       "progress",
	OutputStartup:        "startup",
	OutputNodeStatus:     "node-status",
	OutputOperationInfo:  "operation-info",
	OutputRPCDispatch:    "rpc-dispatch",
	OutputTiming:         "timing",
	OutputConfig:         "config",
	OutputHTTPRequests:   "http-requests",
	OutputHTTPStatus:     "http-status",
	OutputDBStats:        "db-stats",
	OutputFrameTraffic:   "frame-traffic",
	OutputTransferChunks: "transfer-chunks",
	OutputInternalFlow:   "internal-flow",
	OutputSQLQueries:     "sql-queries",
	OutputSQLResults:     "sql-results",
	OutputHTTPBody:       "http-body",
	OutputDataDump:       "data-dump",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns all output categories enabled at the given verbosity
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// VerbosityDescription returns a description of what's shown at each level
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "results and errors only"
	case VerbosityInfo:
		return "results, errors, progress, node status"
	case VerbosityDebug:
		return "above + RPC dispatch, timing, config"
	case VerbosityTrace:
		return "above + frame traffic, transfer chunks"
	case VerbosityAll:
		return "above + SQL queries, full bodies"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}

// SlowThresholdMS is the threshold in milliseconds above which timing is always shown
const SlowThresholdMS = 100

// ShouldShowTiming returns true if timing info should be displayed.
// Shows if: verbosity >= 2 (-vv) OR operation exceeded slow threshold.
func ShouldShowTiming(verbosity int, durationMS int64) bool {
	if durationMS >= SlowThresholdMS {
		return true
	}
	return ShouldOutput(verbosity, OutputTiming)
}

// ShouldShowTimingAlways returns true if timing should always be shown (slow operation)
func ShouldShowTimingAlways(durationMS int64) bool {
	return durationMS >= SlowThresholdMS
}
