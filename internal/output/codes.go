// Package output provides JSON/Markdown/styled output formatting and error handling.
package output

// Exit codes.
const (
	ExitOK       = 0 // Success
	ExitUsage    = 1 // Invalid arguments or flags
	ExitNotFound = 2 // Center not found
	ExitConfig   = 3 // Configuration or center registry invalid
	ExitNetwork  = 6 // Local listener or connection error
	ExitInternal = 7 // Anything else
)

// Error codes for JSON envelope.
const (
	CodeUsage    = "usage"
	CodeNotFound = "not_found"
	CodeConfig   = "config"
	CodeNetwork  = "network"
	CodeInternal = "internal"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeConfig:
		return ExitConfig
	case CodeNetwork:
		return ExitNetwork
	default:
		return ExitInternal
	}
}
