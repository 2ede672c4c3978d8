package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (unreadable config, bad values)
	ExitDataError   = 3 // Invalid input or rejected request
	ExitNotFound    = 4 // Class or entity not found
	ExitBackend     = 5 // Backend unreachable or failing
	ExitUnsupported = 6 // Operation not offered by the selected backend
)
