package workerrpc

import "strings"

// IsNotInitialized reports whether err came back from a worker that
// hasn't completed /start yet. Interrupt and a few other actions are
// unrecoverable against such a worker — callers must leave local state
// untouched rather than treat it as a generic failure.
func IsNotInitialized(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "not initialized")
}
