package socket

import (
	"strings"

	"github.com/mitchellh/go-ps"
)

var _ ProcessChecker = (*DefaultProcessChecker)(nil)

// ProcessChecker reports whether a process is running.
type ProcessChecker interface {
	IsRunning(name string) bool
}

// DefaultProcessChecker scans the process table with go-ps.
type DefaultProcessChecker struct{}

// IsRunning reports whether any process executable starts with name,
// ignoring case. Truncated names in the process table still match.
func (pc *DefaultProcessChecker) IsRunning(name string) bool {
	procs, err := ps.Processes()
	if err != nil {
		return false
	}

	name = strings.ToLower(name)
	for _, proc := range procs {
		if strings.HasPrefix(strings.ToLower(proc.Executable()), name) {
			return true
		}
	}
	return false
}
