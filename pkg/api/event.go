package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/octodash/dashconf/pkg/dashconfig"
)

// Kind names what an Event reports.
type Kind string

const (
	// KindConfigRead carries the document as currently stored.
	KindConfigRead Kind = "configRead"
	// KindConfigSaved carries the document that was just persisted.
	KindConfigSaved Kind = "configSaved"
	// KindConfigError reports that the document could not be read or written.
	KindConfigError Kind = "configError"
	// KindConfigPass reports that a checked document is valid.
	KindConfigPass Kind = "configPass"
	// KindConfigFail carries the problems found in a checked document.
	KindConfigFail Kind = "configFail"
	// KindUpdateAvailable reports that a newer dashboard release exists.
	KindUpdateAvailable Kind = "updateAvailable"
)

// Event is what the daemon answers requests with and what it pushes on the
// event stream.
type Event struct {
	ID     string             `json:"id"`
	Kind   Kind               `json:"kind"`
	Time   time.Time          `json:"time"`
	Config *dashconfig.Config `json:"config,omitempty"`
	Errors []string           `json:"errors,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// NewEvent returns an Event of the given kind with a fresh ID.
func NewEvent(kind Kind) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		Time: time.Now().UTC(),
	}
}

// ConfigEvent returns a configRead or configSaved event carrying a copy of cfg.
func ConfigEvent(kind Kind, cfg dashconfig.Config) Event {
	ev := NewEvent(kind)
	c := cfg.Clone()
	ev.Config = &c
	return ev
}

// ErrorEvent returns a configError event for err.
func ErrorEvent(err error) Event {
	ev := NewEvent(KindConfigError)
	ev.Error = err.Error()
	return ev
}

// CheckEvent returns configPass when problems is empty and configFail otherwise.
func CheckEvent(problems []string) Event {
	if len(problems) == 0 {
		return NewEvent(KindConfigPass)
	}
	ev := NewEvent(KindConfigFail)
	ev.Errors = append([]string(nil), problems...)
	return ev
}
