package dashconfig

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Clone returns an alias-free deep copy of c.
// Nested structs are copied by value; only slices and pointers need work.
func (c Config) Clone() Config {
	out := c

	if c.Octoprint.URLSplit != nil {
		split := *c.Octoprint.URLSplit
		out.Octoprint.URLSplit = &split
	}

	if c.OctoDash.CustomActions != nil {
		out.OctoDash.CustomActions = make([]CustomAction, len(c.OctoDash.CustomActions))
		copy(out.OctoDash.CustomActions, c.OctoDash.CustomActions)
	}

	return out
}

// nil and empty action lists decode from "null" and "[]" respectively and
// mean the same thing to the dashboard.
var equalOpts = []cmp.Option{cmpopts.EquateEmpty()}

// Equal reports whether a and b describe the same document.
func Equal(a, b Config) bool {
	return cmp.Equal(a, b, equalOpts...)
}

// Diff returns a human-readable diff from a to b, or "" when they are equal.
func Diff(a, b Config) string {
	return cmp.Diff(a, b, equalOpts...)
}
