package drift

import (
	"sort"
)

// ChangeType represents the kind of environment change.
type ChangeType string

const (
	Added   ChangeType = "added"   // Key in after but not before
	Removed ChangeType = "removed" // Key in before but not after
	Changed ChangeType = "changed" // Key in both with different values
)

// Volatile keys are rewritten by every shell invocation and never count as drift.
var Volatile = map[string]bool{
	"_":      true,
	"SHLVL":  true,
	"PWD":    true,
	"OLDPWD": true,
}

// KeyDrift represents a single key's change.
type KeyDrift struct {
	Key    string     `json:"key"`
	Type   ChangeType `json:"type"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

// Report contains the full environment comparison.
type Report struct {
	HasDrift  bool       `json:"hasDrift"`
	CwdBefore string     `json:"cwdBefore,omitempty"`
	CwdAfter  string     `json:"cwdAfter,omitempty"`
	Changes   []KeyDrift `json:"changes"`
}

// CwdChanged reports whether the working directory moved.
func (r Report) CwdChanged() bool {
	return r.CwdAfter != "" && r.CwdBefore != r.CwdAfter
}

// Detect compares two environments and returns the changes, sorted by key.
// Volatile keys are ignored.
func Detect(before, after map[string]string) Report {
	report := Report{Changes: []KeyDrift{}}

	allKeys := make(map[string]bool)
	for k := range before {
		allKeys[k] = true
	}
	for k := range after {
		allKeys[k] = true
	}

	keys := make([]string, 0, len(allKeys))
	for k := range allKeys {
		if Volatile[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		beforeVal, inBefore := before[key]
		afterVal, inAfter := after[key]

		if inBefore && !inAfter {
			report.Changes = append(report.Changes, KeyDrift{
				Key:    key,
				Type:   Removed,
				Before: beforeVal,
			})
		} else if !inBefore && inAfter {
			report.Changes = append(report.Changes, KeyDrift{
				Key:   key,
				Type:  Added,
				After: afterVal,
			})
		} else if beforeVal != afterVal {
			report.Changes = append(report.Changes, KeyDrift{
				Key:    key,
				Type:   Changed,
				Before: beforeVal,
				After:  afterVal,
			})
		}
	}

	report.HasDrift = len(report.Changes) > 0
	return report
}

// DetectState compares environments and working directories together.
func DetectState(cwdBefore string, before map[string]string, cwdAfter string, after map[string]string) Report {
	report := Detect(before, after)
	report.CwdBefore = cwdBefore
	report.CwdAfter = cwdAfter
	if report.CwdChanged() {
		report.HasDrift = true
	}
	return report
}

// Apply mutates env in place so that it reflects every change in report.
func Apply(env map[string]string, report Report) {
	for _, c := range report.Changes {
		switch c.Type {
		case Added, Changed:
			env[c.Key] = c.After
		case Removed:
			delete(env, c.Key)
		}
	}
}
