package drift

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestReportFormatting: every rendering carries the key and both values.
func TestReportFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("CLI format contains key names and values", prop.ForAll(
		func(key, oldVal, newVal string) bool {
			report := Report{
				HasDrift: true,
				Changes: []KeyDrift{
					{Key: key, Type: Changed, Before: oldVal, After: newVal},
				},
			}
			output := FormatCLI(report)
			return strings.Contains(output, key) &&
				strings.Contains(output, oldVal) &&
				strings.Contains(output, newVal)
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("JSON format round-trips", prop.ForAll(
		func(key, val string) bool {
			report := Report{
				HasDrift: true,
				Changes:  []KeyDrift{{Key: key, Type: Added, After: val}},
			}
			output, err := FormatJSON(report)
			if err != nil {
				return false
			}
			var decoded Report
			if err := json.Unmarshal([]byte(output), &decoded); err != nil {
				return false
			}
			return decoded.HasDrift && len(decoded.Changes) == 1 &&
				decoded.Changes[0].Key == key && decoded.Changes[0].After == val
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestFormatCLI_NoDrift(t *testing.T) {
	if out := FormatCLI(Report{}); out != "" {
		t.Errorf("FormatCLI = %q, want empty", out)
	}
}

func TestFormatCLI_AllChangeTypes(t *testing.T) {
	report := Report{
		HasDrift:  true,
		CwdBefore: "/a",
		CwdAfter:  "/b",
		Changes: []KeyDrift{
			{Key: "NEW", Type: Added, After: "1"},
			{Key: "OLD", Type: Removed, Before: "2"},
			{Key: "MOD", Type: Changed, Before: "3", After: "4"},
		},
	}
	out := FormatCLI(report)
	for _, want := range []string{"cd /a → /b", "+ NEW", "- OLD", "~ MOD: 3 → 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
