package drift

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatCLI formats a report for terminal output.
func FormatCLI(report Report) string {
	if !report.HasDrift {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Session state changed:\n")

	if report.CwdChanged() {
		sb.WriteString(fmt.Sprintf("  cd %s → %s\n", report.CwdBefore, report.CwdAfter))
	}

	for _, change := range report.Changes {
		switch change.Type {
		case Added:
			sb.WriteString(fmt.Sprintf("  + %s: (new) → %s\n", change.Key, change.After))
		case Removed:
			sb.WriteString(fmt.Sprintf("  - %s: %s → (removed)\n", change.Key, change.Before))
		case Changed:
			sb.WriteString(fmt.Sprintf("  ~ %s: %s → %s\n", change.Key, change.Before, change.After))
		}
	}

	return sb.String()
}

// FormatJSON formats a report as JSON.
func FormatJSON(report Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
