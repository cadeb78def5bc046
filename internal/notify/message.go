package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/coderaid/partysync/internal/prefetch"
)

// maxListedErrors caps how many task errors a failure message lists.
const maxListedErrors = 3

// FormatSuccessMessage creates a success notification body.
func FormatSuccessMessage(result *prefetch.BatchResult, duration time.Duration) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Parties: %d\n", result.Total)
	fmt.Fprintf(&sb, "Synced: %d\n", result.Synced)
	fmt.Fprintf(&sb, "Empty: %d\n", result.Empty)
	if result.RateLimited > 0 {
		fmt.Fprintf(&sb, "Rate limited: %d\n", result.RateLimited)
	}
	fmt.Fprintf(&sb, "Events: %d\n", result.Events)
	fmt.Fprintf(&sb, "Duration: %s", duration.Round(time.Second))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body.
func FormatFailureMessage(result *prefetch.BatchResult, duration time.Duration, err error) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Parties: %d\n", result.Total)
	fmt.Fprintf(&sb, "Synced: %d\n", result.Synced)
	fmt.Fprintf(&sb, "Failed: %d\n", result.Failed)
	fmt.Fprintf(&sb, "Rate limited: %d\n", result.RateLimited)
	fmt.Fprintf(&sb, "Duration: %s", duration.Round(time.Second))

	if err != nil {
		fmt.Fprintf(&sb, "\n\nError: %v", err)
	}

	if len(result.Errors) > 0 {
		sb.WriteString("\n\nErrors:\n")
		for _, e := range result.Errors[:min(maxListedErrors, len(result.Errors))] {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
		if len(result.Errors) > maxListedErrors {
			fmt.Fprintf(&sb, "... and %d more errors", len(result.Errors)-maxListedErrors)
		}
	}

	return sb.String()
}
