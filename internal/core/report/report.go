// Package report builds the human-readable rollback report and its
// prioritized recommendations. Pure string assembly, no I/O.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Report Assembly
// =============================================================================

// Build renders the textual rollback report from a finalized result.
func Build(r *domain.RollbackResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Rollback %s for unit %s\n", r.RollbackID, r.UnitID)
	if r.Success {
		fmt.Fprintf(&b, "Outcome: succeeded after %d attempt(s) in %s\n", r.Attempts, r.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(&b, "Outcome: FAILED after %d attempt(s) in %s\n", r.Attempts, r.Duration.Round(time.Millisecond))
	}

	if r.LastAttempt != nil {
		b.WriteString("Steps (last attempt):\n")
		for _, s := range r.LastAttempt.Steps {
			status := "ok"
			if !s.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "  - %-8s %s (%s)", s.Name, status, s.Duration.Round(time.Millisecond))
			if s.Error != "" {
				fmt.Fprintf(&b, ": %s", s.Error)
			}
			b.WriteString("\n")
		}
	}

	if r.Validation != nil {
		fmt.Fprintf(&b, "Validation: %d check(s) run, validated=%v\n", len(r.Validation.Checked), r.Validation.Validated)
		for _, issue := range r.Validation.Issues {
			fmt.Fprintf(&b, "  - [%s] %s\n", issue.Category, issue.Detail)
		}
	}

	if r.Recovery != nil && len(r.Recovery.Applied) > 0 {
		fmt.Fprintf(&b, "Recovery: %d action(s), %d succeeded, %d failed\n",
			len(r.Recovery.Applied), r.Recovery.Succeeded, r.Recovery.Failed)
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}

	return b.String()
}

// =============================================================================
// Recommendations
// =============================================================================

// recoveryActions maps a validation issue category to its remediation.
var recoveryActions = map[domain.ValidationIssueCategory]string{
	domain.IssueState:         "reload deployment state from the state store",
	domain.IssueConnectivity:  "restart network services",
	domain.IssueFunctionality: "redeploy services",
}

// ActionFor returns the recovery action name for an issue category.
func ActionFor(category domain.ValidationIssueCategory) (string, bool) {
	name, ok := recoveryActions[category]
	return name, ok
}

// Recommendations derives the prioritized follow-up list for a rollback
// result. Hard failures come first, then per-issue remediations, then
// generic hygiene items.
func Recommendations(r *domain.RollbackResult) []string {
	var recs []string

	if !r.Success {
		recs = append(recs, fmt.Sprintf("manual intervention required for unit %s", r.UnitID))
	}

	seen := make(map[domain.ValidationIssueCategory]bool)
	if r.Validation != nil {
		for _, issue := range r.Validation.Issues {
			if seen[issue.Category] {
				continue
			}
			seen[issue.Category] = true
			if action, ok := ActionFor(issue.Category); ok {
				recs = append(recs, action)
			}
		}
	}

	if r.Recovery != nil && r.Recovery.Failed > 0 {
		recs = append(recs, "inspect failed recovery actions before retrying")
	}

	if r.Success && r.Attempts > 1 {
		recs = append(recs, "review step failures from earlier attempts to reduce retry churn")
	}

	return recs
}
