package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

func TestBuild_SuccessfulRollback(t *testing.T) {
	r := &domain.RollbackResult{
		RollbackID: "rb-1",
		UnitID:     "api",
		Success:    true,
		Attempts:   2,
		Duration:   1500 * time.Millisecond,
		LastAttempt: &domain.RollbackAttempt{
			Number: 2,
			Steps: []domain.StepResult{
				{Name: "backup", Success: true, Duration: 100 * time.Millisecond},
				{Name: "restore", Success: true, Duration: 400 * time.Millisecond},
			},
		},
		Validation: &domain.ValidationOutcome{
			Checked:   []domain.ValidationCheck{domain.CheckState},
			Validated: true,
		},
	}

	out := Build(r)
	assert.Contains(t, out, "Rollback rb-1 for unit api")
	assert.Contains(t, out, "succeeded after 2 attempt(s)")
	assert.Contains(t, out, "backup")
	assert.Contains(t, out, "validated=true")
}

func TestBuild_FailedRollbackWithIssuesAndWarnings(t *testing.T) {
	r := &domain.RollbackResult{
		RollbackID: "rb-2",
		UnitID:     "web",
		Success:    false,
		Attempts:   3,
		Validation: &domain.ValidationOutcome{
			Checked: []domain.ValidationCheck{domain.CheckConnectivity},
			Issues: []domain.ValidationIssue{
				{Category: domain.IssueConnectivity, Detail: "target unreachable"},
			},
		},
		Recovery: &domain.RecoveryOutcome{
			Applied:   []domain.RecoveryAction{{Category: domain.IssueConnectivity}},
			Succeeded: 0,
			Failed:    1,
		},
		Warnings: []string{"deployment state older than 24h"},
	}

	out := Build(r)
	assert.Contains(t, out, "FAILED after 3 attempt(s)")
	assert.Contains(t, out, "target unreachable")
	assert.Contains(t, out, "Recovery: 1 action(s), 0 succeeded, 1 failed")
	assert.Contains(t, out, "Warning: deployment state older than 24h")
}

func TestActionFor(t *testing.T) {
	action, ok := ActionFor(domain.IssueState)
	require.True(t, ok)
	assert.Equal(t, "reload deployment state from the state store", action)

	action, ok = ActionFor(domain.IssueConnectivity)
	require.True(t, ok)
	assert.Equal(t, "restart network services", action)

	action, ok = ActionFor(domain.IssueFunctionality)
	require.True(t, ok)
	assert.Equal(t, "redeploy services", action)

	_, ok = ActionFor(domain.ValidationIssueCategory("unknown"))
	assert.False(t, ok)
}

func TestRecommendations_FailurePutsManualInterventionFirst(t *testing.T) {
	r := &domain.RollbackResult{
		UnitID:  "db",
		Success: false,
		Validation: &domain.ValidationOutcome{
			Issues: []domain.ValidationIssue{
				{Category: domain.IssueFunctionality, Detail: "suite failed"},
				{Category: domain.IssueFunctionality, Detail: "suite failed again"},
			},
		},
	}

	recs := Recommendations(r)
	require.NotEmpty(t, recs)
	assert.Equal(t, "manual intervention required for unit db", recs[0])
	// Duplicate categories collapse to a single remediation.
	assert.Equal(t, []string{
		"manual intervention required for unit db",
		"redeploy services",
	}, recs)
}

func TestRecommendations_SuccessAfterRetries(t *testing.T) {
	r := &domain.RollbackResult{UnitID: "api", Success: true, Attempts: 3}

	recs := Recommendations(r)
	assert.Equal(t, []string{"review step failures from earlier attempts to reduce retry churn"}, recs)
}

func TestRecommendations_CleanFirstAttempt(t *testing.T) {
	r := &domain.RollbackResult{UnitID: "api", Success: true, Attempts: 1}
	assert.Empty(t, Recommendations(r))
}
