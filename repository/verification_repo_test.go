package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailprobe/models"
	"mailprobe/verifier"
)

func TestSummarize(t *testing.T) {
	results := []verifier.Result{
		{Address: "a@example.com", Severity: verifier.SeveritySuccess},
		{Address: "b@example.com", Severity: verifier.SeverityDanger},
		{Address: "c@example.com", Severity: verifier.SeverityWarning},
		{Address: "d@example.com", Severity: verifier.SeverityWarning},
	}

	run := summarize(results)

	assert.Equal(t, 1, run.SuccessCount)
	assert.Equal(t, 1, run.DangerCount)
	assert.Equal(t, 2, run.WarningCount)
}

func TestToRecords(t *testing.T) {
	results := []verifier.Result{
		{Address: "a@example.com", Category: verifier.CategoryMailboxExists, Severity: verifier.SeveritySuccess, Symbol: "✅"},
	}

	records := toRecords(7, results)

	assert.Equal(t, []models.VerificationRecord{{
		VerificationRunID: 7,
		Email:             "a@example.com",
		Status:            verifier.CategoryMailboxExists,
		Badge:             "success",
		Icon:              "✅",
	}}, records)
	assert.Empty(t, toRecords(7, nil))
}

func TestElapsed(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	assert.Zero(t, Elapsed(&models.VerificationRun{}, end))
	assert.Equal(t, 90*time.Second, Elapsed(&models.VerificationRun{StartedAt: &start, CompletedAt: &end}, end.Add(time.Hour)))
	assert.Equal(t, 30*time.Second, Elapsed(&models.VerificationRun{StartedAt: &start}, start.Add(30*time.Second)))
}
