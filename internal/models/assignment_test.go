package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []AssignmentStatus{
	AssignmentAssigned,
	AssignmentInProgress,
	AssignmentPendingVerification,
	AssignmentApprovedByBuyer,
	AssignmentApprovedByAI,
	AssignmentRejectedByBuyer,
	AssignmentRejectedByAI,
	AssignmentAIReverified,
	AssignmentFlaggedForReuse,
}

func TestCanTransition(t *testing.T) {
	legal := map[AssignmentStatus][]AssignmentStatus{
		AssignmentAssigned:            {AssignmentInProgress},
		AssignmentInProgress:          {AssignmentPendingVerification, AssignmentFlaggedForReuse},
		AssignmentPendingVerification: {AssignmentApprovedByBuyer, AssignmentRejectedByBuyer, AssignmentApprovedByAI, AssignmentRejectedByAI},
		AssignmentRejectedByBuyer:     {AssignmentAIReverified, AssignmentRejectedByAI},
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, next := range legal[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   AssignmentStatus
		active   bool
		terminal bool
		credited bool
	}{
		{AssignmentAssigned, true, false, false},
		{AssignmentInProgress, true, false, false},
		{AssignmentPendingVerification, true, false, false},
		{AssignmentApprovedByBuyer, false, true, true},
		{AssignmentApprovedByAI, false, true, true},
		{AssignmentRejectedByBuyer, false, false, false},
		{AssignmentRejectedByAI, false, true, false},
		{AssignmentAIReverified, false, true, true},
		{AssignmentFlaggedForReuse, false, true, false},
	}
	assert.Len(t, tests, len(allStatuses))
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.credited, tt.status.IsCredited())
		})
	}
}

func TestApply_ResetsAIBookkeepingOnNewReviewStage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := at.Add(time.Hour)
	msg := "timeout"
	a := &Assignment{Status: AssignmentPendingVerification, AIAttempts: 2, NextAIAttemptAt: &next, LastAIError: &msg}

	TransitionParams{From: AssignmentPendingVerification, To: AssignmentRejectedByBuyer, At: at}.Apply(a)

	assert.Equal(t, AssignmentRejectedByBuyer, a.Status)
	assert.Zero(t, a.AIAttempts)
	assert.Nil(t, a.NextAIAttemptAt)
	assert.Nil(t, a.LastAIError)
	assert.Equal(t, at, *a.VerifiedAt)

	reverify, ok := a.ReverifyAt(24 * time.Hour)
	assert.True(t, ok)
	assert.Equal(t, at.Add(24*time.Hour), reverify)
}
