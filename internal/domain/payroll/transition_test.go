package payroll

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatusActionTable(t *testing.T) {
	// each review action paired with the only role allowed to take it
	actions := []struct {
		action  Action
		role    Role
		validIn RunStatus
		to      RunStatus
	}{
		{ActionPublish, RoleSpecialist, StatusDraft, StatusUnderReview},
		{ActionManagerApprove, RoleManager, StatusUnderReview, StatusPendingFinanceApproval},
		{ActionFinanceApprove, RoleFinance, StatusPendingFinanceApproval, StatusApproved},
	}

	for _, status := range AllStatuses {
		for _, tc := range actions {
			t.Run(string(status)+"/"+string(tc.action), func(t *testing.T) {
				got, err := Next(status, tc.action, tc.role)
				if status == tc.validIn {
					require.NoError(t, err)
					assert.Equal(t, tc.to, got)
					return
				}
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Empty(t, got)
				if status == StatusLocked {
					assert.ErrorIs(t, err, ErrRunLocked)
				}
			})
		}

		t.Run(string(status)+"/reject", func(t *testing.T) {
			var okCount int
			for _, role := range []Role{RoleManager, RoleFinance} {
				got, err := Next(status, ActionReject, role)
				if err == nil {
					okCount++
					assert.Equal(t, StatusRejected, got)
					continue
				}
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
			switch status {
			case StatusUnderReview, StatusPendingFinanceApproval:
				assert.Equal(t, 1, okCount)
			default:
				assert.Zero(t, okCount)
			}
		})
	}
}

func TestNextRejectRoleFollowsReviewStage(t *testing.T) {
	_, err := Next(StatusUnderReview, ActionReject, RoleFinance)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Next(StatusPendingFinanceApproval, ActionReject, RoleManager)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNextWrongRole(t *testing.T) {
	_, err := Next(StatusDraft, ActionPublish, RoleManager)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusDraft, te.From)
	assert.Contains(t, err.Error(), "requires role specialist")
}

func TestNextLockedRejectsEverything(t *testing.T) {
	for _, action := range []Action{ActionPublish, ActionManagerApprove, ActionFinanceApprove, ActionReject, ActionRegenerate, ActionLock} {
		_, err := Next(StatusLocked, action, RoleFinance)
		var locked *RunLockedError
		assert.True(t, errors.As(err, &locked), string(action))
		assert.ErrorIs(t, err, ErrRunLocked)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestLockAndRegenerate(t *testing.T) {
	got, err := Next(StatusApproved, ActionLock, RoleSystem)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, got)

	got, err = Next(StatusRejected, ActionRegenerate, RoleSpecialist)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got)

	_, err = Next(StatusApproved, ActionLock, RoleManager)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNextRoleAndAllowedActions(t *testing.T) {
	assert.Equal(t, RoleManager, NextRole(StatusUnderReview))
	assert.Equal(t, RoleFinance, NextRole(StatusPendingFinanceApproval))
	assert.Equal(t, Role(""), NextRole(StatusLocked))

	assert.Equal(t, []Action{ActionManagerApprove, ActionReject}, AllowedActions(StatusUnderReview, RoleManager))
	assert.Empty(t, AllowedActions(StatusUnderReview, RoleSpecialist))
	assert.Empty(t, AllowedActions(StatusLocked, RoleFinance))
}

func TestParseRunStatusRejectsUnknown(t *testing.T) {
	_, err := ParseRunStatus("under review")
	assert.Error(t, err)
	status, err := ParseRunStatus("pending_finance_approval")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingFinanceApproval, status)
}
