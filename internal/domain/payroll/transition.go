package payroll

import (
	"fmt"
	"strings"
)

type transitionRule struct {
	to    RunStatus
	roles []Role
}

type transitionKey struct {
	from   RunStatus
	action Action
}

// rejected --regenerate--> draft produces a new run; the rejected one stays as history.
var transitions = map[transitionKey]transitionRule{
	{StatusDraft, ActionPublish}:                         {to: StatusUnderReview, roles: []Role{RoleSpecialist}},
	{StatusUnderReview, ActionManagerApprove}:            {to: StatusPendingFinanceApproval, roles: []Role{RoleManager}},
	{StatusUnderReview, ActionReject}:                    {to: StatusRejected, roles: []Role{RoleManager}},
	{StatusPendingFinanceApproval, ActionFinanceApprove}: {to: StatusApproved, roles: []Role{RoleFinance}},
	{StatusPendingFinanceApproval, ActionReject}:         {to: StatusRejected, roles: []Role{RoleFinance}},
	{StatusApproved, ActionLock}:                         {to: StatusLocked, roles: []Role{RoleFinance, RoleSystem}},
	{StatusRejected, ActionRegenerate}:                   {to: StatusDraft, roles: []Role{RoleSpecialist}},
}

// Next returns the status reached when role performs action on a run in status from.
func Next(from RunStatus, action Action, role Role) (RunStatus, error) {
	if from == StatusLocked {
		return "", &RunLockedError{Action: action}
	}
	rule, ok := transitions[transitionKey{from: from, action: action}]
	if !ok {
		return "", &TransitionError{From: from, Action: action, Role: role, Reason: fmt.Sprintf("%s is not allowed from %s", action, from)}
	}
	for _, allowed := range rule.roles {
		if allowed == role {
			return rule.to, nil
		}
	}
	return "", &TransitionError{From: from, Action: action, Role: role, Reason: "requires role " + joinRoles(rule.roles)}
}

// NextRole is the role expected to act on a run in status, empty when none.
func NextRole(status RunStatus) Role {
	switch status {
	case StatusDraft, StatusRejected:
		return RoleSpecialist
	case StatusUnderReview:
		return RoleManager
	case StatusPendingFinanceApproval, StatusApproved:
		return RoleFinance
	default:
		return ""
	}
}

// AllowedActions lists the actions role may take on a run in status.
func AllowedActions(status RunStatus, role Role) []Action {
	var actions []Action
	for _, action := range []Action{ActionPublish, ActionManagerApprove, ActionFinanceApprove, ActionReject, ActionRegenerate, ActionLock} {
		if _, err := Next(status, action, role); err == nil {
			actions = append(actions, action)
		}
	}
	return actions
}

func joinRoles(roles []Role) string {
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, string(role))
	}
	return strings.Join(parts, " or ")
}
