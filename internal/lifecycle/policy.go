package lifecycle

import (
	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
)

// Action is a lifecycle operation subject to authorisation.
type Action string

const (
	ActionCreate   Action = "create"
	ActionAssign   Action = "assign"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
)

// Authorise is the single policy gate for lifecycle transitions. Role checks
// live here, not in HTTP handlers, so every entry point enforces the same
// rules. Returns a FORBIDDEN error naming the violated rule, or nil.
func Authorise(p auth.Principal, action Action, inc *models.Incident) error {
	if p.Role == auth.RoleSystem {
		return nil
	}

	switch action {
	case ActionCreate:
		switch p.Role {
		case auth.RoleAdmin, auth.RoleResponder, auth.RoleWebhook:
			return nil
		}
		return deny(p, "create-requires-write-role")

	case ActionAssign:
		if p.Role == auth.RoleAdmin {
			return nil
		}
		return deny(p, "assign-requires-admin")

	case ActionAccept, ActionReject, ActionComplete:
		if p.Role != auth.RoleResponder {
			return deny(p, "transition-requires-responder")
		}
		if inc == nil || inc.AssignedStaffID == "" || inc.AssignedStaffID != p.Subject {
			return deny(p, "transition-requires-assigned-staff")
		}
		return nil

	case ActionCancel, ActionDelete:
		if p.Role == auth.RoleAdmin {
			return nil
		}
		return deny(p, string(action)+"-requires-admin")

	case ActionUpdate:
		switch p.Role {
		case auth.RoleAdmin, auth.RoleResponder:
			return nil
		}
		return deny(p, "update-requires-write-role")
	}
	return deny(p, "unknown-action")
}

func deny(p auth.Principal, rule string) error {
	return apperr.New(apperr.KindForbidden, "%s denied by rule %s", p.String(), rule)
}
