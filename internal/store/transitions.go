package store

import "github.com/lucyheather39-png/que-management/internal/models"

const (
	ActionServe    = "serve"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionServe:    {models.StatusWaiting},
	ActionComplete: {models.StatusServing},
	ActionCancel:   {models.StatusWaiting, models.StatusServing},
}

// citizens may only withdraw before they are called.
var citizenTransitionMap = map[string][]string{
	ActionCancel: {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	return allowed(transitionMap, action, fromStatus)
}

// ValidTransitionFor applies the narrower citizen rules when the actor is not
// an admin. Admin-only actions are never valid for citizens.
func ValidTransitionFor(actor models.Actor, action, fromStatus string) bool {
	if actor.IsAdmin() {
		return ValidTransition(action, fromStatus)
	}
	return allowed(citizenTransitionMap, action, fromStatus)
}

// ActionFor maps a requested target status onto a ledger action.
func ActionFor(targetStatus string) (string, bool) {
	switch targetStatus {
	case models.StatusServing:
		return ActionServe, true
	case models.StatusCompleted:
		return ActionComplete, true
	case models.StatusCancelled:
		return ActionCancel, true
	default:
		return "", false
	}
}

func allowed(table map[string][]string, action, fromStatus string) bool {
	statuses, ok := table[action]
	if !ok {
		return false
	}
	for _, status := range statuses {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// Authorize decides whether actor may apply action to entry in its current
// state. Citizens only see their own entries, so a foreign entry is reported
// as missing rather than forbidden.
func Authorize(actor models.Actor, entry models.Entry, action string) error {
	if !actor.IsAdmin() {
		if action != ActionCancel {
			return ErrAdminOnly
		}
		if entry.HolderKind != models.HolderCitizen || entry.CitizenID == "" || entry.CitizenID != actor.ID {
			return ErrEntryNotFound
		}
	}
	if !ValidTransitionFor(actor, action, entry.Status) {
		return ErrInvalidState
	}
	return nil
}
