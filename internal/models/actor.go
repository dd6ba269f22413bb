package models

const (
	RoleCitizen = "citizen"
	RoleAdmin   = "admin"
)

// Actor is whoever triggers a ledger operation. Citizens carry their
// classification so the ledger can derive a tier without a profile lookup.
type Actor struct {
	ID             string
	Name           string
	Role           string
	Classification string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsCitizen() bool {
	return a.Role == RoleCitizen && a.ID != ""
}
