package models

import "strings"

// Tier is the priority level of an entry. Lower values are served first.
type Tier int

const (
	TierSenior  Tier = 1
	TierPWD     Tier = 2
	TierRegular Tier = 3
)

// Citizen classifications as issued by the registration subsystem.
const (
	ClassSenior  = "senior"
	ClassPWD     = "pwd"
	ClassRegular = "regular"
)

// TierOf maps a citizen classification to its priority tier. Unknown
// classifications are treated as regular.
func TierOf(classification string) Tier {
	switch strings.ToLower(strings.TrimSpace(classification)) {
	case ClassSenior:
		return TierSenior
	case ClassPWD:
		return TierPWD
	default:
		return TierRegular
	}
}

func (t Tier) Valid() bool {
	return t >= TierSenior && t <= TierRegular
}

func (t Tier) Label() string {
	switch t {
	case TierSenior:
		return "Senior Citizen"
	case TierPWD:
		return "PWD"
	default:
		return "Regular"
	}
}
