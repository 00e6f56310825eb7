package core

import "fmt"

// AuthorityType identifies who (or what) is acting. Types carry a fixed
// numeric level used for minimum-authority checks on incident transitions
// and kill-switch writes.
type AuthorityType string

const (
	AuthorityAutoEngine        AuthorityType = "AUTO_ENGINE"
	AuthorityHumanOperator     AuthorityType = "HUMAN_OPERATOR"
	AuthorityOnCallSRE         AuthorityType = "ON_CALL_SRE"
	AuthorityEmergencyOverride AuthorityType = "EMERGENCY_OVERRIDE"
)

// Level returns the ordering value for authority comparison. Unknown types
// return -1 and therefore never satisfy any requirement.
func (a AuthorityType) Level() int {
	switch a {
	case AuthorityAutoEngine:
		return 0
	case AuthorityHumanOperator:
		return 1
	case AuthorityOnCallSRE:
		return 2
	case AuthorityEmergencyOverride:
		return 999
	default:
		return -1
	}
}

func (a AuthorityType) Valid() bool { return a.Level() >= 0 }

// Authority is the acting identity attached to every mutation: a type with
// a fixed ordering plus the concrete principal (ARN, user id, or "SYSTEM"
// for scheduler-originated work).
type Authority struct {
	Type      AuthorityType `json:"type"`
	Principal string        `json:"principal"`
}

// Satisfies reports whether this authority meets the required minimum.
// EMERGENCY_OVERRIDE (level 999) satisfies every requirement.
func (a Authority) Satisfies(required AuthorityType) bool {
	return a.Type.Level() >= required.Level()
}

func (a Authority) String() string {
	return fmt.Sprintf("%s(%s)", a.Type, a.Principal)
}

// SystemAuthority is the literal authority stamped on scheduler-originated
// invocations. Scheduled entry points state it explicitly rather than
// defaulting.
func SystemAuthority() Authority {
	return Authority{Type: AuthorityAutoEngine, Principal: "SYSTEM"}
}
