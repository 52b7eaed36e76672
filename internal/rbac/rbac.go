package rbac

// Role is a participant's fixed position in a court session.
type Role string

// Action is the wire name of a court action.
type Action string

const (
	RoleCreator Role = "creator"
	RolePartner Role = "partner"
)

const (
	ActionServe  Action = "serve"
	ActionAccept Action = "accept"
	ActionCancel Action = "cancel"
)

// Can reports whether a participant in the given role may attempt the
// action. Phase validity is checked separately by the phase engine.
func Can(role Role, action Action) bool {
	switch role {
	case RoleCreator:
		return action != ActionAccept
	case RolePartner:
		return action != ActionServe && action != ActionCancel
	default:
		return false
	}
}
