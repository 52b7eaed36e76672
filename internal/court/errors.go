package court

import "errors"

var (
	ErrNoSession       = errors.New("no active session")
	ErrNotParticipant  = errors.New("not a participant of this session")
	ErrForbiddenRole   = errors.New("action not allowed for this role")
	ErrInvalidPhase    = errors.New("action not allowed in the current phase")
	ErrInvalidInput    = errors.New("invalid action input")
	ErrAddendumLimit   = errors.New("addendum limit reached")
	ErrSessionOpen     = errors.New("an open session already exists")
	ErrPartnerBusy     = errors.New("partner already has an open session")
	ErrUnknownAction   = errors.New("unknown action")
	ErrStaleGeneration = errors.New("generation result no longer applies")
)
