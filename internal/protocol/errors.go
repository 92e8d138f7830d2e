package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Field routing/state.
	ErrBusy = "E_BUSY"

	// Rule layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrInvalidPosition = "E_INVALID_POSITION"
	ErrInvalidAmount   = "E_INVALID_AMOUNT"
	ErrNoPositions     = "E_NO_POSITIONS"
	ErrOverflow        = "E_OVERFLOW"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrInvalidPosition: {},
	ErrInvalidAmount:   {},
	ErrNoPositions:     {},
	ErrOverflow:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
