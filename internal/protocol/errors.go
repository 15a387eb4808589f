package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"

	// Store layer.
	ErrUpstream = "E_UPSTREAM"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrRateLimit:       {},
	ErrUpstream:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
