package deck

// ErrorCode classifies device errors the way the engine needs to react to
// them: network failures are recoverable in place, everything else is
// terminal for the bound item.
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota
	ErrAborted
	ErrNetwork
	ErrDecode
	ErrUnsupported
)

// String returns the code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrAborted:
		return "Aborted"
	case ErrNetwork:
		return "NetworkFailure"
	case ErrDecode:
		return "DecodeFailure"
	case ErrUnsupported:
		return "SourceUnsupported"
	default:
		return "Unknown"
	}
}

// Message returns the user-facing description published with terminal
// playback errors.
func (c ErrorCode) Message() string {
	switch c {
	case ErrAborted:
		return "You aborted the audio playback."
	case ErrNetwork:
		return "A network error caused the audio download to fail."
	case ErrDecode:
		return "The audio playback was aborted due to a corruption problem or because the audio used features your player did not support."
	case ErrUnsupported:
		return "The audio cannot be loaded because the server or network failed."
	default:
		return "An unknown error occurred."
	}
}
