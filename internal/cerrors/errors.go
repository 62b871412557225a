// Package cerrors defines the error taxonomy shared by every core package
// (cipher, frame, screen, session, relay). Callers compare kinds with
// errors.Is against the sentinel values below; CoreError carries an
// optional wrapped cause for %w-style chains.
package cerrors

// Kind classifies a core error the way §7 of the protocol notes enumerates
// it. Every core API surfaces one of these, never a bare string.
type Kind string

const (
	InvalidArgument  Kind = "invalid_argument"
	Protocol         Kind = "protocol"
	AuthFailed       Kind = "auth_failed"
	ConnectionClosed Kind = "connection_closed"
	ConnectionLost   Kind = "connection_lost"
	PartnerLeft      Kind = "partner_left"
	RelayLost        Kind = "relay_lost"
	DuplicateID      Kind = "duplicate_id"
	Busy             Kind = "busy"
	NotFound         Kind = "not_found"
	Cancelled        Kind = "cancelled"
	FileTooLarge     Kind = "file_too_large"
	FileNotFound     Kind = "file_not_found"
	ReadError        Kind = "read_error"
	WriteError       Kind = "write_error"
	CreateError      Kind = "create_error"
	OutOfMemory      Kind = "out_of_memory"
	Timeout          Kind = "timeout"
)

// Sentinel values for errors.Is comparisons against a bare Kind.
var (
	ErrInvalidArgument  = &CoreError{Kind: InvalidArgument}
	ErrProtocol         = &CoreError{Kind: Protocol}
	ErrAuthFailed       = &CoreError{Kind: AuthFailed}
	ErrConnectionClosed = &CoreError{Kind: ConnectionClosed}
	ErrConnectionLost   = &CoreError{Kind: ConnectionLost}
	ErrPartnerLeft      = &CoreError{Kind: PartnerLeft}
	ErrRelayLost        = &CoreError{Kind: RelayLost}
	ErrDuplicateID      = &CoreError{Kind: DuplicateID}
	ErrBusy             = &CoreError{Kind: Busy}
	ErrNotFound         = &CoreError{Kind: NotFound}
	ErrCancelled        = &CoreError{Kind: Cancelled}
	ErrFileTooLarge     = &CoreError{Kind: FileTooLarge}
	ErrFileNotFound     = &CoreError{Kind: FileNotFound}
	ErrReadError        = &CoreError{Kind: ReadError}
	ErrWriteError       = &CoreError{Kind: WriteError}
	ErrCreateError      = &CoreError{Kind: CreateError}
	ErrOutOfMemory      = &CoreError{Kind: OutOfMemory}
	ErrTimeout          = &CoreError{Kind: Timeout}
)

// CoreError wraps a Kind with an optional human message and cause.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is matches on Kind alone so callers can do errors.Is(err, cerrors.ErrProtocol)
// regardless of the wrapped message or cause.
func (e *CoreError) Is(target error) bool {
	other, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New builds a CoreError with a formatted message and no cause.
func New(kind Kind, msg string) error {
	return &CoreError{Kind: kind, Message: msg}
}

// Wrap builds a CoreError carrying an underlying cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &CoreError{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err is a *CoreError of the given Kind.
func IsKind(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	return ok && ce.Kind == kind
}
