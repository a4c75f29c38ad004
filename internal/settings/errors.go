package settings

import "errors"

var (
	// ErrUnknownField is returned by SetField for a key outside the editable schema.
	ErrUnknownField = errors.New("unknown field")
	// ErrFieldType is returned by SetField for a value of the wrong kind.
	ErrFieldType = errors.New("invalid field value type")
	// ErrEntityNotFound is returned when an entity cannot be resolved from the store.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrStaleEntity marks an entity that disappeared while a flow was open.
	// Flows close silently on it; it is never surfaced as a user error.
	ErrStaleEntity = errors.New("entity no longer exists")
	// ErrConfirmationMismatch describes a refused delete confirmation.
	ErrConfirmationMismatch = errors.New("confirmation text does not match")
	// ErrEditorNotOpen is returned by editor commands before Open succeeds.
	ErrEditorNotOpen = errors.New("editor is not open")
)

// ServiceError is a failure reported by an update or delete service. Its
// message is shown to the user verbatim.
type ServiceError struct {
	Message string
	Err     error
}

// NewServiceError creates a ServiceError with the given message.
func NewServiceError(message string) *ServiceError {
	return &ServiceError{Message: message}
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

// failureMessage converts an external failure into the text kept as
// component error state.
func failureMessage(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}
