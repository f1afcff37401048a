package constants

// ErrorCode classifies a processing failure recorded on a job.
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnsupported   ErrorCode = "UNSUPPORTED_FORMAT"
	ErrCodeEncrypted     ErrorCode = "ENCRYPTED"
	ErrCodeParse         ErrorCode = "PARSE_ERROR"
	ErrCodeEmptyContent  ErrorCode = "EMPTY_CONTENT"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
	ErrCodeIO            ErrorCode = "IO_ERROR"
	ErrCodeTransient     ErrorCode = "TRANSIENT"
	ErrCodeResourceLimit ErrorCode = "RESOURCE_LIMIT"
	ErrCodeCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
	ErrCodeStalled       ErrorCode = "STALLED"
	ErrCodeInternal      ErrorCode = "INTERNAL"
)

// IsTransient reports codes caused by the environment rather than the document.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case ErrCodeTimeout, ErrCodeIO, ErrCodeTransient, ErrCodeResourceLimit, ErrCodeCircuitOpen:
		return true
	}
	return false
}
