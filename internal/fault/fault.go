package fault

import "fmt"

const (
	CodeValidation      = "VALIDATION"
	CodeDataUnavailable = "DATA_UNAVAILABLE"
	CodeTicketLayout    = "TICKET_LAYOUT"
	CodeStepTimeout     = "STEP_TIMEOUT"
	CodeElementMissing  = "ELEMENT_MISSING"
	CodeSessionLost     = "SESSION_LOST"
	CodeLaunchError     = "LAUNCH_ERROR"
	CodeTradeLocked     = "TRADE_LOCKED"
	CodeState           = "STATE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// New builds a CodedError with the given code, message and optional cause.
func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}
