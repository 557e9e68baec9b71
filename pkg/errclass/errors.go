package errclass

import "fmt"

// GovError is a stable, machine-readable error class.
type GovError struct {
	Code    string
	Message string
}

func (e *GovError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GovError) Is(target error) bool {
	t, ok := target.(*GovError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new GovError with the same Code but a specific message.
func (e *GovError) WithMessage(msg string) *GovError {
	return &GovError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new GovError with a formatted message.
func (e *GovError) WithMessagef(format string, args ...any) *GovError {
	return &GovError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Stable error classes.
var (
	ErrTemplateNotFound = &GovError{Code: "E_TEMPLATE_NOT_FOUND"}
	ErrResolutionFailed = &GovError{Code: "E_RESOLUTION_FAILED"}
	ErrTemplateLocked   = &GovError{Code: "E_TEMPLATE_LOCKED"}
	ErrPolicyBlocked    = &GovError{Code: "E_POLICY_BLOCKED"}
	ErrApprovalRequired = &GovError{Code: "E_APPROVAL_REQUIRED"}
	ErrConfigInvalid    = &GovError{Code: "E_CONFIG_INVALID"}
	ErrNameInvalid      = &GovError{Code: "E_NAME_INVALID"}
	ErrPathEscape       = &GovError{Code: "E_PATH_ESCAPE"}
	ErrHashMismatch     = &GovError{Code: "E_HASH_MISMATCH"}
	ErrFetchUnsupported = &GovError{Code: "E_FETCH_UNSUPPORTED"}
	ErrUnhealthy        = &GovError{Code: "E_UNHEALTHY"}
)
