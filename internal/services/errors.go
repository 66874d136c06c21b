package services

import "fmt"

// Error codes returned by the planner. Each generation fails with at most
// one of these; nothing is retried internally.
const (
	CodeMissingInput   = "missing_input"
	CodeNotConfigured  = "not_configured"
	CodeUploadFailed   = "upload_failed"
	CodeRunFailed      = "run_failed"
	CodeTimeout        = "timeout"
	CodeEmptyResponse  = "empty_response"
	CodeInvalidPayload = "invalid_payload"
	CodeInvalidShape   = "invalid_shape"
)

// PlanError is a structured error for lesson plan generation failures.
// Message is safe to surface to the user; Details carries diagnostics
// such as truncated raw model output or upstream error text.
type PlanError struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *PlanError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *PlanError) Unwrap() error {
	return e.Err
}
