// Package handlers defines the HTTP error codes returned in ErrorResponse.
//
// Codes are stable, lowercase snake_case strings. Generic codes mirror HTTP
// status semantics; domain codes name the operation that failed. Clients
// branch on the code, never on the message.
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "conversation not found"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "store_unavailable"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeUpdateFailed     = "update_failed"
	ErrCodeDeleteFailed     = "delete_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
