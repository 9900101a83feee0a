// Package common provides shared API response types used across services.
package common

// ErrorResponse is the standard error envelope returned by FlowSight APIs.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is the standard success envelope for mutations.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

// NewErrorResponseWithDetails creates an error response with extra context
func NewErrorResponseWithDetails(message, details string) ErrorResponse {
	return ErrorResponse{Error: message, Details: details}
}

// NewSuccessResponse creates a success response with a message
func NewSuccessResponse(message string) SuccessResponse {
	return SuccessResponse{Success: true, Message: message}
}

// NewSuccessResponseWithData creates a success response carrying a payload
func NewSuccessResponseWithData(message string, data interface{}) SuccessResponse {
	return SuccessResponse{Success: true, Message: message, Data: data}
}
