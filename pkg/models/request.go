package models

// FitiRequest is the JSON payload for POST /fiti. Pointer fields distinguish
// an absent value from an empty string.
type FitiRequest struct {
	Receipt1  *string `json:"rcpt_1"`
	Receipt2  *string `json:"rcpt_2"`
	Receipt3  *string `json:"rcpt_3"`
	Document1 *string `json:"doc_1"`
	Document2 *string `json:"doc_2"`
	Document3 *string `json:"doc_3"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewErrorResponse builds an ErrorResponse with status "error".
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Status: "error", Message: message}
}
