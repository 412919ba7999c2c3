package api

type contextKey string

const requestIDKey contextKey = "requestID"

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Command  string   `json:"command"`
	SenderID string   `json:"sender_id"`
	ChatID   string   `json:"chat_id,omitempty"`
	Args     []string `json:"args"`
}

// ErrorResponse is written for every non-2xx answer.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
