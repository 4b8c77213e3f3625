package graph

import "fmt"

// Error represents an error envelope returned by the Graph API.
type Error struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("graph API error: %s (type: %s, code: %d, subcode: %d)",
		e.Message, e.Type, e.Code, e.Subcode)
}

// errorEnvelope is the wire shape of a Graph API failure response.
type errorEnvelope struct {
	Error *Error `json:"error"`
}
