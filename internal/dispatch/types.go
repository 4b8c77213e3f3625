// Package dispatch implements the Messenger outbound-delivery pipeline:
// recipient eligibility validation, thread ownership checking, payload
// construction, the outbound send, and vendor error classification.
package dispatch

import (
	"context"

	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/graph"
)

// ErrorKind identifies why a dispatch was rejected or failed. The set is
// closed; every kind carries a fixed remediation list.
type ErrorKind string

const (
	ErrKindNone                  ErrorKind = ""
	ErrKindInvalidRecipient      ErrorKind = "INVALID_RECIPIENT"
	ErrKindNoConversationFound   ErrorKind = "NO_CONVERSATION_FOUND"
	ErrKindNoCustomerMessages    ErrorKind = "NO_CUSTOMER_MESSAGES"
	ErrKindOutsideResponseWindow ErrorKind = "OUTSIDE_RESPONSE_WINDOW"
	ErrKindRecipientUnavailable  ErrorKind = "RECIPIENT_UNAVAILABLE"
	ErrKindRecipientNotAvailable ErrorKind = "RECIPIENT_NOT_AVAILABLE"
	ErrKindThreadOwnedByOtherApp ErrorKind = "THREAD_OWNED_BY_OTHER_APP"
	ErrKindNoMatchingUser        ErrorKind = "NO_MATCHING_USER"
	ErrKindOutside24HourWindow   ErrorKind = "OUTSIDE_24_HOUR_WINDOW"
	ErrKindInvalidAccessToken    ErrorKind = "INVALID_ACCESS_TOKEN"
	ErrKindPermissionDenied      ErrorKind = "PERMISSION_DENIED"
	ErrKindMessageTooLong        ErrorKind = "MESSAGE_TOO_LONG"
	ErrKindValidationError       ErrorKind = "VALIDATION_ERROR"
	ErrKindGenericAPIError       ErrorKind = "GENERIC_API_ERROR"
)

// Verdict is the eligibility validator's structured decision. It is a value
// object, never persisted.
type Verdict struct {
	Valid                         bool      `json:"valid"`
	CanSend                       bool      `json:"can_send"`
	ErrorKind                     ErrorKind `json:"error_kind,omitempty"`
	Message                       string    `json:"message,omitempty"`
	Remediation                   []string  `json:"remediation,omitempty"`
	HoursSinceLastCustomerMessage float64   `json:"hours_since_last_customer_message"`
}

// Result is what a dispatch returns to the caller. The caller owns message
// persistence and client notification, keyed off Success and
// PlatformMessageID.
type Result struct {
	Success           bool      `json:"success"`
	Blocked           bool      `json:"blocked,omitempty"`
	Duplicate         bool      `json:"duplicate,omitempty"`
	PlatformMessageID string    `json:"platform_message_id,omitempty"`
	ErrorKind         ErrorKind `json:"error_kind,omitempty"`
	Message           string    `json:"message,omitempty"`
	Remediation       []string  `json:"remediation,omitempty"`
	Retryable         bool      `json:"retryable"`
	RequiresAdmin     bool      `json:"requires_admin,omitempty"`
	TraceID           string    `json:"trace_id,omitempty"`
}

// ConversationStore is the slice of persistence the pipeline reads from.
type ConversationStore interface {
	FindConversationWithRecentCustomerMessages(ctx context.Context, customerID, channel string, limit int) (*database.Conversation, []database.Message, error)
	FindActivePageCredential(ctx context.Context, pageID string) (*database.PageCredential, error)
}

// GraphAPI is the slice of the platform client the pipeline calls.
type GraphAPI interface {
	SendMessage(ctx context.Context, pageID, accessToken string, req *graph.SendRequest) (*graph.SendResponse, error)
	ThreadOwner(ctx context.Context, pageID, accessToken, recipientID string) (string, error)
	UserProfile(ctx context.Context, recipientID, accessToken string) (*graph.Profile, error)
}
