package dispatch

import (
	"strings"

	"github.com/crowdesk/messenger/internal/graph"
)

// Vendor error codes and subcodes with documented meanings. These are
// externally defined contracts, not local choices.
const (
	vendorCodeRecipientUnavailable = 551
	vendorCodeUserError            = 100
	vendorCodeInvalidToken         = 190
	vendorCodePermission           = 200

	vendorSubcodeUnavailableA = 1545041
	vendorSubcodeUnavailableB = 1545049
	vendorSubcodeUnavailableC = 1545051

	vendorSubcodeNoMatchingUser = 2018001
	vendorSubcodeOutsideWindow  = 2018109
)

// Classification is the classifier's verdict on a vendor error.
type Classification struct {
	Kind          ErrorKind
	Message       string
	Remediation   []string
	Retryable     bool
	RequiresAdmin bool
}

// remediation holds the fixed operator guidance per error kind.
var remediation = map[ErrorKind][]string{
	ErrKindInvalidRecipient: {
		"Check that the recipient id is the numeric page-scoped id from an inbound event",
		"Recipient ids come from webhook events, not profile URLs",
	},
	ErrKindNoConversationFound: {
		"The customer must message the page first",
		"Confirm the webhook subscription is delivering inbound messages",
	},
	ErrKindNoCustomerMessages: {
		"Wait for the customer to send a message",
		"Only customer-initiated conversations can be replied to",
	},
	ErrKindOutsideResponseWindow: {
		"Ask the customer to send a new message to reopen the window",
		"Use a pre-approved message template for out-of-window contact",
	},
	ErrKindRecipientUnavailable: {
		"The recipient may have blocked the page or deactivated their account",
		"Retry after the customer re-initiates contact",
	},
	ErrKindRecipientNotAvailable: {
		"The recipient may have blocked the page or deactivated their account",
		"Retry after the customer sends a new message",
	},
	ErrKindThreadOwnedByOtherApp: {
		"Ask the customer to message the page again",
		"Reclaim the thread via the page's handover protocol settings",
		"Check which app holds the primary receiver role for this page",
	},
	ErrKindNoMatchingUser: {
		"The recipient has no active conversation with this page",
		"Retry after the customer sends a new message",
	},
	ErrKindOutside24HourWindow: {
		"The 24-hour messaging window has closed",
		"Retry after the customer sends a new message",
		"Use a message template for out-of-window notifications",
	},
	ErrKindInvalidAccessToken: {
		"Reconnect the page to refresh its access token",
		"An administrator must re-authenticate with the platform",
	},
	ErrKindPermissionDenied: {
		"An administrator must re-grant the pages_messaging permission",
		"Review the app's permissions in the platform dashboard",
	},
	ErrKindMessageTooLong: {
		"Shorten the message to 2000 characters or fewer",
		"Split long content into multiple messages",
	},
	ErrKindValidationError: {
		"Try again shortly",
		"Contact support if the problem persists",
	},
	ErrKindGenericAPIError: {
		"Retry the send",
		"Check the platform status page if failures persist",
	},
}

// RemediationFor returns the fixed remediation list for an error kind.
func RemediationFor(kind ErrorKind) []string {
	return remediation[kind]
}

// Classify maps a vendor (code, subcode) pair to a fixed error kind with
// operator-facing guidance. Unmapped combinations fall through to the
// generic case with the vendor's literal message preserved.
func Classify(vendorErr *graph.Error) Classification {
	switch vendorErr.Code {
	case vendorCodeRecipientUnavailable:
		switch vendorErr.Subcode {
		case vendorSubcodeUnavailableA, vendorSubcodeUnavailableB, vendorSubcodeUnavailableC:
			return Classification{
				Kind:        ErrKindRecipientNotAvailable,
				Message:     "This person isn't available right now. They may have blocked the page or deactivated their account.",
				Remediation: remediation[ErrKindRecipientNotAvailable],
				Retryable:   true,
			}
		}

	case vendorCodeUserError:
		switch vendorErr.Subcode {
		case vendorSubcodeNoMatchingUser:
			return Classification{
				Kind:        ErrKindNoMatchingUser,
				Message:     "No matching user found for this recipient. The conversation may have been deleted.",
				Remediation: remediation[ErrKindNoMatchingUser],
				Retryable:   true,
			}
		case vendorSubcodeOutsideWindow:
			return Classification{
				Kind:        ErrKindOutside24HourWindow,
				Message:     "The message was sent outside the allowed 24-hour response window.",
				Remediation: remediation[ErrKindOutside24HourWindow],
				Retryable:   true,
			}
		}

	case vendorCodeInvalidToken:
		return Classification{
			Kind:          ErrKindInvalidAccessToken,
			Message:       "The page access token is invalid or has expired.",
			Remediation:   remediation[ErrKindInvalidAccessToken],
			RequiresAdmin: true,
		}

	case vendorCodePermission:
		return Classification{
			Kind:          ErrKindPermissionDenied,
			Message:       "The application lacks the permission required to message this recipient.",
			Remediation:   remediation[ErrKindPermissionDenied],
			RequiresAdmin: true,
		}
	}

	return Classification{
		Kind:        ErrKindGenericAPIError,
		Message:     vendorErr.Message,
		Remediation: remediation[ErrKindGenericAPIError],
		Retryable:   vendorErr.Code >= 500,
	}
}

// isUnavailableSignature reports whether a vendor error matches the known
// "recipient temporarily unavailable" signature. The numeric codes are
// checked first; the message text match covers tenant app configurations
// where the platform omits subcodes on this endpoint.
func isUnavailableSignature(vendorErr *graph.Error) bool {
	if vendorErr.Code == vendorCodeRecipientUnavailable {
		return true
	}
	switch vendorErr.Subcode {
	case vendorSubcodeUnavailableA, vendorSubcodeUnavailableB, vendorSubcodeUnavailableC:
		return true
	}
	msg := strings.ToLower(vendorErr.Message)
	return strings.Contains(msg, "not available") || strings.Contains(msg, "unavailable")
}
