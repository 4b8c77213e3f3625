package dispatch_test

import (
	"testing"

	"github.com/crowdesk/messenger/internal/dispatch"
	"github.com/crowdesk/messenger/internal/graph"
)

func TestClassify_KnownCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		code          int
		subcode       int
		wantKind      dispatch.ErrorKind
		wantRetryable bool
		wantAdmin     bool
	}{
		{
			name:          "551 with subcode 1545041 is recipient not available",
			code:          551,
			subcode:       1545041,
			wantKind:      dispatch.ErrKindRecipientNotAvailable,
			wantRetryable: true,
		},
		{
			name:          "551 with subcode 1545049 is recipient not available",
			code:          551,
			subcode:       1545049,
			wantKind:      dispatch.ErrKindRecipientNotAvailable,
			wantRetryable: true,
		},
		{
			name:          "551 with subcode 1545051 is recipient not available",
			code:          551,
			subcode:       1545051,
			wantKind:      dispatch.ErrKindRecipientNotAvailable,
			wantRetryable: true,
		},
		{
			name:          "100 with subcode 2018001 is no matching user",
			code:          100,
			subcode:       2018001,
			wantKind:      dispatch.ErrKindNoMatchingUser,
			wantRetryable: true,
		},
		{
			name:          "100 with subcode 2018109 is outside the 24 hour window",
			code:          100,
			subcode:       2018109,
			wantKind:      dispatch.ErrKindOutside24HourWindow,
			wantRetryable: true,
		},
		{
			name:      "190 is invalid access token regardless of subcode",
			code:      190,
			subcode:   460,
			wantKind:  dispatch.ErrKindInvalidAccessToken,
			wantAdmin: true,
		},
		{
			name:      "200 is permission denied",
			code:      200,
			wantKind:  dispatch.ErrKindPermissionDenied,
			wantAdmin: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := dispatch.Classify(&graph.Error{
				Message: "vendor message",
				Code:    tt.code,
				Subcode: tt.subcode,
			})

			if got.Kind != tt.wantKind {
				t.Errorf("Classify() kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Classify() retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
			if got.RequiresAdmin != tt.wantAdmin {
				t.Errorf("Classify() requiresAdmin = %v, want %v", got.RequiresAdmin, tt.wantAdmin)
			}
			if len(got.Remediation) == 0 {
				t.Error("Classify() returned no remediation steps")
			}
			if got.Message == "" {
				t.Error("Classify() returned an empty message")
			}
		})
	}
}

func TestClassify_UnknownCodesFallThrough(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		code          int
		subcode       int
		message       string
		wantRetryable bool
	}{
		{
			name:    "unknown 4xx-range code is not retryable",
			code:    368,
			message: "Temporarily blocked for policies violations",
		},
		{
			name:    "551 with unknown subcode falls through",
			code:    551,
			subcode: 99,
			message: "Unexpected subcode",
		},
		{
			name:    "100 with no subcode falls through",
			code:    100,
			message: "Invalid parameter",
		},
		{
			name:          "5xx-range code is retryable",
			code:          500,
			message:       "Internal error",
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := dispatch.Classify(&graph.Error{
				Message: tt.message,
				Code:    tt.code,
				Subcode: tt.subcode,
			})

			if got.Kind != dispatch.ErrKindGenericAPIError {
				t.Errorf("Classify() kind = %q, want %q", got.Kind, dispatch.ErrKindGenericAPIError)
			}
			if got.Message != tt.message {
				t.Errorf("Classify() message = %q, want the vendor message %q preserved", got.Message, tt.message)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("Classify() retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestRemediationFor_CoversEveryKind(t *testing.T) {
	t.Parallel()

	kinds := []dispatch.ErrorKind{
		dispatch.ErrKindInvalidRecipient,
		dispatch.ErrKindNoConversationFound,
		dispatch.ErrKindNoCustomerMessages,
		dispatch.ErrKindOutsideResponseWindow,
		dispatch.ErrKindRecipientUnavailable,
		dispatch.ErrKindRecipientNotAvailable,
		dispatch.ErrKindThreadOwnedByOtherApp,
		dispatch.ErrKindNoMatchingUser,
		dispatch.ErrKindOutside24HourWindow,
		dispatch.ErrKindInvalidAccessToken,
		dispatch.ErrKindPermissionDenied,
		dispatch.ErrKindMessageTooLong,
		dispatch.ErrKindValidationError,
		dispatch.ErrKindGenericAPIError,
	}

	for _, kind := range kinds {
		if steps := dispatch.RemediationFor(kind); len(steps) == 0 {
			t.Errorf("RemediationFor(%q) returned no steps", kind)
		}
	}
}
