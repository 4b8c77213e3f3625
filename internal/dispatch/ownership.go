package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/crowdesk/messenger/internal/graph"
)

// OwnershipVerdict is the thread ownership checker's decision. Proceed=true
// means the check found no reason to block; it never overrides a prior
// eligibility rejection.
type OwnershipVerdict struct {
	Proceed     bool
	ErrorKind   ErrorKind
	Message     string
	Remediation []string
	Retryable   bool
}

// OwnershipChecker queries the platform's handover protocol for the
// application currently owning a conversation thread. The check is a gate
// additional to eligibility and runs only after eligibility passes.
type OwnershipChecker struct {
	graph  GraphAPI
	appID  string
	logger *slog.Logger
}

// NewOwnershipChecker creates a checker that treats appID as "this app".
func NewOwnershipChecker(graphAPI GraphAPI, appID string, logger *slog.Logger) *OwnershipChecker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OwnershipChecker{
		graph:  graphAPI,
		appID:  appID,
		logger: logger.With("component", "ownership_checker"),
	}
}

// Check resolves the thread owner for (pageID, recipientID). Inconclusive
// failures do not block: not all tenant app configurations expose the
// thread-owner capability.
func (c *OwnershipChecker) Check(ctx context.Context, pageID, recipientID, accessToken string) OwnershipVerdict {
	ownerAppID, err := c.graph.ThreadOwner(ctx, pageID, accessToken, recipientID)
	if err != nil {
		var vendorErr *graph.Error
		if errors.As(err, &vendorErr) && isUnavailableSignature(vendorErr) {
			return OwnershipVerdict{
				Proceed:     false,
				ErrorKind:   ErrKindRecipientNotAvailable,
				Message:     "This person isn't available right now. They may have blocked the page or deactivated their account.",
				Remediation: RemediationFor(ErrKindRecipientNotAvailable),
				Retryable:   true,
			}
		}

		c.logger.WarnContext(ctx, "Thread owner check inconclusive, proceeding",
			"page_id", pageID, "recipient_id", recipientID, "error", err)
		return OwnershipVerdict{Proceed: true}
	}

	if ownerAppID == "" || ownerAppID == c.appID {
		return OwnershipVerdict{Proceed: true}
	}

	c.logger.InfoContext(ctx, "Thread owned by another application",
		"page_id", pageID, "recipient_id", recipientID, "owner_app_id", ownerAppID)
	return OwnershipVerdict{
		Proceed:     false,
		ErrorKind:   ErrKindThreadOwnedByOtherApp,
		Message:     "The conversation thread is currently owned by another application.",
		Remediation: RemediationFor(ErrKindThreadOwnedByOtherApp),
		Retryable:   true,
	}
}
