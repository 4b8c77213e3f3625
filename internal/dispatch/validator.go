package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crowdesk/messenger/internal/graph"
)

const (
	// minRecipientIDLength rejects obvious junk; page-scoped ids are
	// 15-17 digit numerics, older account-scoped ids can be shorter.
	minRecipientIDLength = 10

	// responseWindow is the platform's customer-service messaging window.
	responseWindow = 24 * time.Hour

	// recentCustomerMessageLimit is how many from-customer messages the
	// validator loads alongside the conversation.
	recentCustomerMessageLimit = 5

	// bestEffortTimeout bounds the advisory profile and credential probes.
	bestEffortTimeout = 5 * time.Second
)

// Validator decides whether a message to a recipient is currently permitted
// under the platform's policy, from locally stored conversation history.
// It is read-only; failures never propagate as errors, only as verdicts.
type Validator struct {
	store   ConversationStore
	graph   GraphAPI
	channel string
	logger  *slog.Logger
}

// NewValidator creates an eligibility validator for the given channel.
func NewValidator(store ConversationStore, graphAPI GraphAPI, channel string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Validator{
		store:   store,
		graph:   graphAPI,
		channel: channel,
		logger:  logger.With("component", "eligibility_validator"),
	}
}

// Validate runs the eligibility checks in order, short-circuiting on the
// first failure. Database errors fail closed as VALIDATION_ERROR.
func (v *Validator) Validate(ctx context.Context, recipientID, pageID, accessToken string) Verdict {
	if !isPlausibleRecipientID(recipientID) {
		return blockedVerdict(ErrKindInvalidRecipient,
			"The recipient id is missing or not a valid numeric id.", 0)
	}

	conversation, customerMessages, err := v.store.FindConversationWithRecentCustomerMessages(
		ctx, recipientID, v.channel, recentCustomerMessageLimit)
	if err != nil {
		// Fail closed, never open: an unreadable history must not allow a send.
		v.logger.ErrorContext(ctx, "Conversation lookup failed during validation",
			"recipient_id", recipientID, "error", err)
		return blockedVerdict(ErrKindValidationError,
			"Could not verify the conversation history for this recipient.", 0)
	}
	if conversation == nil {
		return blockedVerdict(ErrKindNoConversationFound,
			"No conversation exists with this recipient on this channel.", 0)
	}
	if len(customerMessages) == 0 {
		return blockedVerdict(ErrKindNoCustomerMessages,
			"The customer has never sent a message in this conversation.", 0)
	}

	// customerMessages come back newest first.
	elapsed := time.Since(customerMessages[0].CreatedAt)
	hours := elapsed.Hours()
	if elapsed >= responseWindow {
		return blockedVerdict(ErrKindOutsideResponseWindow,
			"The customer's last message is outside the 24-hour response window.", hours)
	}

	if kind, message := v.runBestEffortChecks(ctx, recipientID, pageID, accessToken); kind != ErrKindNone {
		return blockedVerdict(kind, message, hours)
	}

	return Verdict{
		Valid:                         true,
		CanSend:                       true,
		HoursSinceLastCustomerMessage: hours,
	}
}

// runBestEffortChecks probes recipient reachability against the platform and
// re-reads the page credential's live status, concurrently and under a short
// deadline. Only the recipient-unavailable signature and a disconnected
// credential block; every other failure is advisory and logged.
func (v *Validator) runBestEffortChecks(ctx context.Context, recipientID, pageID, accessToken string) (ErrorKind, string) {
	checkCtx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()

	var (
		profileErr     error
		credentialGone bool
	)

	g, gCtx := errgroup.WithContext(checkCtx)

	g.Go(func() error {
		if _, err := v.graph.UserProfile(gCtx, recipientID, accessToken); err != nil {
			profileErr = err
		}
		return nil
	})

	g.Go(func() error {
		credential, err := v.store.FindActivePageCredential(gCtx, pageID)
		if err != nil {
			v.logger.WarnContext(gCtx, "Credential status re-check failed",
				"page_id", pageID, "error", err)
			return nil
		}
		credentialGone = credential == nil
		return nil
	})

	_ = g.Wait() // goroutines never return errors; outcomes land in the captured vars

	if credentialGone {
		return ErrKindInvalidAccessToken,
			"The page is disconnected; its credential cannot be used for sending."
	}

	if profileErr != nil {
		var vendorErr *graph.Error
		if errors.As(profileErr, &vendorErr) && isUnavailableSignature(vendorErr) {
			return ErrKindRecipientUnavailable,
				"The recipient is not currently reachable by this page."
		}
		v.logger.WarnContext(ctx, "Profile probe failed, proceeding anyway",
			"recipient_id", recipientID, "error", profileErr)
	}

	return ErrKindNone, ""
}

// isPlausibleRecipientID checks the recipient id syntactically: non-empty,
// numeric, and at least the minimum length.
func isPlausibleRecipientID(recipientID string) bool {
	if len(recipientID) < minRecipientIDLength {
		return false
	}
	for _, r := range recipientID {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func blockedVerdict(kind ErrorKind, message string, hours float64) Verdict {
	return Verdict{
		Valid:                         false,
		CanSend:                       false,
		ErrorKind:                     kind,
		Message:                       message,
		Remediation:                   RemediationFor(kind),
		HoursSinceLastCustomerMessage: hours,
	}
}
