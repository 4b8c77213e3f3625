package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/graph"
	"github.com/crowdesk/messenger/internal/idempotency"
	"github.com/crowdesk/messenger/internal/metrics"
)

// maxTextLength is the platform's limit on a single text message.
const maxTextLength = 2000

// Config carries the dispatcher's channel-level settings.
type Config struct {
	// AppID is this application's id for the thread ownership comparison.
	AppID string
	// Channel is the conversation channel eligibility is checked against.
	Channel string
	// PublicBaseURL replaces loopback hosts in attachment URLs.
	PublicBaseURL string
}

// Request is a single outbound send.
type Request struct {
	RecipientID string
	Content     string
	ContentType string // TEXT, IMAGE, or FILE
	PageID      string
	AccessToken string
}

// Dispatcher runs the full outbound pipeline: idempotency guard, eligibility
// validation, thread ownership check, payload construction, the platform
// call, and error classification. It registers idempotency entries; message
// persistence and client notification belong to the caller.
type Dispatcher struct {
	graph     GraphAPI
	guard     idempotency.Guard
	validator *Validator
	ownership *OwnershipChecker
	cfg       Config
	logger    *slog.Logger
}

// NewDispatcher wires the pipeline components together.
func NewDispatcher(store ConversationStore, graphAPI GraphAPI, guard idempotency.Guard, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		graph:     graphAPI,
		guard:     guard,
		validator: NewValidator(store, graphAPI, cfg.Channel, logger),
		ownership: NewOwnershipChecker(graphAPI, cfg.AppID, logger),
		cfg:       cfg,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Send dispatches one message and returns a structured result. It never
// returns an error; every failure mode is folded into the Result.
func (d *Dispatcher) Send(ctx context.Context, req Request) Result {
	traceID := uuid.NewString()
	log := d.logger.With("trace_id", traceID,
		"recipient_id", req.RecipientID, "page_id", req.PageID)

	if req.ContentType != database.MessageTypeText &&
		req.ContentType != database.MessageTypeImage &&
		req.ContentType != database.MessageTypeFile {
		return blockedResult(ErrKindValidationError,
			"Unsupported message type: "+req.ContentType, traceID)
	}

	fingerprint := idempotency.Fingerprint(req.PageID, req.RecipientID, req.Content)
	seen, err := d.guard.Seen(ctx, fingerprint)
	if err != nil {
		// The guard is advisory; a broken guard must not stop legitimate sends.
		log.WarnContext(ctx, "Idempotency guard check failed, proceeding", "error", err)
	}
	if seen {
		log.InfoContext(ctx, "Duplicate send suppressed", "fingerprint", fingerprint)
		metrics.DuplicatesSuppressed.Inc()
		metrics.DispatchesTotal.WithLabelValues("duplicate").Inc()
		return Result{
			Success:           true,
			Duplicate:         true,
			PlatformMessageID: "duplicate_prevented",
			TraceID:           traceID,
		}
	}

	// Length is checked before the validator so oversize content is rejected
	// before any network call. The platform limit counts characters, not bytes.
	if req.ContentType == database.MessageTypeText && utf8.RuneCountInString(req.Content) > maxTextLength {
		return blockedResult(ErrKindMessageTooLong,
			"The message exceeds the 2000 character limit.", traceID)
	}

	verdict := d.validator.Validate(ctx, req.RecipientID, req.PageID, req.AccessToken)
	if !verdict.CanSend {
		log.InfoContext(ctx, "Dispatch blocked by eligibility validator",
			"error_kind", verdict.ErrorKind,
			"hours_since_last_customer_message", verdict.HoursSinceLastCustomerMessage)
		metrics.DispatchesTotal.WithLabelValues("blocked").Inc()
		metrics.DispatchBlocked.WithLabelValues(string(verdict.ErrorKind)).Inc()
		return Result{
			Blocked:       true,
			ErrorKind:     verdict.ErrorKind,
			Message:       verdict.Message,
			Remediation:   verdict.Remediation,
			RequiresAdmin: verdict.ErrorKind == ErrKindInvalidAccessToken,
			TraceID:       traceID,
		}
	}

	ownership := d.ownership.Check(ctx, req.PageID, req.RecipientID, req.AccessToken)
	if !ownership.Proceed {
		log.InfoContext(ctx, "Dispatch blocked by ownership check", "error_kind", ownership.ErrorKind)
		metrics.DispatchesTotal.WithLabelValues("blocked").Inc()
		metrics.DispatchBlocked.WithLabelValues(string(ownership.ErrorKind)).Inc()
		return Result{
			Blocked:     true,
			ErrorKind:   ownership.ErrorKind,
			Message:     ownership.Message,
			Remediation: ownership.Remediation,
			Retryable:   ownership.Retryable,
			TraceID:     traceID,
		}
	}

	payload := d.buildPayload(req)

	response, err := d.graph.SendMessage(ctx, req.PageID, req.AccessToken, payload)
	if err != nil {
		return d.failedResult(ctx, log, err, traceID)
	}

	if err := d.guard.Register(ctx, fingerprint); err != nil {
		log.WarnContext(ctx, "Failed to register idempotency fingerprint", "error", err)
	}

	log.InfoContext(ctx, "Message dispatched",
		"platform_message_id", response.MessageID,
		"hours_since_last_customer_message", verdict.HoursSinceLastCustomerMessage)
	metrics.DispatchesTotal.WithLabelValues("sent").Inc()
	return Result{
		Success:           true,
		PlatformMessageID: response.MessageID,
		TraceID:           traceID,
	}
}

// buildPayload composes the platform send request. Attachment URLs pointing
// at loopback hosts are rewritten onto the public base URL so the platform
// can fetch them; text content is never rewritten.
func (d *Dispatcher) buildPayload(req Request) *graph.SendRequest {
	message := graph.OutboundMessage{}
	switch req.ContentType {
	case database.MessageTypeImage:
		message.Attachment = &graph.Attachment{
			Type: graph.AttachmentTypeImage,
			Payload: graph.AttachmentPayload{
				URL:        rewriteLoopbackURL(req.Content, d.cfg.PublicBaseURL),
				IsReusable: true,
			},
		}
	case database.MessageTypeFile:
		message.Attachment = &graph.Attachment{
			Type: graph.AttachmentTypeFile,
			Payload: graph.AttachmentPayload{
				URL:        rewriteLoopbackURL(req.Content, d.cfg.PublicBaseURL),
				IsReusable: true,
			},
		}
	default:
		message.Text = req.Content
	}

	return &graph.SendRequest{
		Recipient:     graph.Recipient{ID: req.RecipientID},
		Message:       message,
		MessagingType: graph.MessagingTypeResponse,
	}
}

// failedResult converts an outbound-call failure into a classified result.
// Transport-level failures, including timeouts, are retryable generic errors.
func (d *Dispatcher) failedResult(ctx context.Context, log *slog.Logger, err error, traceID string) Result {
	var vendorErr *graph.Error
	if errors.As(err, &vendorErr) {
		classification := Classify(vendorErr)
		log.WarnContext(ctx, "Platform rejected the send",
			"vendor_code", vendorErr.Code, "vendor_subcode", vendorErr.Subcode,
			"error_kind", classification.Kind)
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		metrics.GraphAPIErrors.WithLabelValues(string(classification.Kind)).Inc()
		return Result{
			ErrorKind:     classification.Kind,
			Message:       classification.Message,
			Remediation:   classification.Remediation,
			Retryable:     classification.Retryable,
			RequiresAdmin: classification.RequiresAdmin,
			TraceID:       traceID,
		}
	}

	log.ErrorContext(ctx, "Outbound call failed", "error", err)
	metrics.DispatchesTotal.WithLabelValues("failed").Inc()
	metrics.GraphAPIErrors.WithLabelValues(string(ErrKindGenericAPIError)).Inc()
	return Result{
		ErrorKind:   ErrKindGenericAPIError,
		Message:     "The platform request failed or timed out.",
		Remediation: RemediationFor(ErrKindGenericAPIError),
		Retryable:   true,
		TraceID:     traceID,
	}
}

// rewriteLoopbackURL replaces a loopback host in rawURL with the public base
// URL's scheme and host, preserving path and query. Unparseable input is
// returned unchanged.
func rewriteLoopbackURL(rawURL, publicBaseURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	host := strings.ToLower(u.Hostname())
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return rawURL
	}

	public, err := url.Parse(publicBaseURL)
	if err != nil || public.Host == "" {
		return rawURL
	}

	u.Scheme = public.Scheme
	u.Host = public.Host
	return u.String()
}

func blockedResult(kind ErrorKind, message, traceID string) Result {
	metrics.DispatchesTotal.WithLabelValues("blocked").Inc()
	metrics.DispatchBlocked.WithLabelValues(string(kind)).Inc()
	return Result{
		Blocked:     true,
		ErrorKind:   kind,
		Message:     message,
		Remediation: RemediationFor(kind),
		TraceID:     traceID,
	}
}
