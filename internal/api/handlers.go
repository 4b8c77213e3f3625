package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/crowdesk/messenger/internal/config"
	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/dispatch"
	"github.com/crowdesk/messenger/internal/logger"
	"github.com/crowdesk/messenger/internal/metrics"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	cfg        *config.Config
	store      database.Store
	dispatcher *dispatch.Dispatcher
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(cfg *config.Config, store database.Store, dispatcher *dispatch.Dispatcher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     log.With("component", "api"),
	}
}

// SendMessageRequest is the body of POST /api/messages/send.
type SendMessageRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	PageID      string `json:"page_id"      validate:"required"`
	Content     string `json:"content"      validate:"required"`
	Type        string `json:"type"         validate:"required,oneof=TEXT IMAGE FILE"`
}

// SendMessage runs the outbound pipeline for one message and persists the
// outbound record once the dispatch succeeds.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	credential, err := h.store.FindActivePageCredential(ctx, req.PageID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Credential lookup failed", "page_id", req.PageID, "error", err)
		writeError(w, http.StatusInternalServerError, "credential lookup failed")
		return
	}
	if credential == nil {
		writeJSON(w, http.StatusUnprocessableEntity, dispatch.Result{
			Blocked:       true,
			ErrorKind:     dispatch.ErrKindInvalidAccessToken,
			Message:       "The page is not connected or its credential is disconnected.",
			Remediation:   dispatch.RemediationFor(dispatch.ErrKindInvalidAccessToken),
			RequiresAdmin: true,
		})
		return
	}

	result := h.dispatcher.Send(ctx, dispatch.Request{
		RecipientID: req.RecipientID,
		Content:     req.Content,
		ContentType: req.Type,
		PageID:      req.PageID,
		AccessToken: credential.AccessToken,
	})

	// Persist the outbound record only for a fresh successful send; blocked
	// and duplicate-suppressed dispatches must leave no message behind. The
	// platform message id is attached afterwards, the record's only mutation.
	if result.Success && !result.Duplicate {
		conversation, _, err := h.store.FindConversationWithRecentCustomerMessages(
			ctx, req.RecipientID, h.cfg.Messenger.Channel, 1)
		if err != nil {
			h.logger.ErrorContext(ctx, "Conversation lookup failed", "recipient_id", req.RecipientID, "error", err)
		} else if conversation != nil {
			message := &database.Message{
				ConversationID: conversation.ID,
				Content:        req.Content,
				ContentType:    req.Type,
				FromCustomer:   false,
			}
			if saveErr := h.store.SaveMessage(ctx, message); saveErr != nil {
				h.logger.ErrorContext(ctx, "Failed to persist outbound message",
					"conversation_id", conversation.ID, "error", saveErr)
			} else if attachErr := h.store.AttachPlatformMessageID(ctx, message.ID, result.PlatformMessageID); attachErr != nil {
				h.logger.ErrorContext(ctx, "Failed to attach platform message id",
					"message_id", message.ID, "error", attachErr)
			}
		}
	}

	switch {
	case result.Success:
		writeJSON(w, http.StatusOK, result)
	case result.Blocked:
		writeJSON(w, http.StatusUnprocessableEntity, result)
	default:
		writeJSON(w, http.StatusBadGateway, result)
	}
}

// VerifyWebhook answers the platform's webhook verification handshake.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.cfg.Messenger.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}

	h.logger.WarnContext(r.Context(), "Webhook verification rejected", "mode", mode)
	writeError(w, http.StatusForbidden, "verification failed")
}

// webhookPayload is the wire shape of inbound Messenger events.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string         `json:"id"` // page id
	Time      int64          `json:"time"`
	Messaging []webhookEvent `json:"messaging"`
}

type webhookEvent struct {
	Sender    webhookParty    `json:"sender"`
	Recipient webhookParty    `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *webhookMessage `json:"message"`
}

type webhookParty struct {
	ID string `json:"id"`
}

type webhookMessage struct {
	MID         string              `json:"mid"`
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments"`
}

type webhookAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

// ReceiveWebhook records inbound customer messages. This is what creates
// the conversation history the eligibility validator reads.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Object != "page" {
		writeError(w, http.StatusNotFound, "unsupported webhook object")
		return
	}

	for _, entry := range payload.Entry {
		for _, event := range entry.Messaging {
			if event.Message == nil {
				h.recordWebhookEvent(ctx, "non_message")
				continue
			}
			h.recordWebhookEvent(ctx, "message")
			h.storeInboundMessage(ctx, entry.ID, event.Sender.ID, event.Message)
		}
	}

	// The platform expects a quick 200 regardless of processing outcome.
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}

func (h *Handler) recordWebhookEvent(ctx context.Context, eventType string) {
	metrics.WebhookEventsTotal.WithLabelValues(eventType).Inc()
	h.logger.DebugContext(ctx, "Webhook event received", "type", eventType)
}

// storeInboundMessage upserts the conversation and appends the customer
// message. Failures are logged, never surfaced to the platform.
func (h *Handler) storeInboundMessage(ctx context.Context, pageID, senderID string, inbound *webhookMessage) {
	companyID := ""
	if credential, err := h.store.FindActivePageCredential(ctx, pageID); err == nil && credential != nil {
		companyID = credential.CompanyID
	}

	conversation := &database.Conversation{
		CustomerID: senderID,
		CompanyID:  companyID,
		Channel:    h.cfg.Messenger.Channel,
		PageID:     pageID,
		Metadata:   `{"page_id":"` + pageID + `"}`,
	}
	if err := h.store.UpsertConversation(ctx, conversation); err != nil {
		h.logger.ErrorContext(ctx, "Failed to upsert conversation",
			"customer_id", senderID, "page_id", pageID, "error", err)
		return
	}

	content := inbound.Text
	contentType := database.MessageTypeText
	if len(inbound.Attachments) > 0 {
		att := inbound.Attachments[0]
		content = att.Payload.URL
		contentType = database.MessageTypeFile
		if att.Type == "image" {
			contentType = database.MessageTypeImage
		}
	}
	if content == "" {
		return
	}

	message := &database.Message{
		ConversationID:    conversation.ID,
		Content:           content,
		ContentType:       contentType,
		FromCustomer:      true,
		PlatformMessageID: sql.NullString{String: inbound.MID, Valid: inbound.MID != ""},
		SentToPlatform:    false,
	}
	if err := h.store.SaveMessage(ctx, message); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save inbound message",
			"conversation_id", conversation.ID, "error", err)
		return
	}

	h.logger.DebugContext(ctx, "Inbound message recorded",
		"conversation_id", conversation.ID,
		"content_preview", logger.TruncateString(content, 50))
}

// ConnectPageRequest is the body of POST /api/pages.
type ConnectPageRequest struct {
	PageID      string `json:"page_id"      validate:"required"`
	AccessToken string `json:"access_token" validate:"required"`
	Name        string `json:"name"`
	CompanyID   string `json:"company_id"   validate:"required"`
}

// ConnectPage registers (or refreshes) a page credential.
func (h *Handler) ConnectPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ConnectPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	credential := &database.PageCredential{
		PageID:      req.PageID,
		AccessToken: req.AccessToken,
		Name:        req.Name,
		Status:      database.PageStatusConnected,
		CompanyID:   req.CompanyID,
	}
	if err := h.store.SavePageCredential(ctx, credential); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save page credential", "page_id", req.PageID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save page credential")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"page_id": req.PageID, "status": credential.Status})
}

// DisconnectPage flips a page credential to disconnected. Dispatch through
// the page stops immediately because the status is re-read on every send.
func (h *Handler) DisconnectPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pageID := chi.URLParam(r, "pageID")

	if err := h.store.SetPageCredentialStatus(ctx, pageID, database.PageStatusDisconnected); err != nil {
		h.logger.ErrorContext(ctx, "Failed to disconnect page", "page_id", pageID, "error", err)
		writeError(w, http.StatusNotFound, "page not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"page_id": pageID, "status": database.PageStatusDisconnected})
}

// Health reports service and database liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
