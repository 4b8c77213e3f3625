package api_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crowdesk/messenger/internal/api"
	"github.com/crowdesk/messenger/internal/config"
	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/dispatch"
	"github.com/crowdesk/messenger/internal/graph"
	"github.com/crowdesk/messenger/internal/idempotency"
)

// memStore is an in-memory database.Store for handler tests.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]*database.Conversation // keyed by customerID
	messages      []*database.Message
	credentials   map[string]*database.PageCredential
	nextID        uint
	pingErr       error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]*database.Conversation),
		credentials:   make(map[string]*database.PageCredential),
		nextID:        1,
	}
}

func (s *memStore) Ping(_ context.Context) error { return s.pingErr }

func (s *memStore) FindConversationWithRecentCustomerMessages(_ context.Context, customerID, channel string, limit int) (*database.Conversation, []database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[customerID]
	if !ok || conversation.Channel != channel {
		return nil, nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var recent []database.Message
	for i := len(s.messages) - 1; i >= 0 && len(recent) < limit; i-- {
		m := s.messages[i]
		if m.ConversationID == conversation.ID && m.FromCustomer {
			recent = append(recent, *m)
		}
	}
	return conversation, recent, nil
}

func (s *memStore) FindActivePageCredential(_ context.Context, pageID string) (*database.PageCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[pageID]
	if !ok || credential.Status != database.PageStatusConnected {
		return nil, nil
	}
	return credential, nil
}

func (s *memStore) UpsertConversation(_ context.Context, conversation *database.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.conversations[conversation.CustomerID]; ok {
		conversation.ID = existing.ID
		s.conversations[conversation.CustomerID] = conversation
		return nil
	}
	conversation.ID = s.nextID
	s.nextID++
	s.conversations[conversation.CustomerID] = conversation
	return nil
}

func (s *memStore) SaveMessage(_ context.Context, message *database.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message.ID = s.nextID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	s.nextID++
	s.messages = append(s.messages, message)
	return nil
}

func (s *memStore) AttachPlatformMessageID(_ context.Context, messageID uint, platformMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ID == messageID {
			m.PlatformMessageID.String = platformMessageID
			m.PlatformMessageID.Valid = true
			m.SentToPlatform = true
			return nil
		}
	}
	return nil
}

func (s *memStore) SavePageCredential(_ context.Context, credential *database.PageCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credential.PageID] = credential
	return nil
}

func (s *memStore) SetPageCredentialStatus(_ context.Context, pageID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, ok := s.credentials[pageID]
	if !ok {
		return sql.ErrNoRows
	}
	credential.Status = status
	return nil
}

func (s *memStore) RunSQLMaintenance(_ context.Context) error { return nil }

// stubGraph answers every platform call successfully.
type stubGraph struct{}

func (stubGraph) SendMessage(_ context.Context, _, _ string, req *graph.SendRequest) (*graph.SendResponse, error) {
	return &graph.SendResponse{RecipientID: req.Recipient.ID, MessageID: "mid.test"}, nil
}

func (stubGraph) ThreadOwner(_ context.Context, _, _, _ string) (string, error) {
	return "", nil
}

func (stubGraph) UserProfile(_ context.Context, recipientID, _ string) (*graph.Profile, error) {
	return &graph.Profile{ID: recipientID}, nil
}

func newTestRouter(t *testing.T, store *memStore) http.Handler {
	t.Helper()

	cfg := &config.Config{}
	cfg.Messenger.Channel = "FACEBOOK"
	cfg.Messenger.VerifyToken = "verify-secret"
	cfg.Messenger.PublicBaseURL = "https://chat.example.com"
	cfg.Graph.AppID = "app-1"

	guard := idempotency.NewMemoryGuard(5*time.Minute, 100, nil)
	dispatcher := dispatch.NewDispatcher(store, stubGraph{}, guard, dispatch.Config{
		AppID:         cfg.Graph.AppID,
		Channel:       cfg.Messenger.Channel,
		PublicBaseURL: cfg.Messenger.PublicBaseURL,
	}, nil)

	return api.NewRouter(cfg, store, dispatcher, nil)
}

func connectedStore(t *testing.T) *memStore {
	t.Helper()

	store := newMemStore()
	store.credentials["9876543210"] = &database.PageCredential{
		ID:          1,
		PageID:      "9876543210",
		AccessToken: "token-1",
		Status:      database.PageStatusConnected,
		CompanyID:   "company-1",
	}
	return store
}

func TestVerifyWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      url.Values
		wantStatus int
		wantBody   string
	}{
		{
			name: "valid handshake echoes the challenge",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {"verify-secret"},
				"hub.challenge":    {"challenge-123"},
			},
			wantStatus: http.StatusOK,
			wantBody:   "challenge-123",
		},
		{
			name: "wrong token is rejected",
			query: url.Values{
				"hub.mode":         {"subscribe"},
				"hub.verify_token": {"wrong"},
				"hub.challenge":    {"challenge-123"},
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "wrong mode is rejected",
			query: url.Values{
				"hub.mode":         {"unsubscribe"},
				"hub.verify_token": {"verify-secret"},
			},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := newTestRouter(t, newMemStore())
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query.Encode(), nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestReceiveWebhook_RecordsInboundMessage(t *testing.T) {
	t.Parallel()

	store := connectedStore(t)
	router := newTestRouter(t, store)

	payload := `{
		"object": "page",
		"entry": [{
			"id": "9876543210",
			"time": 1724800000,
			"messaging": [{
				"sender": {"id": "1234567890"},
				"recipient": {"id": "9876543210"},
				"timestamp": 1724800000,
				"message": {"mid": "mid.inbound1", "text": "hi, I have a question"}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "EVENT_RECEIVED" {
		t.Errorf("body = %q, want EVENT_RECEIVED", rec.Body.String())
	}

	conversation, messages, err := store.FindConversationWithRecentCustomerMessages(
		context.Background(), "1234567890", "FACEBOOK", 5)
	if err != nil {
		t.Fatalf("store lookup failed: %v", err)
	}
	if conversation == nil {
		t.Fatal("no conversation created for the inbound event")
	}
	if conversation.CompanyID != "company-1" {
		t.Errorf("conversation companyID = %q, want company-1", conversation.CompanyID)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d customer messages, want 1", len(messages))
	}
	if messages[0].Content != "hi, I have a question" {
		t.Errorf("message content = %q, want the inbound text", messages[0].Content)
	}
	if !messages[0].FromCustomer {
		t.Error("message fromCustomer = false, want true")
	}
}

func TestReceiveWebhook_UnsupportedObject(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, newMemStore())
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":"instagram"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSendMessage_EndToEnd(t *testing.T) {
	t.Parallel()

	store := connectedStore(t)
	router := newTestRouter(t, store)

	// Inbound message first so the recipient is eligible.
	store.UpsertConversation(context.Background(), &database.Conversation{
		CustomerID: "1234567890",
		CompanyID:  "company-1",
		Channel:    "FACEBOOK",
		PageID:     "9876543210",
	})
	conversation := store.conversations["1234567890"]
	store.SaveMessage(context.Background(), &database.Message{
		ConversationID: conversation.ID,
		Content:        "hello",
		ContentType:    database.MessageTypeText,
		FromCustomer:   true,
	})

	body := `{"recipient_id":"1234567890","page_id":"9876543210","content":"Happy to help!","type":"TEXT"}`
	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}

	// The outbound record should carry the platform message id.
	store.mu.Lock()
	defer store.mu.Unlock()
	var outbound *database.Message
	for _, m := range store.messages {
		if !m.FromCustomer {
			outbound = m
		}
	}
	if outbound == nil {
		t.Fatal("no outbound message was persisted")
	}
	if !outbound.PlatformMessageID.Valid || outbound.PlatformMessageID.String != "mid.test" {
		t.Errorf("outbound platformMessageID = %+v, want mid.test", outbound.PlatformMessageID)
	}
}

func seedEligibleConversation(t *testing.T, store *memStore, lastCustomerMessageAt time.Time) {
	t.Helper()

	ctx := context.Background()
	if err := store.UpsertConversation(ctx, &database.Conversation{
		CustomerID: "1234567890",
		CompanyID:  "company-1",
		Channel:    "FACEBOOK",
		PageID:     "9876543210",
	}); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	if err := store.SaveMessage(ctx, &database.Message{
		ConversationID: store.conversations["1234567890"].ID,
		Content:        "hello",
		ContentType:    database.MessageTypeText,
		FromCustomer:   true,
		CreatedAt:      lastCustomerMessageAt,
	}); err != nil {
		t.Fatalf("failed to seed customer message: %v", err)
	}
}

func (s *memStore) outboundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.messages {
		if !m.FromCustomer {
			count++
		}
	}
	return count
}

func TestSendMessage_BlockedSendPersistsNothing(t *testing.T) {
	t.Parallel()

	store := connectedStore(t)
	router := newTestRouter(t, store)
	seedEligibleConversation(t, store, time.Now().Add(-30*time.Hour))

	body := `{"recipient_id":"1234567890","page_id":"9876543210","content":"too late","type":"TEXT"}`
	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body = %s", rec.Code, rec.Body.String())
	}
	if got := store.outboundCount(); got != 0 {
		t.Errorf("blocked send persisted %d outbound message(s), want 0", got)
	}
}

func TestSendMessage_DuplicatePersistsSingleRecord(t *testing.T) {
	t.Parallel()

	store := connectedStore(t)
	router := newTestRouter(t, store)
	seedEligibleConversation(t, store, time.Now().Add(-time.Hour))

	body := `{"recipient_id":"1234567890","page_id":"9876543210","content":"same reply","type":"TEXT"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("send %d status = %d, want 200; body = %s", i+1, rec.Code, rec.Body.String())
		}
	}

	if got := store.outboundCount(); got != 1 {
		t.Errorf("two identical sends persisted %d outbound message(s), want 1", got)
	}
}

func TestSendMessage_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "invalid JSON",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing required fields",
			body:       `{"recipient_id":"1234567890"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsupported type",
			body:       `{"recipient_id":"1234567890","page_id":"9876543210","content":"x","type":"AUDIO"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown page",
			body:       `{"recipient_id":"1234567890","page_id":"0000000000","content":"x","type":"TEXT"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "no conversation history",
			body:       `{"recipient_id":"5555555555","page_id":"9876543210","content":"x","type":"TEXT"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router := newTestRouter(t, connectedStore(t))
			req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestConnectAndDisconnectPage(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	router := newTestRouter(t, store)

	body := `{"page_id":"1111111111","access_token":"token-x","name":"Support Page","company_id":"company-9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}

	credential, err := store.FindActivePageCredential(context.Background(), "1111111111")
	if err != nil || credential == nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if credential.Status != database.PageStatusConnected {
		t.Errorf("credential status = %q, want connected", credential.Status)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/pages/1111111111", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}

	credential, err = store.FindActivePageCredential(context.Background(), "1111111111")
	if err != nil {
		t.Fatalf("credential lookup failed: %v", err)
	}
	if credential != nil {
		t.Error("disconnected credential still returned as active")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, newMemStore())
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("degraded when the database is down", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		store.pingErr = context.DeadlineExceeded
		router := newTestRouter(t, store)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})
}
