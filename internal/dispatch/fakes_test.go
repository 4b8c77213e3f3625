package dispatch_test

import (
	"context"
	"sync"
	"time"

	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/graph"
)

// fakeStore implements dispatch.ConversationStore from canned values.
type fakeStore struct {
	conversation *database.Conversation
	messages     []database.Message
	findErr      error

	credential    *database.PageCredential
	credentialErr error
}

func (s *fakeStore) FindConversationWithRecentCustomerMessages(_ context.Context, _, _ string, _ int) (*database.Conversation, []database.Message, error) {
	if s.findErr != nil {
		return nil, nil, s.findErr
	}
	return s.conversation, s.messages, nil
}

func (s *fakeStore) FindActivePageCredential(_ context.Context, _ string) (*database.PageCredential, error) {
	if s.credentialErr != nil {
		return nil, s.credentialErr
	}
	return s.credential, nil
}

// fakeGraph implements dispatch.GraphAPI and counts platform calls.
type fakeGraph struct {
	mu sync.Mutex

	sendResponse *graph.SendResponse
	sendErr      error
	sendCalls    int
	lastSendReq  *graph.SendRequest

	ownerAppID string
	ownerErr   error

	profile    *graph.Profile
	profileErr error
}

func (g *fakeGraph) SendMessage(_ context.Context, _, _ string, req *graph.SendRequest) (*graph.SendResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendCalls++
	g.lastSendReq = req
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	if g.sendResponse != nil {
		return g.sendResponse, nil
	}
	return &graph.SendResponse{RecipientID: req.Recipient.ID, MessageID: "mid.default"}, nil
}

func (g *fakeGraph) ThreadOwner(_ context.Context, _, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ownerErr != nil {
		return "", g.ownerErr
	}
	return g.ownerAppID, nil
}

func (g *fakeGraph) UserProfile(_ context.Context, recipientID, _ string) (*graph.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.profileErr != nil {
		return nil, g.profileErr
	}
	if g.profile != nil {
		return g.profile, nil
	}
	return &graph.Profile{ID: recipientID}, nil
}

func (g *fakeGraph) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sendCalls
}

func (g *fakeGraph) lastRequest() *graph.SendRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSendReq
}

// storeWithHistory returns a fakeStore holding one conversation whose newest
// customer message was sent at the given time, plus a connected credential.
func storeWithHistory(lastCustomerMessageAt time.Time) *fakeStore {
	return &fakeStore{
		conversation: &database.Conversation{
			ID:         1,
			CustomerID: testRecipientID,
			CompanyID:  "company-1",
			Channel:    "FACEBOOK",
			PageID:     testPageID,
		},
		messages: []database.Message{
			{
				ID:             10,
				ConversationID: 1,
				Content:        "hello, I need help",
				ContentType:    database.MessageTypeText,
				FromCustomer:   true,
				CreatedAt:      lastCustomerMessageAt,
			},
		},
		credential: &database.PageCredential{
			ID:          1,
			PageID:      testPageID,
			AccessToken: testAccessToken,
			Status:      database.PageStatusConnected,
			CompanyID:   "company-1",
		},
	}
}

const (
	testRecipientID = "1234567890"
	testPageID      = "9876543210"
	testAccessToken = "EAAG-test-token"
	testAppID       = "app-12345"
)
