package database

import (
	"database/sql"
	"time"
)

// Message content types as stored in messages.content_type.
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeFile  = "FILE"
)

// Page credential connection statuses.
const (
	PageStatusConnected    = "connected"
	PageStatusDisconnected = "disconnected"
)

// Conversation represents a customer-to-business session on a channel.
// There is exactly one conversation per customer per channel per tenant;
// it is created on first inbound contact and updated on every message.
type Conversation struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	CustomerID string `db:"customer_id"`
	CompanyID  string `db:"company_id"`
	Channel    string `db:"channel"`
	PageID     string `db:"page_id"`
	Metadata   string `db:"metadata"`

	LastMessageAt         sql.NullTime `db:"last_message_at"`
	LastCustomerMessageAt sql.NullTime `db:"last_customer_message_at"`
}

// Message is a single inbound or outbound communication unit within a
// conversation. Ordering within a conversation is total via CreatedAt.
// After a successful dispatch the platform message id is attached once;
// messages are never mutated otherwise.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	ConversationID uint   `db:"conversation_id"`
	Content        string `db:"content"`
	ContentType    string `db:"content_type"`
	FromCustomer   bool   `db:"from_customer"`

	PlatformMessageID sql.NullString `db:"platform_message_id"`
	SentToPlatform    bool           `db:"sent_to_platform"`
}

// PageCredential is a business's registered Messenger page identity.
// A disconnected credential must never be used for dispatch; callers
// re-read the status on every policy-sensitive use rather than caching it.
type PageCredential struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	PageID      string `db:"page_id"`
	AccessToken string `db:"access_token"`
	Name        string `db:"name"`
	Status      string `db:"status"`
	CompanyID   string `db:"company_id"`
}
