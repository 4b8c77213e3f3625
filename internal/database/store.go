package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// FindConversationWithRecentCustomerMessages retrieves the conversation
	// for the given customer on the given channel, together with the most
	// recent 'limit' from-customer messages, newest first.
	// Returns (nil, nil, nil) when no conversation exists.
	FindConversationWithRecentCustomerMessages(ctx context.Context, customerID, channel string, limit int) (*Conversation, []Message, error)

	// FindActivePageCredential retrieves the credential for pageID.
	// Returns (nil, nil) when the page is unknown or disconnected.
	FindActivePageCredential(ctx context.Context, pageID string) (*PageCredential, error)

	// UpsertConversation inserts the conversation or, if one already exists
	// for (customer, channel, company), refreshes its timestamps and metadata.
	// The conversation's ID is populated either way.
	UpsertConversation(ctx context.Context, conversation *Conversation) error

	// SaveMessage inserts a new message record and bumps the owning
	// conversation's last-message timestamps.
	SaveMessage(ctx context.Context, message *Message) error

	// AttachPlatformMessageID records the platform-assigned message id on a
	// message after a successful dispatch. This is the only mutation a
	// message undergoes.
	AttachPlatformMessageID(ctx context.Context, messageID uint, platformMessageID string) error

	// SavePageCredential inserts or updates a page credential by page id.
	SavePageCredential(ctx context.Context, credential *PageCredential) error

	// SetPageCredentialStatus flips a credential's connection status.
	SetPageCredentialStatus(ctx context.Context, pageID, status string) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindConversationWithRecentCustomerMessages retrieves the conversation for
// the given customer on the given channel plus its recent customer messages.
func (s *sqlxStore) FindConversationWithRecentCustomerMessages(ctx context.Context, customerID, channel string, limit int) (*Conversation, []Message, error) {
	if customerID == "" {
		return nil, nil, fmt.Errorf("customer_id cannot be empty")
	}
	if channel == "" {
		return nil, nil, fmt.Errorf("channel cannot be empty")
	}
	if limit <= 0 {
		limit = 5
		s.logger.DebugContext(ctx, "Invalid limit provided, using default",
			"customer_id", customerID, "default_limit", limit)
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	var conversation Conversation
	convQuery := `
        SELECT id, created_at, updated_at, customer_id, company_id, channel,
               page_id, metadata, last_message_at, last_customer_message_at
        FROM conversations
        WHERE customer_id = ? AND channel = ?
        LIMIT 1;
    `

	err := s.db.GetContext(ctx, &conversation, convQuery, customerID, channel)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No conversation found",
			"customer_id", customerID, "channel", channel)
		return nil, nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching conversation",
			"customer_id", customerID, "error", err)
		return nil, nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting conversation",
			"customer_id", customerID, "channel", channel, "error", err)
		return nil, nil, fmt.Errorf("failed to get conversation for customer %s: %w", customerID, err)
	}

	var msgs []Message
	msgQuery := `
        SELECT id, created_at, updated_at, conversation_id, content, content_type,
               from_customer, platform_message_id, sent_to_platform
        FROM messages
        WHERE conversation_id = ? AND from_customer = 1
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	err = s.db.SelectContext(ctx, &msgs, msgQuery, conversation.ID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent customer messages",
			"conversation_id", conversation.ID, "error", err)
		return nil, nil, fmt.Errorf("failed to get recent customer messages for conversation %d: %w", conversation.ID, err)
	}

	s.logger.DebugContext(ctx, "Fetched conversation with recent customer messages",
		"conversation_id", conversation.ID, "customer_message_count", len(msgs))
	return &conversation, msgs, nil
}

// FindActivePageCredential retrieves the connected credential for a page.
// A disconnected or unknown page yields (nil, nil); the caller decides
// how to surface that.
func (s *sqlxStore) FindActivePageCredential(ctx context.Context, pageID string) (*PageCredential, error) {
	if pageID == "" {
		return nil, fmt.Errorf("page_id cannot be empty")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var credential PageCredential
	query := `
        SELECT id, created_at, updated_at, page_id, access_token, name, status, company_id
        FROM page_credentials
        WHERE page_id = ? AND status = ?
        LIMIT 1;
    `

	err := s.db.GetContext(ctx, &credential, query, pageID, PageStatusConnected)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No active page credential found", "page_id", pageID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching page credential",
			"page_id", pageID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting page credential", "page_id", pageID, "error", err)
		return nil, fmt.Errorf("failed to get page credential for page %s: %w", pageID, err)
	}

	return &credential, nil
}

// UpsertConversation inserts or refreshes the conversation for
// (customer, channel, company) and populates its ID.
func (s *sqlxStore) UpsertConversation(ctx context.Context, conversation *Conversation) error {
	if conversation == nil {
		return fmt.Errorf("cannot save nil conversation")
	}
	if conversation.CustomerID == "" {
		return fmt.Errorf("conversation must have a non-empty customer_id")
	}
	if conversation.Channel == "" {
		return fmt.Errorf("conversation must have a non-empty channel")
	}

	now := time.Now().UTC()
	if conversation.CreatedAt.IsZero() {
		conversation.CreatedAt = now
	}
	conversation.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for conversation upsert",
			"customer_id", conversation.CustomerID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var existingID uint
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM conversations WHERE customer_id = ? AND channel = ? AND company_id = ? LIMIT 1`,
		conversation.CustomerID, conversation.Channel, conversation.CompanyID)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking if conversation exists",
			"customer_id", conversation.CustomerID, "error", err)
		return fmt.Errorf("failed to check if conversation exists for customer %s: %w", conversation.CustomerID, err)
	}

	exists := err == nil

	if exists {
		conversation.ID = existingID
		query := `
            UPDATE conversations SET
                page_id = :page_id,
                metadata = :metadata,
                last_message_at = :last_message_at,
                last_customer_message_at = :last_customer_message_at,
                updated_at = :updated_at
            WHERE id = :id
        `
		if _, err = tx.NamedExecContext(ctx, query, conversation); err != nil {
			s.logger.ErrorContext(ctx, "Error updating conversation",
				"conversation_id", conversation.ID, "error", err)
			return fmt.Errorf("failed to update conversation %d: %w", conversation.ID, err)
		}
	} else {
		query := `
            INSERT INTO conversations (
                customer_id, company_id, channel, page_id, metadata,
                last_message_at, last_customer_message_at, created_at, updated_at
            ) VALUES (
                :customer_id, :company_id, :channel, :page_id, :metadata,
                :last_message_at, :last_customer_message_at, :created_at, :updated_at
            )
        `
		result, execErr := tx.NamedExecContext(ctx, query, conversation)
		if execErr != nil {
			s.logger.ErrorContext(ctx, "Error inserting conversation",
				"customer_id", conversation.CustomerID, "error", execErr)
			return fmt.Errorf("failed to insert conversation for customer %s: %w", conversation.CustomerID, execErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			//nolint:gosec // integer overflow conversion is acceptable here
			conversation.ID = uint(id)
		} else {
			s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving conversation",
				"customer_id", conversation.CustomerID, "error", idErr)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"customer_id", conversation.CustomerID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	operation := "updated"
	if !exists {
		operation = "created"
	}
	s.logger.DebugContext(ctx, "Conversation saved successfully",
		"operation", operation, "conversation_id", conversation.ID)
	return nil
}

// SaveMessage inserts a new message record and bumps the conversation's
// last-message timestamps inside the same transaction.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ConversationID == 0 {
		return fmt.Errorf("message must have a non-zero conversation_id")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.ContentType == "" {
		message.ContentType = MessageTypeText
	}

	now := time.Now().UTC()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now
	}
	message.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving message",
			"conversation_id", message.ConversationID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	query := `
        INSERT INTO messages (conversation_id, content, content_type, from_customer,
                              platform_message_id, sent_to_platform, created_at, updated_at)
        VALUES (:conversation_id, :content, :content_type, :from_customer,
                :platform_message_id, :sent_to_platform, :created_at, :updated_at);
    `

	result, err := tx.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"conversation_id", message.ConversationID, "error", err)
		return fmt.Errorf("failed to save message (conversation %d): %w", message.ConversationID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"conversation_id", message.ConversationID, "error", idErr)
	}

	if message.FromCustomer {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_at = ?, last_customer_message_at = ?, updated_at = ? WHERE id = ?`,
			message.CreatedAt, message.CreatedAt, now, message.ConversationID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
			message.CreatedAt, now, message.ConversationID)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating conversation timestamps",
			"conversation_id", message.ConversationID, "error", err)
		return fmt.Errorf("failed to update conversation %d timestamps: %w", message.ConversationID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"conversation_id", message.ConversationID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message saved successfully",
		"conversation_id", message.ConversationID, "message_id", message.ID,
		"from_customer", message.FromCustomer)
	return nil
}

// AttachPlatformMessageID records the platform-assigned id on a dispatched message.
func (s *sqlxStore) AttachPlatformMessageID(ctx context.Context, messageID uint, platformMessageID string) error {
	if messageID == 0 {
		return fmt.Errorf("message_id cannot be zero")
	}
	if platformMessageID == "" {
		return fmt.Errorf("platform_message_id cannot be empty")
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET platform_message_id = ?, sent_to_platform = 1, updated_at = ? WHERE id = ?`,
		platformMessageID, now, messageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error attaching platform message id",
			"message_id", messageID, "error", err)
		return fmt.Errorf("failed to attach platform message id to message %d: %w", messageID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when attaching platform message id",
			"message_id", messageID, "affected", affected)
	}

	s.logger.DebugContext(ctx, "Platform message id attached",
		"message_id", messageID, "platform_message_id", platformMessageID)
	return nil
}

// SavePageCredential inserts or updates a page credential based on PageID.
func (s *sqlxStore) SavePageCredential(ctx context.Context, credential *PageCredential) error {
	if credential == nil {
		return fmt.Errorf("cannot save nil page credential")
	}
	if credential.PageID == "" {
		return fmt.Errorf("page credential must have a non-empty page_id")
	}
	if credential.AccessToken == "" {
		return fmt.Errorf("page credential must have a non-empty access_token")
	}
	if credential.Status == "" {
		credential.Status = PageStatusConnected
	}

	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}
	credential.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving page credential",
			"page_id", credential.PageID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT 1 FROM page_credentials WHERE page_id = ? LIMIT 1`, credential.PageID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking if page credential exists",
			"page_id", credential.PageID, "error", err)
		return fmt.Errorf("failed to check if credential exists for page %s: %w", credential.PageID, err)
	}

	var result sql.Result
	if exists {
		query := `
            UPDATE page_credentials SET
                access_token = :access_token,
                name = :name,
                status = :status,
                company_id = :company_id,
                updated_at = :updated_at
            WHERE page_id = :page_id
        `
		result, err = tx.NamedExecContext(ctx, query, credential)
	} else {
		query := `
            INSERT INTO page_credentials (
                page_id, access_token, name, status, company_id, created_at, updated_at
            ) VALUES (
                :page_id, :access_token, :name, :status, :company_id, :created_at, :updated_at
            )
        `
		result, err = tx.NamedExecContext(ctx, query, credential)
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving page credential",
			"page_id", credential.PageID, "error", err)
		return fmt.Errorf("failed to save credential for page %s: %w", credential.PageID, err)
	}

	if !exists {
		if id, idErr := result.LastInsertId(); idErr == nil {
			//nolint:gosec // integer overflow conversion is acceptable here
			credential.ID = uint(id)
		} else {
			s.logger.WarnContext(ctx, "Could not get last insert ID for page credential",
				"page_id", credential.PageID, "error", idErr)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"page_id", credential.PageID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	operation := "updated"
	if !exists {
		operation = "created"
	}
	s.logger.DebugContext(ctx, "Page credential saved successfully",
		"operation", operation, "page_id", credential.PageID)
	return nil
}

// SetPageCredentialStatus flips a credential's connection status.
func (s *sqlxStore) SetPageCredentialStatus(ctx context.Context, pageID, status string) error {
	if pageID == "" {
		return fmt.Errorf("page_id cannot be empty")
	}
	if status != PageStatusConnected && status != PageStatusDisconnected {
		return fmt.Errorf("invalid page credential status: %s", status)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE page_credentials SET status = ?, updated_at = ? WHERE page_id = ?`,
		status, now, pageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating page credential status",
			"page_id", pageID, "status", status, "error", err)
		return fmt.Errorf("failed to set status for page %s: %w", pageID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("no credential found for page %s", pageID)
	}

	s.logger.InfoContext(ctx, "Page credential status updated",
		"page_id", pageID, "status", status)
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
