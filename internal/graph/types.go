package graph

// Attachment types accepted by the send API.
const (
	AttachmentTypeImage = "image"
	AttachmentTypeFile  = "file"
)

// MessagingTypeResponse marks an outbound message as a reply within the
// platform's customer-service window.
const MessagingTypeResponse = "RESPONSE"

// Recipient identifies the target of an outbound message.
type Recipient struct {
	ID string `json:"id"`
}

// AttachmentPayload carries the publicly fetchable URL of an attachment.
type AttachmentPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable,omitempty"`
}

// Attachment is an image or file attached to an outbound message.
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// OutboundMessage is the message body of a send request. Exactly one of
// Text or Attachment is set.
type OutboundMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// SendRequest is the body of POST /{pageID}/messages.
type SendRequest struct {
	Recipient     Recipient       `json:"recipient"`
	Message       OutboundMessage `json:"message"`
	MessagingType string          `json:"messaging_type"`
}

// SendResponse is the success response of the send API.
type SendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// threadOwnerResponse is the wire shape of GET /{pageID}/thread_owner.
type threadOwnerResponse struct {
	Data []struct {
		ThreadOwner struct {
			AppID string `json:"app_id"`
		} `json:"thread_owner"`
	} `json:"data"`
}

// Profile is the subset of a user profile the pipeline cares about.
// A successful fetch means the recipient exists and is reachable.
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
