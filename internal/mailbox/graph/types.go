package graph

import (
	"time"

	"github.com/shineum/submission-triage/internal/email"
)

// messagePage is one page of GET /messages.
type messagePage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

type graphMessage struct {
	ID                string            `json:"id"`
	ConversationID    string            `json:"conversationId"`
	InternetMessageID string            `json:"internetMessageId"`
	Subject           string            `json:"subject"`
	From              *recipient        `json:"from"`
	ReceivedDateTime  time.Time         `json:"receivedDateTime"`
	Attachments       []graphAttachment `json:"attachments"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// graphAttachment is a fileAttachment. ContentBytes is only present when
// the attachment is fetched by ID.
type graphAttachment struct {
	ODataType    string `json:"@odata.type,omitempty"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// replyRequest is the body of POST /messages/{id}/reply.
type replyRequest struct {
	Comment string `json:"comment"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toMessage converts a listed Graph message into the shared model.
// Item attachments (attached emails) have no file content and are skipped.
func toMessage(gm graphMessage) *email.Message {
	msg := &email.Message{
		ID:        gm.ID,
		ThreadID:  gm.ConversationID,
		MessageID: gm.InternetMessageID,
		Subject:   gm.Subject,
		Date:      gm.ReceivedDateTime,
	}
	if gm.From != nil {
		msg.From = gm.From.EmailAddress.Address
	}
	for _, a := range gm.Attachments {
		if a.ODataType != "" && a.ODataType != fileAttachmentType {
			continue
		}
		msg.Attachments = append(msg.Attachments, email.AttachmentRef{ID: a.ID, Filename: a.Name})
	}
	return msg
}

const fileAttachmentType = "#microsoft.graph.fileAttachment"
