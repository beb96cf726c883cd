package domain

import "time"

// EmailHeader is the normalized header-level view of one provider
// message. The mail client flattens the provider's non-uniform payloads
// (structured vs. string "from" fields) into this closed shape before
// anything downstream sees them.
type EmailHeader struct {
	ID        string     `json:"id"`
	MailboxID string     `json:"mailbox_id"`
	Subject   string     `json:"subject"`
	From      string     `json:"from"`   // display form: "Name <addr>" or bare addr
	Sender    string     `json:"sender"` // bare address
	Date      *time.Time `json:"date"`   // nil when the provider date failed to parse
	Seen      bool       `json:"seen"`
	HasBody   bool       `json:"has_body"`
	BodyText  string     `json:"body_text,omitempty"` // body carried in the list payload, when the provider includes one
	Path      string     `json:"path"`                // provider detail path for body fetch
}

// EmailMessage is a full message with body content.
type EmailMessage struct {
	EmailHeader
	ToName string `json:"to_name,omitempty"` // display name on the To header, when present
	Text   string `json:"text"`
	HTML   string `json:"html"`
}

// Body returns the text content, falling back to raw HTML when the
// provider delivered no plain-text part.
func (m EmailMessage) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.HTML
}
