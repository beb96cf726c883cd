package mailapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/dasher-monitor/internal/domain"
)

// Account is one provider account. The provider embeds the account's
// mailbox list in the payload; Mailbox() resolves folder ids from it.
type Account struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"isActive"`
	CreatedAt string    `json:"createdAt"`
	Mailboxes []Mailbox `json:"mailboxes"`
}

// Mailbox resolves an embedded mailbox by path, case-insensitively
// ("INBOX", "Trash", "Junk" all as the provider spells them).
func (a Account) Mailbox(path string) (Mailbox, bool) {
	for _, mb := range a.Mailboxes {
		if strings.EqualFold(mb.Path, path) {
			return mb, true
		}
	}
	return Mailbox{}, false
}

// Mailbox is one folder inside a provider account.
type Mailbox struct {
	ID            string `json:"id"`
	Path          string `json:"path"`
	TotalMessages int    `json:"totalMessages"`
}

// MessagePage is one page of message headers plus the collection total.
type MessagePage struct {
	Headers []domain.EmailHeader
	Total   int
}

// Attachment is a downloaded attachment with its transfer metadata.
type Attachment struct {
	Content     []byte
	ContentType string
	Filename    string
}

// fromField tolerates the provider's two spellings of a message sender:
// a bare display string, or an {address, name} object.
type fromField struct {
	Name    string
	Address string
	Display string
}

func (f *fromField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.Display = s
		return nil
	}
	var obj struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	f.Address = obj.Address
	f.Name = obj.Name
	if obj.Name != "" {
		f.Display = fmt.Sprintf("%s <%s>", obj.Name, obj.Address)
	} else {
		f.Display = obj.Address
	}
	return nil
}

// textField tolerates body parts arriving as a string or an array of
// strings; arrays are joined with newlines.
type textField string

func (t *textField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '[' {
		var parts []string
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		*t = textField(strings.Join(parts, "\n"))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = textField(s)
	return nil
}

// wireMessage is the provider's message payload, shared between the list
// (header) and detail (full body) endpoints.
type wireMessage struct {
	AtID      string      `json:"@id"`
	ID        string      `json:"id"`
	AccountID string      `json:"accountId"`
	MailboxID string      `json:"mailboxId"`
	From      fromField   `json:"from"`
	To        []fromField `json:"to"`
	Subject   string      `json:"subject"`
	Intro     string      `json:"intro"`
	Seen      bool        `json:"seen"`
	Date      string      `json:"date"`
	CreatedAt string      `json:"createdAt"`
	Text      textField   `json:"text"`
	HTML      textField   `json:"html"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
}

// parseDate accepts the handful of timestamp spellings seen from the
// provider. A nil result means the date could not be parsed; downstream
// sorting treats that as minus infinity.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// Header flattens the wire payload into the normalized header view. The
// list payload usually carries the body parts too; they ride along so
// downstream classification does not need a detail fetch per message.
func (m wireMessage) Header() domain.EmailHeader {
	date := m.Date
	if date == "" {
		date = m.CreatedAt
	}
	body := string(m.Text)
	if body == "" {
		body = string(m.HTML)
	}
	if body == "" {
		body = m.Intro
	}
	return domain.EmailHeader{
		ID:        m.ID,
		MailboxID: m.MailboxID,
		Subject:   m.Subject,
		From:      m.From.Display,
		Sender:    m.From.Address,
		Date:      parseDate(date),
		Seen:      m.Seen,
		HasBody:   m.Intro != "" || m.Text != "" || m.HTML != "",
		BodyText:  body,
		Path:      m.AtID,
	}
}

// Message expands the wire payload into a full message with body parts.
func (m wireMessage) Message() domain.EmailMessage {
	msg := domain.EmailMessage{
		EmailHeader: m.Header(),
		Text:        string(m.Text),
		HTML:        string(m.HTML),
	}
	for _, to := range m.To {
		if to.Name != "" {
			msg.ToName = to.Name
			break
		}
	}
	return msg
}

// pageView is the JSON-LD paging block.
type pageView struct {
	Next string `json:"next"`
}

type accountPage struct {
	Member     []Account `json:"member"`
	TotalItems int       `json:"totalItems"`
	View       pageView  `json:"view"`
}

type mailboxPage struct {
	Member     []Mailbox `json:"member"`
	TotalItems int       `json:"totalItems"`
}

type messagePage struct {
	Member     []wireMessage `json:"member"`
	TotalItems int           `json:"totalItems"`
	View       pageView      `json:"view"`
}

// decodeCollection fills the JSON-LD envelope, tolerating the provider
// occasionally returning a bare member array instead.
func decodeCollection(raw []byte, envelope, member interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, member)
	}
	return json.Unmarshal(trimmed, envelope)
}
