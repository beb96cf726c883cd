package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/dasher-monitor/internal/mailapi"
	"github.com/ignite/dasher-monitor/internal/pkg/httputil"
)

// The mail proxy exposes a read-only window onto a tracked inbox at the
// provider. Provider ids never leak to callers: routes are addressed by
// inbox email and the proxy resolves the account on every request.

func (h *Handlers) resolveAccount(w http.ResponseWriter, r *http.Request) (*mailapi.Account, bool) {
	account, err := h.mail.FindAccountByEmail(r.Context(), chi.URLParam(r, "email"))
	if errors.Is(err, mailapi.ErrAccountNotFound) {
		httputil.NotFound(w, "mail account not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalError(w, r, err)
		return nil, false
	}
	return account, true
}

// MailMailboxes lists the folders of one inbox.
func (h *Handlers) MailMailboxes(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	mailboxes, err := h.mail.ListMailboxes(r.Context(), account.ID)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"mailboxes": mailboxes})
}

// MailMessages returns one page of message headers from a folder.
func (h *Handlers) MailMessages(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 30)
	msgs, err := h.mail.ListMessages(r.Context(), account.ID, chi.URLParam(r, "mailboxID"), page, perPage)
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"messages": msgs.Headers,
		"total":    msgs.Total,
		"page":     page,
		"per_page": perPage,
	})
}

// MailMessage returns one full message with its body parts.
func (h *Handlers) MailMessage(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	msg, err := h.mail.GetMessage(r.Context(), account.ID, chi.URLParam(r, "mailboxID"), chi.URLParam(r, "messageID"))
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, msg)
}

// MailAttachment streams one attachment back with its original content
// type and filename.
func (h *Handlers) MailAttachment(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	att, err := h.mail.GetAttachment(r.Context(), account.ID,
		chi.URLParam(r, "mailboxID"), chi.URLParam(r, "messageID"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		httputil.InternalError(w, r, err)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Content)))
	if att.Filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+att.Filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.Content)
}
