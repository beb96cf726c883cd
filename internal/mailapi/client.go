// Package mailapi is the client for the external mail provider's JSON-LD
// API. It owns rate-limit handling (429 with a fixed backoff schedule),
// connection pooling, short-TTL read caching and normalization of the
// provider's non-uniform message payloads.
package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/dasher-monitor/internal/config"
	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/pkg/httpretry"
)

// ErrAccountNotFound is returned by FindAccountByEmail when no provider
// account carries the address.
var ErrAccountNotFound = errors.New("mail account not found")

// rateLimitSchedule is the provider's documented retry-after ladder for
// 429 responses. 429 is the only status worth retrying; 5xx bubbles to
// the caller so the per-inbox error accounting sees it.
var rateLimitSchedule = []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second}

const (
	defaultPerPage = 50
	maxPerPage     = 100

	accountsCacheKey = "accounts"
)

// Client talks to the mail provider API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	cache      *ttlCache
}

// NewClient builds a provider client from configuration. The underlying
// transport is shared and pooled; all requests carry the API key header.
func NewClient(cfg config.MailConfig) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxIdleConnections,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClientWithPolicy(&http.Client{
			Timeout:   cfg.Timeout(),
			Transport: transport,
		}, httpretry.RetryPolicy{
			MaxRetries:    3,
			Schedule:      rateLimitSchedule,
			RetryStatuses: map[int]bool{http.StatusTooManyRequests: true},
		}),
		cache: newTTLCache(cfg.CacheTTL()),
	}
}

// doRequest makes an HTTP request to the provider API and returns the
// raw response body. A nil return with nil error means 204 No Content.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, payload interface{}) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/ld+json")
	if payload != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "application/merge-patch+json")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mail API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ListAccounts fetches every provider account, walking the JSON-LD pages.
// The result is cached for the configured TTL.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	if v, ok := c.cache.get(accountsCacheKey); ok {
		return v.([]Account), nil
	}

	var all []Account
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(maxPerPage))

		raw, err := c.doRequest(ctx, http.MethodGet, "/accounts", params, nil)
		if err != nil {
			return nil, fmt.Errorf("listing accounts page %d: %w", page, err)
		}
		var pg accountPage
		if err := decodeCollection(raw, &pg, &pg.Member); err != nil {
			return nil, fmt.Errorf("decoding accounts page %d: %w", page, err)
		}
		all = append(all, pg.Member...)
		if pg.View.Next == "" || len(pg.Member) == 0 {
			break
		}
	}

	c.cache.set(accountsCacheKey, all)
	return all, nil
}

// FindAccountByEmail resolves one provider account by address. Hits are
// cached per address on top of the account-list cache.
func (c *Client) FindAccountByEmail(ctx context.Context, email string) (*Account, error) {
	key := "account:" + strings.ToLower(email)
	if v, ok := c.cache.get(key); ok {
		acc := v.(Account)
		return &acc, nil
	}

	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Address, email) {
			c.cache.set(key, acc)
			return &acc, nil
		}
	}
	return nil, ErrAccountNotFound
}

// CreateAccount provisions a provider account. An empty password lets
// the provider generate one. Invalidates the account-list cache.
func (c *Client) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	payload := struct {
		Address  string `json:"address"`
		Password string `json:"password,omitempty"`
	}{Address: email, Password: password}

	raw, err := c.doRequest(ctx, http.MethodPost, "/accounts", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("creating account %s: %w", email, err)
	}
	var acc Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decoding created account: %w", err)
	}
	c.cache.invalidate(accountsCacheKey)
	return &acc, nil
}

// UpdatePassword sets a provider account's password via merge-patch.
// Invalidates the account-list cache.
func (c *Client) UpdatePassword(ctx context.Context, accountID, password string) error {
	payload := struct {
		Password string `json:"password"`
	}{Password: password}

	if _, err := c.doRequest(ctx, http.MethodPatch, "/accounts/"+accountID, nil, payload); err != nil {
		return fmt.Errorf("updating password for account %s: %w", accountID, err)
	}
	c.cache.invalidate(accountsCacheKey)
	return nil
}

// ListMailboxes returns the folders of one account, cached per account.
func (c *Client) ListMailboxes(ctx context.Context, accountID string) ([]Mailbox, error) {
	key := "mailboxes:" + accountID
	if v, ok := c.cache.get(key); ok {
		return v.([]Mailbox), nil
	}

	raw, err := c.doRequest(ctx, http.MethodGet, "/accounts/"+accountID+"/mailboxes", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes for %s: %w", accountID, err)
	}
	var pg mailboxPage
	if err := decodeCollection(raw, &pg, &pg.Member); err != nil {
		return nil, fmt.Errorf("decoding mailboxes for %s: %w", accountID, err)
	}
	c.cache.set(key, pg.Member)
	return pg.Member, nil
}

// ListMessages fetches one page of headers from a mailbox.
func (c *Client) ListMessages(ctx context.Context, accountID, mailboxID string, page, perPage int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	path := fmt.Sprintf("/accounts/%s/mailboxes/%s/messages", accountID, mailboxID)
	raw, err := c.doRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, fmt.Errorf("listing messages in %s/%s: %w", accountID, mailboxID, err)
	}

	var pg messagePage
	if err := decodeCollection(raw, &pg, &pg.Member); err != nil {
		return nil, fmt.Errorf("decoding messages in %s/%s: %w", accountID, mailboxID, err)
	}
	out := &MessagePage{Total: pg.TotalItems}
	if out.Total == 0 {
		out.Total = len(pg.Member)
	}
	for _, m := range pg.Member {
		out.Headers = append(out.Headers, m.Header())
	}
	return out, nil
}

// ListAllHeaders walks every page of every given mailbox and returns the
// combined headers. Mailboxes are fetched in order; a failure in any of
// them aborts the whole walk so the caller can record the scan error.
func (c *Client) ListAllHeaders(ctx context.Context, accountID string, mailboxIDs []string) ([]domain.EmailHeader, error) {
	var all []domain.EmailHeader
	for _, mbID := range mailboxIDs {
		for page := 1; ; page++ {
			pg, err := c.ListMessages(ctx, accountID, mbID, page, maxPerPage)
			if err != nil {
				return nil, err
			}
			if len(pg.Headers) == 0 {
				break
			}
			all = append(all, pg.Headers...)
			if len(pg.Headers) < maxPerPage {
				break
			}
		}
	}
	return all, nil
}

// GetMessage fetches one full message by ids.
func (c *Client) GetMessage(ctx context.Context, accountID, mailboxID, messageID string) (*domain.EmailMessage, error) {
	path := fmt.Sprintf("/accounts/%s/mailboxes/%s/messages/%s", accountID, mailboxID, messageID)
	return c.GetMessageByPath(ctx, path)
}

// GetMessageByPath fetches one full message by its provider detail path
// (the @id of a header), which already encodes account and mailbox.
func (c *Client) GetMessageByPath(ctx context.Context, path string) (*domain.EmailMessage, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("message path %q is not absolute", path)
	}
	raw, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", path, err)
	}
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", path, err)
	}
	msg := m.Message()
	return &msg, nil
}

// GetAttachment downloads one attachment with its content type and, when
// the provider supplies a disposition, the original filename.
func (c *Client) GetAttachment(ctx context.Context, accountID, mailboxID, messageID, attachmentID string) (*Attachment, error) {
	path := fmt.Sprintf("/accounts/%s/mailboxes/%s/messages/%s/attachment/%s",
		accountID, mailboxID, messageID, attachmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mail API error (status %d): %s", resp.StatusCode, string(body))
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := "attachment"
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			filename = params["filename"]
		}
	}
	return &Attachment{Content: content, ContentType: contentType, Filename: filename}, nil
}
