package scanner

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/dasher-monitor/internal/domain"
	"github.com/ignite/dasher-monitor/internal/mailapi"
	"github.com/ignite/dasher-monitor/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	passwordLength   = 12

	nameExtractTimeout = 5 * time.Second
)

// SyncResult summarises one reconciliation pass.
type SyncResult struct {
	TotalFetched int `json:"total_fetched"`
	NewlyCreated int `json:"newly_created"`
}

// Reconcile diffs the provider's account list against the repository and
// bootstraps every inbox the provider exposes that we do not track yet:
// inbox row, portal credential with a random password pushed back to the
// provider, best-effort name extraction. Existing inboxes are untouched.
func (s *Scanner) Reconcile(ctx context.Context) (*SyncResult, error) {
	accounts, err := s.mail.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing provider accounts: %w", err)
	}

	known, err := s.inboxes.List(ctx)
	if errors.Is(err, repository.ErrTransient) {
		known, err = s.inboxes.List(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing tracked inboxes: %w", err)
	}

	byProviderID := make(map[string]struct{}, len(known))
	byEmail := make(map[string]struct{}, len(known))
	for _, in := range known {
		byProviderID[in.ProviderID] = struct{}{}
		byEmail[strings.ToLower(in.Email)] = struct{}{}
	}

	res := &SyncResult{TotalFetched: len(accounts)}
	for _, acc := range accounts {
		if _, ok := byProviderID[acc.ID]; ok {
			continue
		}
		if _, ok := byEmail[strings.ToLower(acc.Address)]; ok {
			continue
		}
		if err := s.provision(ctx, acc); err != nil {
			s.log.Error("provisioning inbox failed", "email", acc.Address, "error", err.Error())
			continue
		}
		res.NewlyCreated++
	}

	if res.NewlyCreated > 0 {
		s.log.Info("reconciliation complete", "fetched", res.TotalFetched, "created", res.NewlyCreated)
	}
	return res, nil
}

// provision bootstraps one newly discovered provider account.
func (s *Scanner) provision(ctx context.Context, acc mailapi.Account) error {
	inbox := &domain.Inbox{
		ProviderID: acc.ID,
		Email:      acc.Address,
		Name:       s.extractName(ctx, acc),
		Stage:      domain.StageRegistered,
		Status:     "active",
	}
	created, err := s.inboxes.UpsertByProviderID(ctx, inbox)
	if errors.Is(err, repository.ErrTransient) {
		created, err = s.inboxes.UpsertByProviderID(ctx, inbox)
	}
	if err != nil {
		return fmt.Errorf("inserting inbox: %w", err)
	}
	if !created {
		return nil
	}

	password, err := randomPassword(passwordLength)
	if err != nil {
		return fmt.Errorf("generating portal password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing portal password: %w", err)
	}
	if err := s.portal.UpsertMinimal(ctx, inbox.Email, string(hash), inbox.ID); err != nil {
		return fmt.Errorf("creating portal credential: %w", err)
	}
	if err := s.mail.UpdatePassword(ctx, acc.ID, password); err != nil {
		// The credential row exists; the push is retried on the next
		// reconciliation only if the operator re-provisions. Log loudly.
		s.log.Error("pushing portal password to provider failed", "email", inbox.Email, "error", err.Error())
	}

	s.log.Info("inbox provisioned", "email", inbox.Email, "name", inbox.Name)
	return nil
}

// randomPassword draws n symbols from a 62-symbol alphabet using
// crypto/rand.
func randomPassword(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// greetingRE captures the capitalised name after a greeting word.
var greetingRE = regexp.MustCompile(`(?:(?i:hi|hello|hey|dear))[ ,]+([A-Z][a-z]+(?: [A-Z][a-z]+)?)`)

// extractName makes a best-effort guess at the account holder's name:
// a greeting line in a recent welcome message, then the display name on
// a To header, then the title-cased local part of the address. The
// whole lookup is bounded; a slow provider never stalls provisioning.
func (s *Scanner) extractName(ctx context.Context, acc mailapi.Account) string {
	nameCtx, cancel := context.WithTimeout(ctx, nameExtractTimeout)
	defer cancel()

	if name := s.nameFromMessages(nameCtx, acc); name != "" {
		return name
	}
	return nameFromLocalPart(acc.Address)
}

func (s *Scanner) nameFromMessages(ctx context.Context, acc mailapi.Account) string {
	mb, ok := acc.Mailbox("INBOX")
	if !ok {
		mailboxes, err := s.mail.ListMailboxes(ctx, acc.ID)
		if err != nil {
			return ""
		}
		for _, m := range mailboxes {
			if strings.EqualFold(m.Path, "INBOX") {
				mb = m
				ok = true
				break
			}
		}
		if !ok {
			return ""
		}
	}

	page, err := s.mail.ListMessages(ctx, acc.ID, mb.ID, 1, 20)
	if err != nil {
		return ""
	}

	var toName string
	inspected := 0
	for _, h := range page.Headers {
		if inspected >= 3 {
			break
		}
		if !strings.Contains(strings.ToLower(h.Subject), "welcome") {
			continue
		}
		inspected++
		msg, err := s.mail.GetMessageByPath(ctx, h.Path)
		if err != nil {
			continue
		}
		if m := greetingRE.FindStringSubmatch(msg.Body()); m != nil {
			return m[1]
		}
		if toName == "" && msg.ToName != "" {
			toName = msg.ToName
		}
	}
	return toName
}

// nameFromLocalPart turns "jane.doe42" into "Jane Doe".
func nameFromLocalPart(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found {
		local = email
	}
	local = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, local)

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}
