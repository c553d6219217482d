// Package email wraps the Gmail API for drafting, sending, and replying.
// Drafts are the default surface so the user reviews outgoing mail; direct
// sends only happen through confirmed actions.
package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
)

// Inbound is a received email summary used for reply threading
type Inbound struct {
	ID         string
	ThreadID   string
	MessageID  string // RFC 2822 Message-Id header
	References string
	Subject    string
	FromName   string
	FromEmail  string
	Date       string
	Snippet    string
}

// Service talks to one Gmail mailbox
type Service struct {
	svc     *gmail.Service
	store   *db.Store
	address string
}

// New creates an email service. credentialsFile is a service account key
// with domain-wide delegation for address.
func New(ctx context.Context, credentialsFile, address string, store *db.Store) (*Service, error) {
	svc, err := gmail.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gmail.GmailModifyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("gmail client init failed: %w", err)
	}
	logging.Infof("[Email] Connected mailbox %s", address)
	return &Service{svc: svc, store: store, address: address}, nil
}

// ResolveRecipient maps a contact name to an address using the user's
// contact book. Inputs that already look like addresses pass through.
func (s *Service) ResolveRecipient(ctx context.Context, userID, to string) (string, error) {
	if strings.Contains(to, "@") {
		return to, nil
	}
	contacts, err := s.store.ListContacts(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("contact lookup failed: %w", err)
	}
	if addr, ok := contacts[strings.ToLower(to)]; ok {
		return addr, nil
	}
	return "", fmt.Errorf("unknown contact: %s", to)
}

func (s *Service) rawMessage(to, subject, body string, headers map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", s.address)
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	for k, v := range headers {
		fmt.Fprintf(&sb, "%s: %s\r\n", k, v)
	}
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}

// CreateDraft saves a draft addressed to a contact name or address
func (s *Service) CreateDraft(ctx context.Context, userID, to, subject, body string) (string, error) {
	recipient, err := s.ResolveRecipient(ctx, userID, to)
	if err != nil {
		return "", err
	}
	draft := &gmail.Draft{
		Message: &gmail.Message{Raw: s.rawMessage(recipient, subject, body, nil)},
	}
	created, err := s.svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("draft create failed: %w", err)
	}
	logging.Infof("[Email] Draft created for %s: %s", recipient, subject)
	return created.Id, nil
}

// Send sends a message immediately
func (s *Service) Send(ctx context.Context, userID, to, subject, body string) (string, error) {
	recipient, err := s.ResolveRecipient(ctx, userID, to)
	if err != nil {
		return "", err
	}
	msg := &gmail.Message{Raw: s.rawMessage(recipient, subject, body, nil)}
	sent, err := s.svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	logging.Infof("[Email] Sent to %s: %s", recipient, subject)
	return sent.Id, nil
}

func header(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func parseFrom(from string) (name, addr string) {
	if i := strings.Index(from, "<"); i >= 0 {
		name = strings.Trim(strings.TrimSpace(from[:i]), `"`)
		addr = strings.TrimSuffix(from[i+1:], ">")
		return name, addr
	}
	addr = from
	if j := strings.Index(from, "@"); j > 0 {
		name = from[:j]
	}
	return name, addr
}

func (s *Service) fetchSummaries(ctx context.Context, ids []string) ([]Inbound, error) {
	out := make([]Inbound, 0, len(ids))
	for _, id := range ids {
		msg, err := s.svc.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Message-Id", "References", "Date").
			Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("message fetch failed: %w", err)
		}
		name, addr := parseFrom(header(msg, "From"))
		out = append(out, Inbound{
			ID:         msg.Id,
			ThreadID:   msg.ThreadId,
			MessageID:  header(msg, "Message-Id"),
			References: header(msg, "References"),
			Subject:    header(msg, "Subject"),
			FromName:   name,
			FromEmail:  addr,
			Date:       header(msg, "Date"),
			Snippet:    msg.Snippet,
		})
	}
	return out, nil
}

// Recent returns the newest inbox messages
func (s *Service) Recent(ctx context.Context, max int) ([]Inbound, error) {
	if max <= 0 {
		max = 10
	}
	res, err := s.svc.Users.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(int64(max)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("inbox list failed: %w", err)
	}
	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return s.fetchSummaries(ctx, ids)
}

// FindFromSender returns the most recent email matching the sender name or
// address, or nil when none match.
func (s *Service) FindFromSender(ctx context.Context, sender string) (*Inbound, error) {
	res, err := s.svc.Users.Messages.List("me").
		Q(fmt.Sprintf("from:%s", sender)).
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sender search failed: %w", err)
	}
	if len(res.Messages) == 0 {
		return nil, nil
	}
	msgs, err := s.fetchSummaries(ctx, []string{res.Messages[0].Id})
	if err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// CreateReplyDraft drafts a threaded reply to an inbound message
func (s *Service) CreateReplyDraft(ctx context.Context, original *Inbound, body string) (string, error) {
	if original.FromEmail == "" {
		return "", fmt.Errorf("no sender address on original message")
	}
	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	headers := map[string]string{}
	if original.MessageID != "" {
		headers["In-Reply-To"] = original.MessageID
		refs := original.MessageID
		if original.References != "" {
			refs = original.References + " " + original.MessageID
		}
		headers["References"] = refs
	}

	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw:      s.rawMessage(original.FromEmail, subject, body, headers),
			ThreadId: original.ThreadID,
		},
	}
	created, err := s.svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("reply draft failed: %w", err)
	}
	logging.Infof("[Email] Reply draft for %s: %s", original.FromEmail, subject)
	return created.Id, nil
}
