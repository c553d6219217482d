// Package notes wraps the Google Keep API for the notes domain.
package notes

import (
	"context"
	"fmt"
	"strings"

	keep "google.golang.org/api/keep/v1"
	"google.golang.org/api/option"

	"github.com/mindloop/aria/internal/logging"
)

// Note is a Keep note summary
type Note struct {
	Name  string // API resource name, "notes/{id}"
	Title string
	Text  string
}

// Service talks to the Google Keep API
type Service struct {
	svc *keep.Service
}

// New creates a notes service from a service account credentials file
func New(ctx context.Context, credentialsFile string) (*Service, error) {
	svc, err := keep.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(keep.KeepScope),
	)
	if err != nil {
		return nil, fmt.Errorf("keep client init failed: %w", err)
	}
	logging.Infof("[Notes] Keep service connected")
	return &Service{svc: svc}, nil
}

func toNote(n *keep.Note) Note {
	text := ""
	if n.Body != nil && n.Body.Text != nil {
		text = n.Body.Text.Text
	}
	return Note{Name: n.Name, Title: n.Title, Text: text}
}

// Create makes a new text note
func (s *Service) Create(ctx context.Context, title, text string) (*Note, error) {
	note := &keep.Note{
		Title: title,
		Body: &keep.Section{
			Text: &keep.TextContent{Text: text},
		},
	}
	created, err := s.svc.Notes.Create(note).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("note create failed: %w", err)
	}
	logging.Infof("[Notes] Created note: %s", title)
	out := toNote(created)
	return &out, nil
}

// List returns up to max notes, trashed ones excluded
func (s *Service) List(ctx context.Context, max int) ([]Note, error) {
	if max <= 0 {
		max = 20
	}
	res, err := s.svc.Notes.List().
		PageSize(int64(max)).
		Filter("-trashed").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("note list failed: %w", err)
	}
	notes := make([]Note, 0, len(res.Notes))
	for _, n := range res.Notes {
		notes = append(notes, toNote(n))
	}
	return notes, nil
}

// FindByTitle returns the first note whose title or text contains term
func (s *Service) FindByTitle(ctx context.Context, term string) (*Note, error) {
	all, err := s.List(ctx, 100)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	for _, n := range all {
		if strings.Contains(strings.ToLower(n.Title), needle) {
			note := n
			return &note, nil
		}
	}
	for _, n := range all {
		if strings.Contains(strings.ToLower(n.Text), needle) {
			note := n
			return &note, nil
		}
	}
	return nil, nil
}

// Delete removes a note by resource name
func (s *Service) Delete(ctx context.Context, name string) error {
	if _, err := s.svc.Notes.Delete(name).Context(ctx).Do(); err != nil {
		return fmt.Errorf("note delete failed: %w", err)
	}
	return nil
}
