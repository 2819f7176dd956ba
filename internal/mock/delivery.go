package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/commentingestflow/internal/models"
)

// Sender records messages pushed to subscriber connections.
type Sender struct {
	mu       sync.Mutex
	failures map[string]error
	sent     map[string][]models.OutboundMessage
}

func NewSender() *Sender {
	return &Sender{failures: make(map[string]error), sent: make(map[string][]models.OutboundMessage)}
}

// Fail makes every delivery to connectionID return err.
func (s *Sender) Fail(connectionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[connectionID] = err
}

func (s *Sender) Send(_ context.Context, connectionID string, msg models.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[connectionID]; err != nil {
		return err
	}
	s.sent[connectionID] = append(s.sent[connectionID], msg)
	return nil
}

// Sent returns the messages delivered to connectionID.
func (s *Sender) Sent(connectionID string) []models.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboundMessage(nil), s.sent[connectionID]...)
}

// Launcher records workflow executions it was asked to start.
type Launcher struct {
	mu    sync.Mutex
	calls []any
	// Err, when set, is returned by Start.
	Err error
}

// Start returns "executions/exec-N" for the N-th successful call.
func (l *Launcher) Start(_ context.Context, argument any) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	l.calls = append(l.calls, argument)
	return fmt.Sprintf("executions/exec-%d", len(l.calls)), nil
}

// Calls returns the arguments of every successful Start.
func (l *Launcher) Calls() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.calls...)
}

// Generator is a canned text generator.
type Generator struct {
	mu       sync.Mutex
	requests []string
	Response string
	Err      error
}

func (g *Generator) Generate(_ context.Context, fileURI, mimeType string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, mimeType+" "+fileURI)
	if g.Err != nil {
		return "", g.Err
	}
	return g.Response, nil
}

// Requests returns "<mimeType> <fileURI>" for every call.
func (g *Generator) Requests() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.requests...)
}
