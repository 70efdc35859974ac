// Package chat keeps the question/answer transcript for one document.
//
// Sends are not queued. Overlapping sends each append their reply when it
// arrives, so replies follow completion order, and Sending stays true until
// the last outstanding send has finished.
package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sia-project/analyst/internal/gateway"
	"github.com/sia-project/analyst/internal/logging"
)

const endpoint = "/api/chat"

// Fallback is the reply recorded whenever the backend cannot answer.
const Fallback = "Sorry, I couldn't process that request."

// Kind tells who wrote a message.
type Kind string

const (
	User Kind = "user"
	AI   Kind = "ai"
)

// Message is one transcript entry. Entries are never changed or removed.
type Message struct {
	Kind    Kind   `json:"type"`
	Content string `json:"content"`
}

// Snapshot is the observable state passed to watchers.
type Snapshot struct {
	Messages []Message
	Draft    string
	Sending  bool
}

// Caller is the subset of *gateway.Gateway a session needs.
type Caller interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

var errNoResponse = errors.New("reply has no string response field")

// Session is the transcript of one document. Sends are not queued: two
// overlapping sends each append their reply when it arrives.
type Session struct {
	gw         Caller
	documentID string
	logger     *zap.Logger

	mu       sync.Mutex
	messages []Message
	draft    string
	inFlight int
	watchers []func(Snapshot)
}

func New(gw Caller, documentID string, logger *zap.Logger) *Session {
	logger = logging.OrNop(logger)
	return &Session{
		gw:         gw,
		documentID: documentID,
		logger:     logger.Named("chat").With(zap.String("document_id", documentID)),
	}
}

func (s *Session) DocumentID() string { return s.documentID }

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Sending reports whether a reply is outstanding.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) SetDraft(text string) {
	s.update(func() { s.draft = text })
}

// SubmitDraft sends the current draft.
func (s *Session) SubmitDraft(ctx context.Context) {
	s.Send(ctx, s.Draft())
}

func (s *Session) Watch(fn func(Snapshot)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := Snapshot{
		Messages: append([]Message(nil), s.messages...),
		Draft:    s.draft,
		Sending:  s.inFlight > 0,
	}
	ws := append([]func(Snapshot){}, s.watchers...)
	s.mu.Unlock()
	for _, w := range ws {
		w(snap)
	}
}

// Send asks query about the document. A blank query does nothing and reports
// false. Otherwise exactly one user message is appended at once and exactly
// one ai message (the answer or Fallback) when the call completes; that ai
// message is returned, whatever other sends appended meanwhile.
func (s *Session) Send(ctx context.Context, query string) (reply Message, sent bool) {
	if strings.TrimSpace(query) == "" {
		return Message{}, false
	}

	s.update(func() {
		s.messages = append(s.messages, Message{Kind: User, Content: query})
		s.draft = ""
		s.inFlight++
	})

	reply = Message{Kind: AI, Content: Fallback}
	defer func() {
		s.update(func() {
			s.messages = append(s.messages, reply)
			s.inFlight--
		})
	}()

	answer, err := s.ask(ctx, query)
	if err != nil {
		s.logger.Error("chat request failed", zap.Error(err))
		return reply, true
	}
	reply.Content = answer
	return reply, true
}

func (s *Session) ask(ctx context.Context, query string) (string, error) {
	res, err := s.gw.Do(ctx, gateway.JSON{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Body:     map[string]string{"documentId": s.documentID, "query": query},
	})
	if err != nil {
		return "", err
	}
	var body map[string]any
	if err := res.Decode(&body); err != nil {
		return "", err
	}
	answer, ok := body["response"].(string)
	if !ok {
		return "", errNoResponse
	}
	return answer, nil
}
