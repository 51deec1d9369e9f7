// Package telegramtest provides an in-memory telegram.Provider for tests.
package telegramtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
)

// Provider opens fake sessions keyed by credential.
type Provider struct {
	mu       sync.Mutex
	rejected map[string]bool
	opens    map[string]int
	sessions map[string]*Session
	nextID   int64
	delay    time.Duration
}

func NewProvider() *Provider {
	return &Provider{
		rejected: map[string]bool{},
		opens:    map[string]int{},
		sessions: map[string]*Session{},
		nextID:   1000,
	}
}

// Reject makes Open fail with *telegram.AuthError for credential.
func (p *Provider) Reject(credential string, rejected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[credential] = rejected
}

// SetOpenDelay makes every Open take d before answering.
func (p *Provider) SetOpenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *Provider) Open(ctx context.Context, credential string) (telegram.Session, error) {
	p.mu.Lock()
	delay := p.delay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens[credential]++
	if p.rejected[credential] {
		return nil, &telegram.AuthError{StatusCode: 401, Description: "Unauthorized"}
	}
	p.nextID++
	s := NewSession(telegram.User{
		ID:        p.nextID,
		IsBot:     true,
		FirstName: "Ghost",
		Username:  fmt.Sprintf("ghost_%d_bot", p.nextID),
	})
	p.sessions[credential] = s
	return s, nil
}

// Opens returns how many times credential was opened.
func (p *Provider) Opens(credential string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens[credential]
}

// Session returns the latest session opened for credential.
func (p *Provider) Session(credential string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[credential]
}

// Session records everything sent through it.
type Session struct {
	self     telegram.User
	in       chan telegram.Inbound
	closedCh chan struct{}

	mu        sync.Mutex
	closed    bool
	sent      []telegram.Outbound
	typing    []int64
	commands  []telegram.BotCommand
	chats     map[int64]*telegram.Chat
	sendErr   error
	receiving bool
	acks      []int64
	hold      chan struct{}
	entered   chan struct{}
}

func NewSession(self telegram.User) *Session {
	return &Session{
		self:     self,
		in:       make(chan telegram.Inbound),
		closedCh: make(chan struct{}),
		chats:    map[int64]*telegram.Chat{},
	}
}

func (s *Session) Self() telegram.User {
	return s.self
}

func (s *Session) Receive(ctx context.Context) <-chan telegram.Inbound {
	out := make(chan telegram.Inbound)
	s.mu.Lock()
	s.receiving = true
	s.mu.Unlock()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closedCh:
				return
			case m := <-s.in:
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Deliver hands a message to the receiving worker. It returns false when no
// worker picked it up within a second.
func (s *Session) Deliver(msg telegram.Inbound) bool {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	select {
	case s.in <- msg:
		return true
	case <-s.closedCh:
		return false
	case <-time.After(time.Second):
		return false
	}
}

func (s *Session) Ack(updateID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, updateID)
}

func (s *Session) Send(ctx context.Context, msg telegram.Outbound) error {
	s.mu.Lock()
	hold, entered := s.hold, s.entered
	s.mu.Unlock()
	if hold != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *Session) Typing(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, chatID)
	return nil
}

func (s *Session) GetChat(ctx context.Context, chatID int64) (*telegram.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		cp := *c
		return &cp, nil
	}
	return &telegram.Chat{ID: chatID, Type: telegram.ChatPrivate, FirstName: "Owner"}, nil
}

func (s *Session) SetCommands(ctx context.Context, commands []telegram.BotCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append([]telegram.BotCommand(nil), commands...)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closedCh)
	}
	return nil
}

// SetChat registers the profile GetChat returns for chatID.
func (s *Session) SetChat(chat telegram.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = &chat
}

// FailSends makes Send return err until called with nil.
func (s *Session) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// HoldSends blocks every Send until release is called. entered receives a
// value each time a Send starts waiting.
func (s *Session) HoldSends() (entered <-chan struct{}, release func()) {
	hold := make(chan struct{})
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.hold, s.entered = hold, ch
	s.mu.Unlock()
	var once sync.Once
	return ch, func() { once.Do(func() { close(hold) }) }
}

// Acked returns the acknowledged update ids in order.
func (s *Session) Acked() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.acks...)
}

func (s *Session) Sent() []telegram.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telegram.Outbound(nil), s.sent...)
}

func (s *Session) TypingCalls() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.typing...)
}

func (s *Session) Commands() []telegram.BotCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telegram.BotCommand(nil), s.commands...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
