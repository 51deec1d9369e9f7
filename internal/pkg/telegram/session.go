package telegram

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Session is the live connection of one credential.
type Session interface {
	Self() User
	// Receive starts delivery of inbound messages. The channel is closed when
	// ctx is cancelled, the session is closed or the credential is revoked.
	Receive(ctx context.Context) <-chan Inbound
	// Ack marks a received update as taken by the consumer. Only acknowledged
	// updates are confirmed to the platform.
	Ack(updateID int64)
	Send(ctx context.Context, msg Outbound) error
	Typing(ctx context.Context, chatID int64) error
	GetChat(ctx context.Context, chatID int64) (*Chat, error)
	SetCommands(ctx context.Context, commands []BotCommand) error
	Close() error
}

// Provider opens sessions for credentials.
type Provider interface {
	Open(ctx context.Context, credential string) (Session, error)
}

// HTTPProvider opens long-polling sessions against the Bot API.
type HTTPProvider struct {
	BaseURL     string
	PollTimeout time.Duration
	HTTPClient  *http.Client
	// RetryDelay is the pause after a failed poll.
	RetryDelay time.Duration
}

func NewHTTPProvider(baseURL string, pollTimeout time.Duration) *HTTPProvider {
	return &HTTPProvider{BaseURL: baseURL, PollTimeout: pollTimeout}
}

// Open validates the credential with getMe. A rejected credential yields *AuthError.
func (p *HTTPProvider) Open(ctx context.Context, credential string) (Session, error) {
	client := NewClient(p.HTTPClient, p.BaseURL, credential)
	me, err := client.GetMe(ctx)
	if err != nil {
		return nil, err
	}
	timeout := p.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := p.RetryDelay
	if retry <= 0 {
		retry = 3 * time.Second
	}
	return &pollSession{
		client:      client,
		self:        *me,
		pollTimeout: timeout,
		retryDelay:  retry,
		acks:        make(chan struct{}, 1),
	}, nil
}

type pollSession struct {
	client      *Client
	self        User
	pollTimeout time.Duration
	retryDelay  time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	acks chan struct{}

	mu sync.Mutex
	// next is one past the last update read from a batch.
	next int64
	// handed and acked are the last update given to and acknowledged by the
	// consumer.
	handed int64
	acked  int64
	// safe is the highest offset below which every update is acknowledged or
	// carries no message.
	safe      int64
	confirmed int64
}

func (s *pollSession) Self() User {
	return s.self
}

func (s *pollSession) Receive(ctx context.Context) <-chan Inbound {
	out := make(chan Inbound)
	started := false
	s.startOnce.Do(func() {
		started = true
		pollCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.done = make(chan struct{})
		s.mu.Unlock()
		go s.poll(pollCtx, out)
	})
	if !started {
		close(out)
	}
	return out
}

func (s *pollSession) poll(ctx context.Context, out chan<- Inbound) {
	defer close(s.done)
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}
		// Fetching past an update confirms it, so wait until the consumer
		// took everything handed out.
		if !s.waitAcked(ctx) {
			return
		}
		s.mu.Lock()
		offset := s.next
		s.mu.Unlock()

		updates, err := s.client.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsAuthError(err) {
				log.Errorf("[Telegram] Bot @%s credential rejected, stopping poll: %v", s.self.Username, err)
				return
			}
			log.Warnf("[Telegram] Bot @%s getUpdates failed: %v", s.self.Username, err)
			if !sleepCtx(ctx, s.retryDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		if offset > s.confirmed {
			s.confirmed = offset
		}
		if offset > s.safe {
			s.safe = offset
		}
		s.mu.Unlock()

		for _, u := range updates {
			if u.UpdateID < offset {
				continue
			}
			in, ok := inboundFromUpdate(u)
			if ok {
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
			s.mu.Lock()
			if ok {
				s.handed = u.UpdateID
			} else if s.acked >= s.handed {
				s.safe = u.UpdateID + 1
			}
			s.next = u.UpdateID + 1
			s.mu.Unlock()
		}
	}
}

func (s *pollSession) waitAcked(ctx context.Context) bool {
	for {
		s.mu.Lock()
		done := s.acked >= s.handed
		s.mu.Unlock()
		if done {
			return true
		}
		select {
		case <-s.acks:
		case <-ctx.Done():
			return false
		}
	}
}

func (s *pollSession) Ack(updateID int64) {
	s.mu.Lock()
	if updateID > s.acked {
		s.acked = updateID
	}
	if updateID+1 > s.safe {
		s.safe = updateID + 1
	}
	s.mu.Unlock()
	select {
	case s.acks <- struct{}{}:
	default:
	}
}

func (s *pollSession) Send(ctx context.Context, msg Outbound) error {
	return s.client.SendMessage(ctx, msg)
}

func (s *pollSession) Typing(ctx context.Context, chatID int64) error {
	return s.client.SendChatAction(ctx, chatID, "typing")
}

func (s *pollSession) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	return s.client.GetChat(ctx, chatID)
}

func (s *pollSession) SetCommands(ctx context.Context, commands []BotCommand) error {
	return s.client.SetMyCommands(ctx, commands)
}

// Close stops polling and confirms the acknowledged updates so a later
// session does not receive them again. An update handed out but never
// acknowledged is delivered again.
func (s *pollSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		s.mu.Lock()
		offset := s.safe
		if s.acked >= s.handed && s.next > offset {
			offset = s.next
		}
		confirmed := s.confirmed
		s.mu.Unlock()
		if offset <= confirmed {
			return
		}
		ctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if _, cErr := s.client.GetUpdates(ctx, offset, 0); cErr != nil && !errors.Is(cErr, context.Canceled) {
			err = cErr
		}
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
