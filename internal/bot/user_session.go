package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/listing-pipeline/internal/listing"
	"github.com/rs/zerolog/log"
)

// Message types handled by the session worker.
const (
	msgTypePhoto = "photo"
	msgTypeText  = "text"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type    string
	Ctx     context.Context
	Done    chan struct{} // Closed when processing is complete (for synchronous dispatch)
	Message *tgbotapi.Message
	Text    string
}

// MessageSender abstracts the ability to send Telegram messages.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MessageHandler is the interface for processing session messages.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// UserSession is one chat's photos and last draft.
//
// Each session has a dedicated worker goroutine that processes messages
// sequentially, so handlers called from the worker access photos and draft
// without locks. Accessors for external callers take mu.
type UserSession struct {
	userId int64
	sender MessageSender
	mu     sync.Mutex

	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler

	photos [][]byte
	draft  *listing.Draft
}

func newUserSession(userId int64, sender MessageSender) *UserSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &UserSession{
		userId: userId,
		sender: sender,
		inbox:  make(chan SessionMessage, 10),
		ctx:    ctx,
		cancel: cancel,
	}
}

// PhotoCount returns the number of collected photos.
func (s *UserSession) PhotoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.photos)
}

// Draft returns the last generated draft.
func (s *UserSession) Draft() *listing.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *UserSession) addPhoto(data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos = append(s.photos, data)
	return len(s.photos)
}

// takePhotos returns the collected photos and forgets them.
func (s *UserSession) takePhotos() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	photos := s.photos
	s.photos = nil
	return photos
}

func (s *UserSession) setDraft(d *listing.Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = d
}

func (s *UserSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos = nil
	s.draft = nil
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, err))
}

// sendTypingAction sends a "typing" chat action. The indicator expires after
// about five seconds.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatTyping)
	// sendChatAction returns a boolean, not a Message
	_, err := s.sender.Request(action)
	if err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until ctx is done.
func (s *UserSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

func (s *UserSession) replyWithMessage(msg tgbotapi.MessageConfig) tgbotapi.Message {
	msg.ChatID = s.userId
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Int64("userId", s.userId).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Info().Int64("userId", s.userId).Int("messageId", sent.MessageID).Msg("sent message")
	}
	return sent
}

func (s *UserSession) _reply(text string) tgbotapi.Message {
	return s.replyWithMessage(tgbotapi.MessageConfig{
		Text:      text,
		ParseMode: tgbotapi.ModeMarkdown,
	})
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...))
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	s.handler.HandleSessionMessage(msg.Ctx, s, msg)
}

// Send queues a message for processing by the worker without waiting.
func (s *UserSession) Send(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits until the worker has processed it.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	<-msg.Done
}

// Stop stops the worker and waits for it to finish.
func (s *UserSession) Stop() {
	s.cancel()
	s.wg.Wait()
}
