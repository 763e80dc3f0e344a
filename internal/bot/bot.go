// Package bot is the Telegram front end of the listing pipeline. Users send
// product photos, then /generate turns them into a draft and /publish submits
// it.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/listing-pipeline/internal/imageproc"
	"github.com/raine/listing-pipeline/internal/listing"
	"github.com/raine/listing-pipeline/internal/pipeline"
	"github.com/rs/zerolog/log"
)

// MaxPhotos is how many photos a draft can have.
const MaxPhotos = 10

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Generator runs the pipeline.
type Generator interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Outcome
	Publish(ctx context.Context, draft *listing.Draft) *pipeline.Outcome
}

// Options are applied to every generation request.
type Options struct {
	Language string
	Currency string
	Photo    imageproc.Options
	// CanPublish reports whether a publisher is configured.
	CanPublish bool
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	state      *BotState
	generator  Generator
	downloader *ImageDownloader
	opts       Options
}

func NewBot(tg BotAPI, generator Generator, opts Options) *Bot {
	if opts.Language == "" {
		opts.Language = "uk"
	}
	if opts.Currency == "" {
		opts.Currency = pipeline.DefaultCurrency
	}
	bot := &Bot{
		tg:         tg,
		generator:  generator,
		downloader: NewImageDownloader(),
		opts:       opts,
	}
	bot.state = bot.NewBotState()
	return bot
}

// HandleUpdate dispatches the update to the sender's session worker.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for processing to complete.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	session := b.state.getUserSession(update.Message.From.ID)

	msg := SessionMessage{Type: msgTypeText, Ctx: ctx, Message: update.Message, Text: update.Message.Text}
	if len(update.Message.Photo) > 0 {
		msg.Type = msgTypePhoto
	}
	log.Info().
		Int64("userId", update.Message.From.ID).
		Str("type", msg.Type).
		Str("text", update.Message.Text).
		Msg("got message")

	if sync {
		session.SendSync(msg)
	} else {
		session.Send(msg)
	}
}

// Shutdown stops all session workers.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleSessionMessage implements MessageHandler. It runs on the session
// worker goroutine.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case msgTypePhoto:
		b.handlePhoto(ctx, session, msg.Message)
	case msgTypeText:
		b.handleText(ctx, session, msg.Message)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	if session.PhotoCount() >= MaxPhotos {
		session.reply(MsgPhotoLimit, MaxPhotos)
		return
	}

	// Telegram sends several sizes; the last one is the largest.
	largest := message.Photo[len(message.Photo)-1]
	data, err := b.downloader.DownloadFromTelegramFileID(ctx, b.tg.GetFileDirectURL, largest.FileID)
	if err != nil {
		log.Error().Err(err).Str("fileID", largest.FileID).Msg("failed to download photo")
		session.reply(MsgPhotoDownloadFailed)
		return
	}

	n := session.addPhoto(data)
	session.reply(MsgPhotoReceived, n)

	// A caption on the photo works like /generate with a hint.
	if cmd, args := parseCommand(message.Caption); cmd == "/generate" {
		b.generate(ctx, session, strings.Join(args, " "))
	}
}

func (b *Bot) handleText(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	cmd, args := parseCommand(message.Text)
	switch cmd {
	case "/start", "/help":
		session.reply(MsgHelp)
	case "/generate":
		b.generate(ctx, session, strings.Join(args, " "))
	case "/publish":
		b.publish(ctx, session)
	case "/clear":
		session.reset()
		session.reply(MsgCleared)
	default:
		session.reply(MsgUnknownCommand)
	}
}

func (b *Bot) generate(ctx context.Context, session *UserSession, hint string) {
	photos := session.takePhotos()
	if len(photos) == 0 {
		session.reply(MsgNoPhotos)
		return
	}
	session.reply(MsgGenerating, pluralize("photo", "photos", len(photos)))

	typingCtx, stopTyping := context.WithCancel(ctx)
	go session.startTypingLoop(typingCtx)
	outcome := b.generator.Run(ctx, pipeline.Request{
		Images:   photos,
		Hint:     hint,
		Language: b.opts.Language,
		Currency: b.opts.Currency,
		Photo:    b.opts.Photo,
	})
	stopTyping()

	switch outcome.Status {
	case pipeline.StatusCancelled:
		session.reply(MsgGenerateCancelled)
		return
	case pipeline.StatusFailed:
		session.reply(MsgGenerateFailed, outcome.Status, outcomeError(outcome))
		return
	}

	session.setDraft(outcome.Draft)
	session._reply(formatDraft(outcome.Draft))

	var notes []string
	if len(outcome.Gaps) > 0 {
		notes = append(notes, fmt.Sprintf(MsgDraftGaps, formatGaps(outcome.Gaps)))
	}
	switch {
	case outcome.Validation != listing.ValidationOK:
		notes = append(notes, fmt.Sprintf(MsgDraftInvalid, outcome.Validation))
	case b.opts.CanPublish:
		notes = append(notes, MsgDraftReady)
	default:
		notes = append(notes, MsgDraftReadyNoPublish)
	}
	session.replyWithMessage(tgbotapi.MessageConfig{Text: strings.Join(notes, "\n")})
}

func (b *Bot) publish(ctx context.Context, session *UserSession) {
	draft := session.Draft()
	if draft == nil {
		session.reply(MsgNoDraft)
		return
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	go session.startTypingLoop(typingCtx)
	outcome := b.generator.Publish(ctx, draft)
	stopTyping()

	switch outcome.Status {
	case pipeline.StatusPublished:
		session.setDraft(nil)
		session.reply(MsgPublished, escapeMarkdown(outcome.Publish.PublishedID))
	case pipeline.StatusValidationFailed:
		session.reply(MsgPublishInvalid, escapeMarkdown(outcome.Validation))
	case pipeline.StatusCancelled:
		session.reply(MsgPublishCancelled)
	default:
		session.reply(MsgPublishFailed, escapeMarkdown(outcomeError(outcome)))
	}
}

func outcomeError(o *pipeline.Outcome) string {
	if o.Publish != nil && o.Publish.Message != "" {
		return o.Publish.Message
	}
	if o.Error != nil {
		return o.Error.Message
	}
	return string(o.Status)
}

func formatDraft(d *listing.Draft) string {
	category := d.Category
	if category == "" {
		category = "-"
	}
	return formatReplyText(MsgDraft,
		escapeMarkdown(d.Title.UK),
		strconv.FormatFloat(d.Price, 'f', -1, 64),
		d.Currency,
		escapeMarkdown(category),
		escapeMarkdown(d.Description.UK),
		escapeMarkdown(strings.Join(d.Keywords.UK, ", ")),
		escapeMarkdown(d.Caption),
	)
}

func formatGaps(gaps []pipeline.Gap) string {
	parts := make([]string, len(gaps))
	for i, g := range gaps {
		parts[i] = fmt.Sprintf("%s (%s)", g.Stage, g.Kind)
	}
	return strings.Join(parts, ", ")
}
