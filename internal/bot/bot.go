package bot

import (
	"context"
	"net/http"
	"strings"

	"github.com/ezbot/ezbot/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrorReply is sent when handling an update failed for an infrastructure reason.
const ErrorReply = "⚠️ Something went wrong. Please try again."

const HelpReply = "Commands:\n" +
	"/start - show your username, telegram_id and role\n" +
	"/reset - delete your chat history\n" +
	"/add <telegram_id> - grant the user role (admins only)\n" +
	"/help - show this message\n\n" +
	"Anything else is sent to the assistant."

// TelegramAPI is the part of *tgbotapi.BotAPI the gateway uses.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// ChatHandler is implemented by *core.ChatService.
type ChatHandler interface {
	Welcome(ctx context.Context, user store.TelegramUser) (string, error)
	ResetHistory(ctx context.Context, user store.TelegramUser) (string, error)
	PromoteUser(ctx context.Context, caller store.TelegramUser, args []string) (string, error)
	HandleMessage(ctx context.Context, user store.TelegramUser, text string) ([]string, error)
}

// UserResolver turns a sender into the identity used by the services.
// *core.UserCache implements it.
type UserResolver interface {
	Resolve(tgID int64, username, firstName, lastName string) store.TelegramUser
}

type Options struct {
	PollTimeout    int // seconds
	MaxConcurrency int
}

// Bot receives Telegram updates and answers them through the chat service.
type Bot struct {
	api    TelegramAPI
	chat   ChatHandler
	users  UserResolver
	opts   Options
	logger *zap.Logger

	hooks *errgroup.Group // webhook dispatch
}

func New(api TelegramAPI, chat ChatHandler, users UserResolver, opts Options, logger *zap.Logger) *Bot {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	hooks := new(errgroup.Group)
	hooks.SetLimit(opts.MaxConcurrency)
	return &Bot{
		api:    api,
		chat:   chat,
		users:  users,
		opts:   opts,
		logger: logger,
		hooks:  hooks,
	}
}

// Run long-polls for updates until ctx is cancelled, then waits for the
// updates already in flight. Handlers run detached from ctx so a shutdown
// lets them finish.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.opts.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	g := new(errgroup.Group)
	g.SetLimit(b.opts.MaxConcurrency)
	hctx := context.WithoutCancel(ctx)

	b.logger.Info("Polling for Telegram updates",
		zap.Int("timeout_seconds", b.opts.PollTimeout),
		zap.Int("max_concurrency", b.opts.MaxConcurrency))

loop:
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			break loop
		case update, ok := <-updates:
			if !ok {
				break loop
			}
			g.Go(func() error {
				b.HandleUpdate(hctx, update)
				return nil
			})
		}
	}

	err := g.Wait()
	b.logger.Info("Telegram polling stopped")
	return err
}

// ServeWebhook accepts an update pushed by Telegram. The update is answered
// in the background so Telegram gets its 200 right away.
func (b *Bot) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.logger.Warn("Rejected webhook update", zap.Error(err))
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	b.hooks.Go(func() error {
		b.HandleUpdate(ctx, *update)
		return nil
	})
	w.WriteHeader(http.StatusOK)
}

// Wait blocks until webhook updates being handled are done.
func (b *Bot) Wait() error {
	return b.hooks.Wait()
}

// HandleUpdate routes one update and sends the replies. Updates without a
// message (edits, callbacks) are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	user := b.users.Resolve(msg.From.ID, msg.From.UserName, msg.From.FirstName, msg.From.LastName)
	logger := b.logger.With(
		zap.Int("update_id", update.UpdateID),
		zap.Int64("tg_id", user.TgID),
		zap.String("username", user.Username))

	var (
		replies []string
		err     error
	)
	switch msg.Command() {
	case "start":
		replies, err = one(b.chat.Welcome(ctx, user))
	case "reset":
		replies, err = one(b.chat.ResetHistory(ctx, user))
	case "add":
		replies, err = one(b.chat.PromoteUser(ctx, user, strings.Fields(msg.CommandArguments())))
	case "help":
		replies = []string{HelpReply}
	case "":
		replies, err = b.chat.HandleMessage(ctx, user, msg.Text)
	default:
		logger.Debug("Unknown command", zap.String("command", msg.Command()))
		replies = []string{HelpReply}
	}

	if err != nil {
		logger.Error("Failed to handle update", zap.Error(err))
		if _, sendErr := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, ErrorReply)); sendErr != nil {
			logger.Debug("Failed to send error reply", zap.Error(sendErr))
		}
		return
	}

	for _, text := range replies {
		if _, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
			logger.Error("Failed to send reply", zap.Error(err))
			return
		}
	}
}

func one(reply string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{reply}, nil
}
