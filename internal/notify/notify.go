package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mozzafiato/internal/config"
	"mozzafiato/internal/domain"
	"mozzafiato/internal/events"
	"mozzafiato/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	defaultTitle = "Mozzafiato"
	defaultBody  = "Tienes una nueva notificación"
	defaultURL   = "/"

	queueSize = 16
)

var ErrQueueFull = errors.New("notification queue is full")

// Message is a push notification: a title, a body and the page it opens.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Text renders the message for a chat, filling the usual defaults.
func (m Message) Text(baseURL string) string {
	title := m.Title
	if title == "" {
		title = defaultTitle
	}
	body := m.Body
	if body == "" {
		body = defaultBody
	}
	url := m.URL
	if url == "" {
		url = defaultURL
	}
	if baseURL != "" && strings.HasPrefix(url, "/") {
		url = strings.TrimSuffix(baseURL, "/") + url
	}
	return fmt.Sprintf("%s\n%s\n%s", title, body, url)
}

// Notifier relays sync and connectivity events to Telegram chats. Sends are
// queued and delivered by Run so event publishers never wait on the network.
type Notifier struct {
	sender  domain.TelegramSender
	chatIDs []int64
	baseURL string
	queue   chan Message
	logger  *zerolog.Logger
}

// New returns nil when notifications are not configured; a nil Notifier is
// safe to use.
func New(cfg config.NotifyConfig, sender domain.TelegramSender, logger *zerolog.Logger) *Notifier {
	if sender == nil || len(cfg.ChatIDs) == 0 {
		return nil
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{
		sender:  sender,
		chatIDs: append([]int64(nil), cfg.ChatIDs...),
		baseURL: cfg.BaseURL,
		queue:   make(chan Message, queueSize),
		logger:  logger,
	}
}

// NewBot connects to the Bot API. An empty token means notifications are off.
func NewBot(cfg config.NotifyConfig) (*tgbotapi.BotAPI, error) {
	if cfg.TelegramToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

func (n *Notifier) Enabled() bool {
	return n != nil
}

// Subscribe hooks the notifier to the bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	if n == nil || bus == nil {
		return
	}
	bus.Subscribe(models.EventSyncCompleted, func(ev *events.Event) error {
		var payload events.SyncCompletedPayload
		if err := ev.Decode(&payload); err != nil {
			return err
		}
		msg, ok := syncMessage(payload)
		if !ok {
			return nil
		}
		return n.Enqueue(msg)
	})
	bus.Subscribe(models.EventConnectivityOnline, func(*events.Event) error {
		return n.Enqueue(Message{Title: defaultTitle, Body: "Conexión restablecida, sincronizando datos", URL: defaultURL})
	})
}

// Enqueue schedules msg for delivery without blocking.
func (n *Notifier) Enqueue(msg Message) error {
	if n == nil {
		return nil
	}
	select {
	case n.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	if n == nil {
		return
	}
	n.logger.Info().Int("chats", len(n.chatIDs)).Msg("Telegram notifications enabled")
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if err := n.Send(msg); err != nil {
				n.logger.Warn().Err(err).Str("title", msg.Title).Msg("failed to deliver notification")
			}
		}
	}
}

// Send delivers msg to every configured chat, returning the joined failures.
func (n *Notifier) Send(msg Message) error {
	if n == nil {
		return nil
	}
	text := msg.Text(n.baseURL)
	var errs []error
	for _, chatID := range n.chatIDs {
		if _, err := n.sender.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// syncMessage summarizes a run. Runs that submitted nothing and failed
// nothing are not worth a message.
func syncMessage(p events.SyncCompletedPayload) (Message, bool) {
	names := make([]string, 0, len(p.Categories))
	for name := range p.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		lines  []string
		failed bool
	)
	for _, name := range names {
		outcome := p.Categories[name]
		switch {
		case !outcome.Result.Succeeded:
			failed = true
			lines = append(lines, fmt.Sprintf("%s: error (%s)", categoryLabel(name), outcome.Result.Error))
		case outcome.Submitted > 0:
			lines = append(lines, fmt.Sprintf("%s: %d registros enviados", categoryLabel(name), outcome.Submitted))
		}
	}
	if len(lines) == 0 {
		return Message{}, false
	}

	title := "Sincronización completada"
	if failed {
		title = "Sincronización con errores"
	}
	return Message{Title: title, Body: strings.Join(lines, "\n"), URL: defaultURL}, true
}

func categoryLabel(name string) string {
	switch models.Category(name) {
	case models.CategoryProduction:
		return "Producción"
	case models.CategorySales:
		return "Ventas"
	default:
		return name
	}
}
