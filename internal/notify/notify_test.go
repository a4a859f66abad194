package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mozzafiato/internal/config"
	"mozzafiato/internal/events"
	"mozzafiato/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func textContains(chatID int64, fragment string) any {
	return mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == chatID && strings.Contains(msg.Text, fragment)
	})
}

func TestNewDisabled(t *testing.T) {
	assert.Nil(t, New(config.NotifyConfig{ChatIDs: []int64{1}}, nil, nil))
	assert.Nil(t, New(config.NotifyConfig{}, new(mockTelegramSender), nil))

	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Send(Message{}))
	assert.NoError(t, n.Enqueue(Message{}))
	n.Subscribe(events.NewEventBus())
}

func TestNewBotWithoutToken(t *testing.T) {
	bot, err := NewBot(config.NotifyConfig{})
	assert.NoError(t, err)
	assert.Nil(t, bot)
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "Mozzafiato\nTienes una nueva notificación\n/", Message{}.Text(""))
	assert.Equal(t, "T\nB\nhttps://app.example/ventas", Message{Title: "T", Body: "B", URL: "/ventas"}.Text("https://app.example/"))
	assert.Equal(t, "T\nB\nhttps://other", Message{Title: "T", Body: "B", URL: "https://other"}.Text("https://app.example"))
}

func TestSendToAllChats(t *testing.T) {
	sender := new(mockTelegramSender)
	n := New(config.NotifyConfig{ChatIDs: []int64{10, 20}}, sender, nil)
	require.True(t, n.Enabled())

	sender.On("Send", textContains(10, "hola")).Return(tgbotapi.Message{}, nil).Once()
	sender.On("Send", textContains(20, "hola")).Return(tgbotapi.Message{}, errors.New("blocked")).Once()

	err := n.Send(Message{Body: "hola"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 20")
	sender.AssertExpectations(t)
}

func TestSubscribe(t *testing.T) {
	bus := events.NewEventBus()
	sender := new(mockTelegramSender)
	n := New(config.NotifyConfig{ChatIDs: []int64{7}}, sender, nil)
	n.Subscribe(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	sent := make(chan string, 4)
	sender.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		sent <- args.Get(0).(tgbotapi.MessageConfig).Text
	}).Return(tgbotapi.Message{}, nil)

	require.NoError(t, bus.PublishJSON(models.EventConnectivityOnline, events.ConnectivityPayload{Online: true}))
	select {
	case text := <-sent:
		assert.Contains(t, text, "Conexión restablecida")
	case <-time.After(2 * time.Second):
		t.Fatal("online notification not sent")
	}

	require.NoError(t, bus.PublishJSON(models.EventSyncCompleted, events.SyncCompletedPayload{
		Categories: map[string]events.CategoryOutcome{
			"production": {Submitted: 3, Result: models.SyncResult{Succeeded: true}},
			"sales":      {Submitted: 1, Result: models.SyncFailed("timeout")},
		},
	}))
	select {
	case text := <-sent:
		assert.Contains(t, text, "Sincronización con errores")
		assert.Contains(t, text, "Producción: 3 registros enviados")
		assert.Contains(t, text, "Ventas: error (timeout)")
	case <-time.After(2 * time.Second):
		t.Fatal("sync notification not sent")
	}
}

func TestSyncMessage(t *testing.T) {
	_, ok := syncMessage(events.SyncCompletedPayload{Online: true})
	assert.False(t, ok, "idle run")

	msg, ok := syncMessage(events.SyncCompletedPayload{Categories: map[string]events.CategoryOutcome{
		"sales": {Submitted: 2, Result: models.SyncResult{Succeeded: true}},
	}})
	require.True(t, ok)
	assert.Equal(t, "Sincronización completada", msg.Title)
	assert.Equal(t, "Ventas: 2 registros enviados", msg.Body)
}

func TestEnqueueFull(t *testing.T) {
	n := New(config.NotifyConfig{ChatIDs: []int64{1}}, new(mockTelegramSender), nil)
	for i := 0; i < queueSize; i++ {
		require.NoError(t, n.Enqueue(Message{}))
	}
	assert.ErrorIs(t, n.Enqueue(Message{}), ErrQueueFull)
}
