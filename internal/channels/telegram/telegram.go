// Package telegram implements the Telegram Bot API channel using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mindloop/aria/internal/channels"
	"github.com/mindloop/aria/internal/logging"
)

const (
	apiBase     = "https://api.telegram.org/bot"
	pollTimeout = 30 * time.Second
)

// Adapter implements channels.Channel for Telegram
type Adapter struct {
	token   string
	client  *http.Client
	handler func(channels.InboundMessage)
	mu      sync.RWMutex
	cancel  context.CancelFunc
	offset  int64
}

// New creates a Telegram adapter with the given bot token
func New(token string) *Adapter {
	return &Adapter{
		token: token,
		// Client timeout must exceed the long-poll window
		client: &http.Client{Timeout: pollTimeout + 10*time.Second},
	}
}

// ID returns the channel identifier
func (a *Adapter) ID() string {
	return "telegram"
}

// SetHandler sets the callback for incoming messages
func (a *Adapter) SetHandler(fn func(channels.InboundMessage)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = fn
}

// Connect verifies the token and starts the long-poll loop
func (a *Adapter) Connect(ctx context.Context) error {
	if a.token == "" {
		return fmt.Errorf("telegram bot token is required")
	}

	body, err := a.call(ctx, "getMe", nil)
	if err != nil {
		return fmt.Errorf("telegram auth failed: %w", err)
	}
	username := gjson.GetBytes(body, "result.username").String()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.poll(ctx)

	logging.Infof("[Telegram] Bot @%s connected and polling", username)
	return nil
}

// Disconnect stops the poll loop
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Send delivers a message to a chat
func (a *Adapter) Send(ctx context.Context, msg channels.OutboundMessage) error {
	_, err := a.call(ctx, "sendMessage", url.Values{
		"chat_id": {strconv.FormatInt(msg.ChatID, 10)},
		"text":    {msg.Text},
	})
	return err
}

// Typing shows the typing indicator while a reply is being generated
func (a *Adapter) Typing(ctx context.Context, chatID int64) {
	_, err := a.call(ctx, "sendChatAction", url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"action":  {"typing"},
	})
	if err != nil {
		logging.Debugf("[Telegram] Typing indicator failed: %v", err)
	}
}

func (a *Adapter) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		body, err := a.call(ctx, "getUpdates", url.Values{
			"offset":  {strconv.FormatInt(a.offset, 10)},
			"timeout": {strconv.Itoa(int(pollTimeout / time.Second))},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Errorf("[Telegram] Poll failed: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, update := range gjson.GetBytes(body, "result").Array() {
			updateID := update.Get("update_id").Int()
			if updateID >= a.offset {
				a.offset = updateID + 1
			}
			a.dispatch(update)
		}
	}
}

func (a *Adapter) dispatch(update gjson.Result) {
	msg := update.Get("message")
	if !msg.Exists() {
		return
	}
	chatID := msg.Get("chat.id").Int()
	fromID := msg.Get("from.id").Int()
	if chatID == 0 || fromID == 0 {
		return
	}

	inbound := channels.InboundMessage{
		UserID:     strconv.FormatInt(fromID, 10),
		ChatID:     chatID,
		MessageID:  fmt.Sprintf("tg_%d_%d", chatID, msg.Get("message_id").Int()),
		Username:   msg.Get("from.username").String(),
		Text:       msg.Get("text").String(),
		ReceivedAt: time.Unix(msg.Get("date").Int(), 0),
		IsVoice:    msg.Get("voice").Exists(),
	}
	if inbound.Text == "" && !inbound.IsVoice {
		return
	}

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler != nil {
		handler(inbound)
	}
}

func (a *Adapter) call(ctx context.Context, method string, params url.Values) ([]byte, error) {
	endpoint := apiBase + a.token + "/" + method
	var req *http.Request
	var err error
	if params == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(body, "ok").Bool() {
		return nil, fmt.Errorf("telegram api error: %s", gjson.GetBytes(body, "description").String())
	}
	return body, nil
}
