package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"autodm/internal/entities"
	"autodm/internal/interfaces"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// GatewayClient talks to the platform adapter service that fronts the
// social network's messaging API. Calls are never retried: a failed send
// is reported to the caller as-is.
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

var _ interfaces.Gateway = (*GatewayClient)(nil)

func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type gatewayResponse struct {
	OK        bool   `json:"ok"`
	Following bool   `json:"following"`
	Error     string `json:"error,omitempty"`
}

func (g *GatewayClient) PostCommentReply(ctx context.Context, accountID, token, commentID, contentID, text string) (bool, error) {
	path := fmt.Sprintf("/v1/accounts/%s/comments/%s/replies", url.PathEscape(accountID), url.PathEscape(commentID))
	resp, err := g.do(ctx, http.MethodPost, path, token, map[string]string{
		"content_id": contentID,
		"text":       text,
	})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (g *GatewayClient) SendDirectMessage(ctx context.Context, accountID, token, recipientID string, msg entities.DirectMessage) (bool, error) {
	path := fmt.Sprintf("/v1/accounts/%s/messages", url.PathEscape(accountID))
	resp, err := g.do(ctx, http.MethodPost, path, token, struct {
		RecipientID string `json:"recipient_id"`
		entities.DirectMessage
	}{recipientID, msg})
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (g *GatewayClient) CheckFollowStatus(ctx context.Context, accountID, token, userID string) (bool, error) {
	path := fmt.Sprintf("/v1/accounts/%s/followers/%s", url.PathEscape(accountID), url.PathEscape(userID))
	resp, err := g.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return false, err
	}
	if !resp.OK {
		return false, fmt.Errorf("follow check rejected: %s", resp.Error)
	}
	return resp.Following, nil
}

// do sends one request. A 4xx answer is a rejection (ok=false, no error);
// transport failures and 5xx answers are errors.
func (g *GatewayClient) do(ctx context.Context, method, path, token string, body any) (*gatewayResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway %s %s: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		out := &gatewayResponse{}
		_ = json.NewDecoder(resp.Body).Decode(out)
		out.OK = false
		return out, nil
	}

	var out gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway %s %s: decode response: %w", method, path, err)
	}
	return &out, nil
}

// TelegramNotifier sends operator alerts to a Telegram chat.
type TelegramNotifier struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
}

var _ interfaces.Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot token issue: %w", err)
	}
	return &TelegramNotifier{Bot: bot, ChatID: chatID}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.Bot.Send(tgbotapi.NewMessage(t.ChatID, text))
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NopNotifier drops alerts. Used when no alert channel is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }
