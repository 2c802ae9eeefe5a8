package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTelegramURL = "https://api.telegram.org"

// TelegramClient delivers outcome messages over the Telegram bot API.
// Delivery is best effort; callers treat errors as log-worthy, not fatal.
type TelegramClient struct {
	host       string
	token      string
	httpClient *http.Client
}

func NewTelegramClient(host, token string) (*TelegramClient, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultTelegramURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("telegram url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("telegram url must be http(s), got %q", host)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token required")
	}

	return &TelegramClient{
		host:  host,
		token: token,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
	}, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends one message to a chat. The recipient id is the Telegram chat
// id recorded at registration.
func (c *TelegramClient) Notify(ctx context.Context, recipientID, message string) error {
	if c == nil {
		return fmt.Errorf("telegram client nil")
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return fmt.Errorf("telegram recipient required")
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: recipientID, Text: message})
	if err != nil {
		return err
	}
	endpoint := c.host + "/bot" + c.token + "/sendMessage"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Error text must never echo the endpoint: it embeds the bot token.
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return fmt.Errorf("telegram sendMessage: status=%d body=%q", resp.StatusCode, body)
	}

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram decode: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram sendMessage rejected: %s", out.Description)
	}
	return nil
}

func readBodyLimit(r io.Reader, n int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, n))
	return string(b)
}

// LogSink writes notifications to the process log. Used when no bot token is
// configured and by dry runs.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, recipientID, message string) error {
	log.Printf("[notify] to=%s %s", recipientID, message)
	return nil
}
