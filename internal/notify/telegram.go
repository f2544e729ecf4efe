package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skalibog/moonshot/internal/config"
)

// Telegram отправка сообщений через Bot API
type Telegram struct {
	apiURL     string
	botToken   string
	chatID     string
	httpClient *http.Client
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// NewTelegram создает клиент Telegram
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Telegram{
		apiURL:     apiURL,
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify отправляет текст сообщения обычным текстом, без разметки
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  msg.Text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса telegram: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса telegram: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка отправки в telegram: %w", t.redact(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа telegram: %w", err)
	}

	var out sendMessageResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("некорректный ответ telegram (HTTP %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("ошибка telegram API (HTTP %d): %s", resp.StatusCode, out.Description)
	}
	return nil
}

// redact убирает URL запроса из ошибки транспорта: в пути лежит токен бота
func (t *Telegram) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	if t.botToken != "" && strings.Contains(err.Error(), t.botToken) {
		return errors.New(strings.ReplaceAll(err.Error(), t.botToken, "***"))
	}
	return err
}

// Close ничего не делает
func (t *Telegram) Close() error { return nil }
