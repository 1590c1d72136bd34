package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries the payload of one discount event.
type Notification struct {
	Ticker         string
	ISIN           string
	CompanyName    string
	CurrentPrice   decimal.Decimal
	ReferenceMax   decimal.Decimal
	DiscountRatio  decimal.Decimal
	TargetDiscount decimal.Decimal
	LookbackDays   int
	ObservedAt     time.Time
	ReferenceRows  []ReferenceRow
	// Chart holds an optional PNG rendered for this event.
	Chart []byte
}

// Notifier delivers discount notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramOptions parameterise the Telegram notifier.
type TelegramOptions struct {
	BotToken   string
	ChatID     string
	APIBase    string
	SendCharts bool
	Timeout    time.Duration
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	opts   TelegramOptions
	client *http.Client
	logger zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.APIBase == "" {
		opts.APIBase = "https://api.telegram.org"
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")

	return &TelegramNotifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the event as a photo with caption when a chart is
// attached, falling back to a plain message if the upload fails.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	caption := renderCaption(note)

	if n.opts.SendCharts && len(note.Chart) > 0 {
		filename := fmt.Sprintf("isin_chart_%s_%d.png", note.Ticker, note.ObservedAt.Unix())
		if err := n.sendPhoto(ctx, note.Chart, caption, filename); err == nil {
			n.logger.Info().Str("ticker", note.Ticker).
				Str("discount", note.DiscountRatio.StringFixed(4)).
				Msg("chart notification sent")
			return nil
		} else {
			n.logger.Warn().Err(err).Str("ticker", note.Ticker).Msg("photo upload failed, falling back to text")
		}
	}

	if err := n.SendMessage(ctx, caption); err != nil {
		return err
	}
	n.logger.Info().Str("ticker", note.Ticker).
		Str("discount", note.DiscountRatio.StringFixed(4)).
		Msg("text notification sent")
	return nil
}

// SendMessage pushes an HTML-formatted text message.
func (n *TelegramNotifier) SendMessage(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id":    n.opts.ChatID,
		"parse_mode": "HTML",
		"text":       text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.opts.APIBase, n.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return n.do(req)
}

func (n *TelegramNotifier) sendPhoto(ctx context.Context, photo []byte, caption, filename string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("write photo part: %w", err)
	}
	_ = writer.WriteField("chat_id", n.opts.ChatID)
	_ = writer.WriteField("caption", caption)
	_ = writer.WriteField("parse_mode", "HTML")
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", n.opts.APIBase, n.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return n.do(req)
}

func (n *TelegramNotifier) do(req *http.Request) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &result); err == nil && !result.OK {
		if result.Description != "" {
			return fmt.Errorf("telegram rejected request: %s", result.Description)
		}
		return fmt.Errorf("telegram returned ok=false")
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
