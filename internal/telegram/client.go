// Package telegram delivers alert messages via the Telegram Bot API, with
// an optional append-only log file sink. Delivery is best-effort: failures
// are returned to the caller for logging but never block rule evaluation.
package telegram

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	enabled        bool
	maxRetries     int
	retryDelayBase time.Duration

	outputPath string // when set, every message is appended here first
}

// NewClient creates a Telegram client. When enabled is false no bot session
// is opened and Send only writes to the output file, if configured.
func NewClient(token, chatID string, enabled bool, maxRetries int, retryDelayBase time.Duration, outputPath string) (*Client, error) {
	c := &Client{
		enabled:        enabled,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		outputPath:     outputPath,
	}
	if maxRetries <= 0 {
		c.maxRetries = 3
	}
	if retryDelayBase <= 0 {
		c.retryDelayBase = time.Second
	}
	if !enabled {
		return c, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	c.bot = bot
	c.chatID = chatIDInt
	return c, nil
}

// Send delivers one alert message. The file sink is written before the
// network call so an offline run still leaves a local record.
func (c *Client) Send(message string) error {
	if c.outputPath != "" {
		if err := c.appendToFile(message); err != nil {
			return fmt.Errorf("append alert to %s: %w", c.outputPath, err)
		}
	}
	if !c.enabled || c.bot == nil {
		return nil
	}
	return c.sendHTML(EscapeHTML(message))
}

// SendError sends a monitoring error notification. Call this only on the
// first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	if !c.enabled || c.bot == nil {
		return nil
	}
	return c.sendHTML(fmt.Sprintf("⚠️ <b>Monitoring error</b>\n<code>%s</code>", EscapeHTML(cycleErr.Error())))
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	if !c.enabled || c.bot == nil {
		return nil
	}
	return c.sendHTML(fmt.Sprintf("✅ <b>Monitoring recovered</b> after %d consecutive failure(s)", failureCount))
}

// sendHTML sends an HTML-mode message with linear-backoff retry.
func (c *Client) sendHTML(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) appendToFile(message string) error {
	if err := os.MkdirAll(filepath.Dir(c.outputPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(message + "\n\n")
	return err
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes the characters Telegram's HTML parse mode reserves.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}
