package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/civicpulse/hazard_reporting_engine/internal/config"
)

// Messenger - внешний коллаборатор доставки сообщений гражданам (push/SMS/email).
// Потребитель обязан быть идемпотентным по notification_id: доставка у нас
// гарантируется как минимум однократная.
type Messenger interface {
	Send(ctx context.Context, message Message) error
}

// Message - полезная нагрузка одной доставки
type Message struct {
	NotificationID string `json:"notification_id"`
	ReporterID     string `json:"reporter_id"`
	IncidentID     string `json:"incident_id"`
	Body           string `json:"body"`
	AfterImageRef  string `json:"after_image_ref,omitempty"`
}

// HTTPMessenger отправляет сообщения внешнему сервису по HTTP с HMAC подписью
type HTTPMessenger struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewHTTPMessenger(cfg *config.Config) *HTTPMessenger {
	return &HTTPMessenger{
		url:    cfg.MessengerURL,
		secret: cfg.MessengerSecret,
		httpClient: &http.Client{
			Timeout: cfg.MessengerTimeout,
		},
	}
}

// Send выполняет один POST во внешний сервис доставки
func (m *HTTPMessenger) Send(ctx context.Context, message Message) error {
	if m.url == "" {
		return fmt.Errorf("messenger URL is not configured")
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create messenger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Добавляем HMAC подпись, если MESSENGER_SECRET задан
	if m.secret != "" {
		req.Header.Set("X-Messenger-Signature", generateHMACSHA256(string(payload), m.secret))
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("messenger responded with status %d", resp.StatusCode)
	}
	return nil
}

// generateHMACSHA256 генерирует HMAC-SHA256 подпись для данных
func generateHMACSHA256(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
