package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicpulse/hazard_reporting_engine/internal/config"
)

func TestHTTPMessenger_SendSignsPayload(t *testing.T) {
	// Подготовка
	const secret = "test-secret"
	var receivedBody []byte
	var receivedSignature string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		receivedSignature = r.Header.Get("X-Messenger-Signature")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	messenger := NewHTTPMessenger(&config.Config{
		MessengerURL:     server.URL,
		MessengerSecret:  secret,
		MessengerTimeout: time.Second,
	})

	// Действие
	err := messenger.Send(context.Background(), Message{
		NotificationID: "n-1",
		ReporterID:     "citizen-1",
		IncidentID:     "i-1",
		Body:           "The POTHOLE hazard you reported has been resolved.",
	})

	// Проверки: подпись совпадает с HMAC-SHA256 от тела
	require.NoError(t, err)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(receivedBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), receivedSignature)
	assert.Contains(t, string(receivedBody), "citizen-1")
}

func TestHTTPMessenger_SendRejectsNon2xx(t *testing.T) {
	// Подготовка
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	messenger := NewHTTPMessenger(&config.Config{
		MessengerURL:     server.URL,
		MessengerTimeout: time.Second,
	})

	// Действие
	err := messenger.Send(context.Background(), Message{NotificationID: "n-1"})

	// Проверки
	require.Error(t, err)
	assert.ErrorContains(t, err, "503")
}

func TestHTTPMessenger_RequiresURL(t *testing.T) {
	// Подготовка
	messenger := NewHTTPMessenger(&config.Config{MessengerTimeout: time.Second})

	// Действие
	err := messenger.Send(context.Background(), Message{NotificationID: "n-1"})

	// Проверки
	require.Error(t, err)
	assert.ErrorContains(t, err, "not configured")
}
