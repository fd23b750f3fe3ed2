package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/civicpulse/hazard_reporting_engine/internal/config"
)

// BlobStore - внешнее хранилище файлов, возвращающее стабильный URI
type BlobStore interface {
	Store(ctx context.Context, data []byte, contentType string) (string, error)
}

// HTTPBlobStore - реализация BlobStore поверх внешнего HTTP-сервиса
type HTTPBlobStore struct {
	url        string
	httpClient *http.Client
}

func NewHTTPBlobStore(cfg *config.Config) *HTTPBlobStore {
	return &HTTPBlobStore{
		url: cfg.BlobStoreURL,
		httpClient: &http.Client{
			Timeout: cfg.BlobStoreTimeout,
		},
	}
}

// Store загружает содержимое и возвращает постоянный URI
func (b *HTTPBlobStore) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	if b.url == "" {
		return "", fmt.Errorf("blob store URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create blob store request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call blob store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob store responded with status %d", resp.StatusCode)
	}

	var result struct {
		URI string `json:"uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode blob store response: %w", err)
	}
	return result.URI, nil
}
