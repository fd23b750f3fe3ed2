package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
)

// Classification - результат внешнего классификатора опасностей
type Classification struct {
	Category    models.Category `json:"category"`
	HazardScore float64         `json:"hazard_score"`
}

// Classifier - внешний коллаборатор, определяющий категорию по описанию или
// фотографии. Вызывается до нормализации и никогда внутри критической секции
// кластеризации.
type Classifier interface {
	Classify(ctx context.Context, description, imageRef string) (*Classification, error)
}

// HTTPClassifier - реализация Classifier поверх внешнего HTTP-сервиса
type HTTPClassifier struct {
	url        string
	httpClient *http.Client
}

func NewHTTPClassifier(cfg *config.Config) *HTTPClassifier {
	return &HTTPClassifier{
		url: cfg.ClassifierURL,
		httpClient: &http.Client{
			Timeout: cfg.ClassifierTimeout,
		},
	}
}

// Classify отправляет описание и ссылку на изображение классификатору
func (c *HTTPClassifier) Classify(ctx context.Context, description, imageRef string) (*Classification, error) {
	if c.url == "" {
		return nil, fmt.Errorf("classifier URL is not configured")
	}

	payload, err := json.Marshal(map[string]string{
		"description": description,
		"image_ref":   imageRef,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier responded with status %d", resp.StatusCode)
	}

	result := &Classification{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	return result, nil
}
