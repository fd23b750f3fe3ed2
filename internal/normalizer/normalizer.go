package normalizer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
)

// RawReport - сырая заявка гражданина до нормализации
type RawReport struct {
	ReporterID     string  `validate:"required"`
	Category       string  `validate:"required"`
	Latitude       float64 `validate:"latitude"`
	Longitude      float64 `validate:"longitude"`
	Description    string
	BeforeImageRef string
}

// Normalizer валидирует и канонизирует сырые заявки. Без побочных эффектов:
// присваивает ID и серверное время, дедупликация - задача движка кластеризации.
type Normalizer struct {
	validate *validator.Validate
	now      func() time.Time
}

func New() *Normalizer {
	return &Normalizer{
		validate: validator.New(),
		now:      time.Now,
	}
}

// Normalize превращает сырую заявку в неизменяемый Report или возвращает
// ошибку, обернутую в ErrInvalidReport, без создания частичного состояния
func (n *Normalizer) Normalize(raw RawReport) (*models.Report, error) {
	if err := n.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidReport, err.Error())
	}

	category := models.Category(raw.Category)
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", apperrors.ErrInvalidReport, raw.Category)
	}

	if math.IsNaN(raw.Latitude) || math.IsInf(raw.Latitude, 0) ||
		math.IsNaN(raw.Longitude) || math.IsInf(raw.Longitude, 0) {
		return nil, fmt.Errorf("%w: location must be a finite lat/lng pair", apperrors.ErrInvalidReport)
	}

	description := strings.TrimSpace(raw.Description)
	if description == "" && raw.BeforeImageRef == "" {
		return nil, fmt.Errorf("%w: description required when no image is attached", apperrors.ErrInvalidReport)
	}

	return &models.Report{
		ID:             uuid.New(),
		ReporterID:     raw.ReporterID,
		Category:       category,
		Latitude:       raw.Latitude,
		Longitude:      raw.Longitude,
		Description:    description,
		BeforeImageRef: raw.BeforeImageRef,
		SubmittedAt:    n.now().UTC(),
	}, nil
}
