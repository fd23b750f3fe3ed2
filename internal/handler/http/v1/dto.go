package v1

import (
	"time"

	"github.com/google/uuid"
)

// SubmitReportRequest DTO для подачи заявки гражданина
// @Description DTO для подачи заявки гражданина
type SubmitReportRequest struct {
	ReporterID string `json:"reporter_id" validate:"required"`
	// Категория может отсутствовать: ее определит внешний классификатор
	Category    string  `json:"category,omitempty"`
	Latitude    float64 `json:"latitude" validate:"latitude"`
	Longitude   float64 `json:"longitude" validate:"longitude"`
	Description string  `json:"description,omitempty"`
	// Ссылка на уже загруженную фотографию
	BeforeImageRef string `json:"before_image_ref,omitempty"`
	// Либо изображение внутри запроса (base64), будет выгружено в blob store
	BeforeImage string `json:"before_image,omitempty"`
}

// SubmitReportResponse DTO для ответа на подачу заявки
// @Description DTO для ответа на подачу заявки
type SubmitReportResponse struct {
	ReportID          uuid.UUID `json:"report_id"`
	IncidentID        uuid.UUID `json:"incident_id"`
	ConfirmationCount int       `json:"confirmation_count"`
	Severity          string    `json:"severity"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID                uuid.UUID  `json:"id"`
	Category          string     `json:"category"`
	CentroidLatitude  float64    `json:"centroid_latitude"`
	CentroidLongitude float64    `json:"centroid_longitude"`
	ConfirmationCount int        `json:"confirmation_count"`
	Severity          string     `json:"severity"`
	Status            string     `json:"status"`
	BeforeImageRef    string     `json:"before_image_ref,omitempty"`
	AfterImageRef     string     `json:"after_image_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// ResolveIncidentRequest DTO для закрытия инцидента с доказательством
// @Description DTO для закрытия инцидента с доказательством
type ResolveIncidentRequest struct {
	AfterImageRef string `json:"after_image_ref,omitempty"`
	// Либо изображение внутри запроса (base64), будет выгружено в blob store
	AfterImage string `json:"after_image,omitempty"`
}

// ResolveIncidentResponse DTO для ответа на закрытие инцидента
// @Description DTO для ответа на закрытие инцидента
type ResolveIncidentResponse struct {
	IncidentID       uuid.UUID `json:"incident_id"`
	NotifiedCitizens int       `json:"notified_citizens"`
}

// StatsResponse DTO для ответа со статистикой панели воздействия
// @Description DTO для ответа со статистикой панели воздействия
type StatsResponse struct {
	TotalActive    int `json:"total_active"`
	ResolvedToday  int `json:"resolved_today"`
	CitizensHelped int `json:"citizens_helped"`
}
