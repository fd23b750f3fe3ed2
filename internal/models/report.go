package models

import (
	"time"

	"github.com/google/uuid"
)

// Report - одно обращение гражданина. Неизменяем после создания.
// IncidentID - ребро принадлежности отчета кластеру (подтверждение).
type Report struct {
	ID             uuid.UUID `json:"id"`
	ReporterID     string    `json:"reporter_id"`
	Category       Category  `json:"category"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Description    string    `json:"description,omitempty"`
	BeforeImageRef string    `json:"before_image_ref,omitempty"`
	IncidentID     uuid.UUID `json:"incident_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
