package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationStatus - статус доставки уведомления
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "PENDING"
	NotificationDelivered NotificationStatus = "DELIVERED"
	NotificationFailed    NotificationStatus = "FAILED"
)

// Notification - обязательство доставить уведомление о решении инцидента
// одному из подтвердивших его граждан. Хранится для аудита и после доставки.
type Notification struct {
	ID         uuid.UUID          `json:"id"`
	IncidentID uuid.UUID          `json:"incident_id"`
	ReporterID string             `json:"reporter_id"`
	Status     NotificationStatus `json:"status"`
	Attempts   int                `json:"attempts"`
	LastError  string             `json:"last_error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
