package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity - вычисленный уровень срочности инцидента
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityLow      Severity = "LOW"
)

// Status - статус жизненного цикла инцидента
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
)

// Incident - кластер отчетов, описывающих одну и ту же опасность.
// Centroid пересчитывается как бегущее среднее координат всех отчетов.
// Version используется для оптимистичной блокировки при конкурентных обновлениях.
type Incident struct {
	ID                uuid.UUID  `json:"id"`
	Category          Category   `json:"category"`
	CentroidLatitude  float64    `json:"centroid_latitude"`
	CentroidLongitude float64    `json:"centroid_longitude"`
	ConfirmationCount int        `json:"confirmation_count"`
	Severity          Severity   `json:"severity"`
	Status            Status     `json:"status"`
	Version           int64      `json:"-"`
	BeforeImageRef    string     `json:"before_image_ref,omitempty"`
	AfterImageRef     string     `json:"after_image_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// IsActive сообщает, может ли инцидент еще принимать новые отчеты
func (i *Incident) IsActive() bool {
	return i.Status == StatusOpen || i.Status == StatusInProgress
}
