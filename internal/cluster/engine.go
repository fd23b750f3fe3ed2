package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/geoindex"
	"github.com/civicpulse/hazard_reporting_engine/internal/metrics"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
	"github.com/civicpulse/hazard_reporting_engine/internal/severity"
)

// maxJoinRetries - число повторов решения при конфликте версий внутри блокировки региона
const maxJoinRetries = 3

// Store определяет контракт хранилища, необходимый движку кластеризации
type Store interface {
	CreateIncidentWithReport(ctx context.Context, incident *models.Incident, report *models.Report) error
	AddReportToIncident(ctx context.Context, incident *models.Incident, report *models.Report) error
	GetIncidentByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListActiveIncidents(ctx context.Context) ([]*models.Incident, error)
}

// Engine решает для каждого нормализованного отчета: присоединить его к
// существующему инциденту или создать новый кластер. Решение принимается
// атомарно внутри блокировки региона ячеек, чтобы два одновременных отчета
// об одной опасности не породили дубликат кластера.
type Engine struct {
	store      Store
	grid       *geoindex.Grid
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	joinRadius float64
	joinWindow time.Duration
}

func NewEngine(store Store, grid *geoindex.Grid, logger *logrus.Logger, m *metrics.Metrics, joinRadiusMeters float64, joinWindow time.Duration) *Engine {
	return &Engine{
		store:      store,
		grid:       grid,
		logger:     logger,
		metrics:    m,
		joinRadius: joinRadiusMeters,
		joinWindow: joinWindow,
	}
}

// WarmIndex восстанавливает геоиндекс из хранилища при старте процесса
func (e *Engine) WarmIndex(ctx context.Context) error {
	incidents, err := e.store.ListActiveIncidents(ctx)
	if err != nil {
		return fmt.Errorf("cluster: could not warm geo index: %w", err)
	}
	for _, incident := range incidents {
		e.grid.Insert(incident.ID, incident.Category, incident.CentroidLatitude, incident.CentroidLongitude, incident.CreatedAt)
	}
	e.metrics.ActiveIncidents.Set(float64(len(incidents)))
	e.logger.WithField("count", len(incidents)).Info("Geo index warmed from repository")
	return nil
}

// Remove исключает закрытый инцидент из геоиндекса: новые отчеты в той же
// точке создадут свежий кластер
func (e *Engine) Remove(id uuid.UUID) {
	e.grid.Remove(id)
	e.metrics.ActiveIncidents.Dec()
}

// Assign атомарно присоединяет отчет к ближайшему подходящему инциденту или
// создает новый. Возвращает инцидент уже с пересчитанной срочностью.
func (e *Engine) Assign(ctx context.Context, report *models.Report) (*models.Incident, error) {
	log := e.logger.WithFields(logrus.Fields{
		"service":   "cluster",
		"method":    "Assign",
		"report_id": report.ID,
		"category":  report.Category,
	})

	unlock := e.grid.LockRegion(report.Latitude, report.Longitude)
	defer unlock()

	for attempt := 0; attempt < maxJoinRetries; attempt++ {
		candidate, ok := e.pickCandidate(report)
		if !ok {
			incident, err := e.seed(ctx, report)
			if err != nil {
				return nil, err
			}
			log.WithField("incident_id", incident.ID).Info("Report seeded a new incident")
			return incident, nil
		}

		incident, err := e.join(ctx, candidate.ID, report)
		if err != nil {
			if errors.Is(err, apperrors.ErrConcurrencyConflict) {
				e.metrics.VersionConflicts.Inc()
				log.WithField("incident_id", candidate.ID).Warn("Version conflict on join, retrying with fresh state")
				continue
			}
			if errors.Is(err, apperrors.ErrIncidentNotFound) || errors.Is(err, errCandidateInactive) {
				// Запись индекса устарела: инцидент закрыт между запросом и чтением
				e.Remove(candidate.ID)
				continue
			}
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"incident_id":   incident.ID,
			"confirmations": incident.ConfirmationCount,
		}).Info("Report joined existing incident")
		return incident, nil
	}

	return nil, fmt.Errorf("cluster: assign of report %s exhausted retries: %w", report.ID, apperrors.ErrConcurrencyConflict)
}

// errCandidateInactive - кандидат из индекса уже не принимает отчеты
var errCandidateInactive = errors.New("candidate incident is no longer active")

// pickCandidate выбирает ближайший активный инцидент той же категории в радиусе
// кластеризации и внутри временного окна. Кандидаты уже отсортированы по
// дистанции, при равенстве - по времени создания.
func (e *Engine) pickCandidate(report *models.Report) (geoindex.Candidate, bool) {
	candidates := e.grid.QueryNear(report.Category, report.Latitude, report.Longitude, e.joinRadius)
	for _, candidate := range candidates {
		if report.SubmittedAt.Sub(candidate.CreatedAt) <= e.joinWindow {
			return candidate, true
		}
	}
	return geoindex.Candidate{}, false
}

// seed создает новый инцидент из отчета, не нашедшего кластер поблизости
func (e *Engine) seed(ctx context.Context, report *models.Report) (*models.Incident, error) {
	incident := &models.Incident{
		Category:          report.Category,
		CentroidLatitude:  report.Latitude,
		CentroidLongitude: report.Longitude,
		ConfirmationCount: 1,
		Severity:          severity.Score(report.Category, 1),
		Status:            models.StatusOpen,
		BeforeImageRef:    report.BeforeImageRef,
	}
	if err := e.store.CreateIncidentWithReport(ctx, incident, report); err != nil {
		return nil, fmt.Errorf("cluster: could not seed incident: %w", err)
	}

	e.grid.Insert(incident.ID, incident.Category, incident.CentroidLatitude, incident.CentroidLongitude, incident.CreatedAt)
	e.metrics.IncidentsSeeded.Inc()
	e.metrics.ActiveIncidents.Inc()
	return incident, nil
}

// join читает актуальное состояние кандидата, пересчитывает центроид как
// бегущее среднее, счетчик и срочность, и фиксирует изменение под версией
func (e *Engine) join(ctx context.Context, incidentID uuid.UUID, report *models.Report) (*models.Incident, error) {
	incident, err := e.store.GetIncidentByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !incident.IsActive() {
		return nil, errCandidateInactive
	}

	newCount := incident.ConfirmationCount + 1
	incident.CentroidLatitude += (report.Latitude - incident.CentroidLatitude) / float64(newCount)
	incident.CentroidLongitude += (report.Longitude - incident.CentroidLongitude) / float64(newCount)
	incident.ConfirmationCount = newCount
	incident.Severity = severity.Rescore(incident)

	if err := e.store.AddReportToIncident(ctx, incident, report); err != nil {
		return nil, err
	}

	e.grid.UpdateCentroid(incident.ID, incident.CentroidLatitude, incident.CentroidLongitude)
	e.metrics.ClusterJoins.Inc()
	return incident, nil
}
