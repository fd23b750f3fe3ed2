package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/metrics"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
	"github.com/civicpulse/hazard_reporting_engine/internal/normalizer"
	notification_mocks "github.com/civicpulse/hazard_reporting_engine/internal/notification/mocks"
	"github.com/civicpulse/hazard_reporting_engine/internal/service/mocks"
)

// newTestIncidentService — вспомогательная функция для создания инстанса сервиса с моками.
func newTestIncidentService(t *testing.T) (*incidentService, *mocks.MockIncidentRepository, *mocks.MockClusterer, *notification_mocks.MockPublisher) {
	ctrl := gomock.NewController(t)
	repoMock := mocks.NewMockIncidentRepository(ctrl)
	clustererMock := mocks.NewMockClusterer(ctrl)
	publisherMock := notification_mocks.NewMockPublisher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		JoinRadiusMeters: 150,
		JoinWindow:       30 * 24 * time.Hour,
	}

	svc := NewIncidentService(repoMock, normalizer.New(), clustererMock, publisherMock, logger, cfg, metrics.New(prometheus.NewRegistry()))
	return svc.(*incidentService), repoMock, clustererMock, publisherMock
}

func validRawReport() normalizer.RawReport {
	return normalizer.RawReport{
		ReporterID:  "citizen-1",
		Category:    "Pothole",
		Latitude:    55.75,
		Longitude:   37.61,
		Description: "Яма на дороге",
	}
}

func TestSubmitReport_Success(t *testing.T) {
	// Подготовка
	service, repoMock, clustererMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:                incidentID,
		Category:          models.CategoryPothole,
		ConfirmationCount: 1,
		Severity:          models.SeverityLow,
		Status:            models.StatusOpen,
	}

	// Ожидания
	clustererMock.EXPECT().
		Assign(ctx, gomock.Any()).
		Return(expectedIncident, nil).
		Times(1)
	repoMock.EXPECT().
		InvalidateIncidentCache(ctx, incidentID).
		Return(nil).
		Times(1)

	// Действие
	report, incident, err := service.SubmitReport(ctx, validRawReport())

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
	assert.Equal(t, "citizen-1", report.ReporterID)
	assert.NotEqual(t, uuid.Nil, report.ID)
}

func TestSubmitReport_InvalidReport(t *testing.T) {
	// Подготовка
	service, _, clustererMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	raw := validRawReport()
	raw.Category = "VOLCANO"

	// Ожидания: кластеризация не вызывается для отклоненной заявки
	clustererMock.EXPECT().Assign(gomock.Any(), gomock.Any()).Times(0)

	// Действие
	report, incident, err := service.SubmitReport(ctx, raw)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, apperrors.ErrInvalidReport)
}

func TestSubmitReport_ClustererFailure(t *testing.T) {
	// Подготовка
	service, _, clustererMock, _ := newTestIncidentService(t)
	ctx := context.Background()

	// Ожидания
	clustererMock.EXPECT().
		Assign(ctx, gomock.Any()).
		Return(nil, fmt.Errorf("хранилище недоступно")).
		Times(1)

	// Действие
	_, _, err := service.SubmitReport(ctx, validRawReport())

	// Проверки
	require.Error(t, err)
	assert.ErrorContains(t, err, "could not cluster report")
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:       incidentID,
		Category: models.CategoryGarbage,
	}

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:       incidentID,
		Category: models.CategoryGarbage,
	}

	// Ожидания
	// 1. Промах кеша
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)

	// 2. Попадание в БД
	repoMock.EXPECT().
		GetIncidentByID(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// 3. Запись в кеш
	repoMock.EXPECT().
		SetIncidentCache(ctx, expectedIncident).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)
	repoMock.EXPECT().
		GetIncidentByID(ctx, incidentID).
		Return(nil, apperrors.ErrIncidentNotFound).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, apperrors.ErrIncidentNotFound)
}

func TestAcknowledge_Success(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	open := &models.Incident{
		ID:      incidentID,
		Status:  models.StatusOpen,
		Version: 3,
	}

	// Ожидания
	repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(open, nil).Times(1)
	repoMock.EXPECT().AcknowledgeIncident(ctx, incidentID, int64(3)).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)

	// Действие
	err := service.Acknowledge(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
}

func TestAcknowledge_InvalidFromInProgress(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	inProgress := &models.Incident{
		ID:     incidentID,
		Status: models.StatusInProgress,
	}

	// Ожидания
	repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(inProgress, nil).Times(1)

	// Действие
	err := service.Acknowledge(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestAcknowledge_RetriesOnVersionConflict(t *testing.T) {
	// Подготовка: параллельный отчет сдвинул версию между чтением и записью
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	stale := &models.Incident{ID: incidentID, Status: models.StatusOpen, Version: 3}
	fresh := &models.Incident{ID: incidentID, Status: models.StatusOpen, Version: 4}

	// Ожидания
	gomock.InOrder(
		repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(stale, nil),
		repoMock.EXPECT().AcknowledgeIncident(ctx, incidentID, int64(3)).Return(apperrors.ErrConcurrencyConflict),
		repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(fresh, nil),
		repoMock.EXPECT().AcknowledgeIncident(ctx, incidentID, int64(4)).Return(nil),
	)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)

	// Действие
	err := service.Acknowledge(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
}

func TestResolve_RequiresProof(t *testing.T) {
	// Подготовка
	service, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()

	// Действие: пустое и пробельное доказательство
	_, errEmpty := service.Resolve(ctx, uuid.New(), "")
	_, errBlank := service.Resolve(ctx, uuid.New(), "   ")

	// Проверки
	assert.ErrorIs(t, errEmpty, apperrors.ErrMissingProof)
	assert.ErrorIs(t, errBlank, apperrors.ErrMissingProof)
}

func TestResolve_AlreadyResolved(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	resolved := &models.Incident{
		ID:     incidentID,
		Status: models.StatusResolved,
	}

	// Ожидания
	repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(resolved, nil).Times(1)

	// Действие
	notified, err := service.Resolve(ctx, incidentID, "blob://images/after")

	// Проверки: повторный resolve - ошибка без побочных эффектов
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyResolved)
	assert.Zero(t, notified)
}

func TestResolve_Success_FanOutPerDistinctReporter(t *testing.T) {
	// Подготовка
	service, repoMock, clustererMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	open := &models.Incident{
		ID:      incidentID,
		Status:  models.StatusInProgress,
		Version: 7,
	}
	// Три уникальных репортера кластера
	notifications := []*models.Notification{
		{ID: uuid.New(), IncidentID: incidentID, ReporterID: "citizen-1", Status: models.NotificationPending},
		{ID: uuid.New(), IncidentID: incidentID, ReporterID: "citizen-2", Status: models.NotificationPending},
		{ID: uuid.New(), IncidentID: incidentID, ReporterID: "citizen-3", Status: models.NotificationPending},
	}

	// Ожидания
	repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(open, nil).Times(1)
	repoMock.EXPECT().
		ResolveIncident(ctx, incidentID, int64(7), "blob://images/after", gomock.Any()).
		Return(notifications, nil).
		Times(1)
	clustererMock.EXPECT().Remove(incidentID).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	for _, n := range notifications {
		publisherMock.EXPECT().Enqueue(ctx, n.ID).Return(nil).Times(1)
	}

	// Действие
	notified, err := service.Resolve(ctx, incidentID, "blob://images/after")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 3, notified)
}

func TestResolve_RetriesOnVersionConflict(t *testing.T) {
	// Подготовка: отчет присоединился к кластеру во время resolve
	service, repoMock, clustererMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	stale := &models.Incident{ID: incidentID, Status: models.StatusOpen, Version: 1}
	fresh := &models.Incident{ID: incidentID, Status: models.StatusOpen, Version: 2}
	notifications := []*models.Notification{
		{ID: uuid.New(), IncidentID: incidentID, ReporterID: "citizen-1", Status: models.NotificationPending},
	}

	// Ожидания
	gomock.InOrder(
		repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(stale, nil),
		repoMock.EXPECT().
			ResolveIncident(ctx, incidentID, int64(1), "blob://images/after", gomock.Any()).
			Return(nil, apperrors.ErrConcurrencyConflict),
		repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(fresh, nil),
		repoMock.EXPECT().
			ResolveIncident(ctx, incidentID, int64(2), "blob://images/after", gomock.Any()).
			Return(notifications, nil),
	)
	clustererMock.EXPECT().Remove(incidentID).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	publisherMock.EXPECT().Enqueue(ctx, notifications[0].ID).Return(nil).Times(1)

	// Действие
	notified, err := service.Resolve(ctx, incidentID, "blob://images/after")

	// Проверки: resolve сработал против свежего состава кластера
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
}

func TestResolve_EnqueueFailureIsNotFatal(t *testing.T) {
	// Подготовка: очередь недоступна, sweeper позже переотправит PENDING записи
	service, repoMock, clustererMock, publisherMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	open := &models.Incident{ID: incidentID, Status: models.StatusOpen, Version: 1}
	notifications := []*models.Notification{
		{ID: uuid.New(), IncidentID: incidentID, ReporterID: "citizen-1", Status: models.NotificationPending},
	}

	// Ожидания
	repoMock.EXPECT().GetIncidentByID(ctx, incidentID).Return(open, nil).Times(1)
	repoMock.EXPECT().
		ResolveIncident(ctx, incidentID, int64(1), "blob://images/after", gomock.Any()).
		Return(notifications, nil).
		Times(1)
	clustererMock.EXPECT().Remove(incidentID).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	publisherMock.EXPECT().
		Enqueue(ctx, notifications[0].ID).
		Return(fmt.Errorf("redis недоступен")).
		Times(1)

	// Действие
	notified, err := service.Resolve(ctx, incidentID, "blob://images/after")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
}

func TestListIncidents_Success(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	expectedIncidents := []*models.Incident{
		{ID: uuid.New(), Category: models.CategoryPothole},
		{ID: uuid.New(), Category: models.CategorySewage},
	}

	// Ожидания
	repoMock.EXPECT().
		ListIncidents(ctx, models.StatusOpen, models.Severity("")).
		Return(expectedIncidents, nil).
		Times(1)

	// Действие
	incidents, err := service.ListIncidents(ctx, models.StatusOpen, "")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncidents, incidents)
}

func TestGetStats_Success(t *testing.T) {
	// Подготовка
	service, repoMock, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	expectedStats := &models.IncidentStats{
		TotalActive:    12,
		ResolvedToday:  3,
		CitizensHelped: 150,
	}

	// Ожидания
	repoMock.EXPECT().GetIncidentStats(ctx).Return(expectedStats, nil).Times(1)

	// Действие
	stats, err := service.GetStats(ctx)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedStats, stats)
}
