package v1

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/collaborators"
	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
	"github.com/civicpulse/hazard_reporting_engine/internal/normalizer"
	"github.com/civicpulse/hazard_reporting_engine/internal/service/mocks"
)

// fakeClassifier возвращает заранее заданный результат классификации
type fakeClassifier struct {
	result *collaborators.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, description, imageRef string) (*collaborators.Classification, error) {
	f.calls++
	return f.result, f.err
}

// fakeBlobStore запоминает загруженные данные и возвращает фиксированный URI
type fakeBlobStore struct {
	uri    string
	err    error
	stored [][]byte
}

func (f *fakeBlobStore) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, data)
	return f.uri, nil
}

// newTestHandler создает новый экземпляр Handler с мокированным сервисом
func newTestHandler(t *testing.T) (*mocks.MockIncidentService, *fakeClassifier, *fakeBlobStore, *gin.Engine) {
	ctrl := gomock.NewController(t)
	mockService := mocks.NewMockIncidentService(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		APIKeys: []string{"test-api-key"},
	}

	classifier := &fakeClassifier{}
	blobStore := &fakeBlobStore{uri: "blob://images/test"}
	handler := NewHandler(mockService, classifier, blobStore, logger, cfg)

	// Настройка Gin роутера для тестов
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	return mockService, classifier, blobStore, router
}

// makeRequest - вспомогательная функция для выполнения HTTP-запросов
func makeRequest(router *gin.Engine, method, url string, body io.Reader, headers ...map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		for key, value := range h {
			req.Header.Set(key, value)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validSubmitRequest() SubmitReportRequest {
	return SubmitReportRequest{
		ReporterID:  "citizen-1",
		Category:    "Pothole",
		Latitude:    55.75,
		Longitude:   37.61,
		Description: "Глубокая яма",
	}
}

func TestSubmitReport_Success(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	reportID := uuid.New()
	incidentID := uuid.New()

	mockService.EXPECT().
		SubmitReport(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw normalizer.RawReport) (*models.Report, *models.Incident, error) {
			assert.Equal(t, "citizen-1", raw.ReporterID)
			assert.Equal(t, "Pothole", raw.Category)
			report := &models.Report{ID: reportID, IncidentID: incidentID}
			incident := &models.Incident{
				ID:                incidentID,
				ConfirmationCount: 1,
				Severity:          models.SeverityLow,
			}
			return report, incident, nil
		}).Times(1)

	bodyBytes, _ := json.Marshal(validSubmitRequest())
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp SubmitReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, reportID, resp.ReportID)
	assert.Equal(t, incidentID, resp.IncidentID)
	assert.Equal(t, 1, resp.ConfirmationCount)
	assert.Equal(t, "LOW", resp.Severity)
}

func TestSubmitReport_InvalidJSON(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)

	mockService.EXPECT().SubmitReport(gomock.Any(), gomock.Any()).Times(0) // Сервис не должен вызываться

	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBufferString(`{"reporter_id": "x"`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestSubmitReport_MissingReporter(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	reqBody := validSubmitRequest()
	reqBody.ReporterID = ""

	mockService.EXPECT().SubmitReport(gomock.Any(), gomock.Any()).Times(0)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitReport_RejectedByNormalizer(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)

	mockService.EXPECT().
		SubmitReport(gomock.Any(), gomock.Any()).
		Return(nil, nil, fmt.Errorf("service: %w", apperrors.ErrInvalidReport)).
		Times(1)

	bodyBytes, _ := json.Marshal(validSubmitRequest())
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitReport_ClassifierFillsMissingCategory(t *testing.T) {
	mockService, classifier, _, router := newTestHandler(t)
	classifier.result = &collaborators.Classification{
		Category:    models.CategoryWaterLeak,
		HazardScore: 0.9,
	}
	reqBody := validSubmitRequest()
	reqBody.Category = ""

	mockService.EXPECT().
		SubmitReport(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw normalizer.RawReport) (*models.Report, *models.Incident, error) {
			assert.Equal(t, "WaterLeak", raw.Category)
			return &models.Report{ID: uuid.New()}, &models.Incident{ID: uuid.New()}, nil
		}).Times(1)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, classifier.calls)
}

func TestSubmitReport_LowScoreFallsBackToOther(t *testing.T) {
	mockService, classifier, _, router := newTestHandler(t)
	classifier.result = &collaborators.Classification{
		Category:    models.CategoryWaterLeak,
		HazardScore: 0.2,
	}
	reqBody := validSubmitRequest()
	reqBody.Category = ""

	mockService.EXPECT().
		SubmitReport(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw normalizer.RawReport) (*models.Report, *models.Incident, error) {
			assert.Equal(t, "Other", raw.Category)
			return &models.Report{ID: uuid.New()}, &models.Incident{ID: uuid.New()}, nil
		}).Times(1)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubmitReport_InlineImageGoesToBlobStore(t *testing.T) {
	mockService, _, blobStore, router := newTestHandler(t)
	reqBody := validSubmitRequest()
	reqBody.BeforeImage = base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	mockService.EXPECT().
		SubmitReport(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw normalizer.RawReport) (*models.Report, *models.Incident, error) {
			assert.Equal(t, "blob://images/test", raw.BeforeImageRef)
			return &models.Report{ID: uuid.New()}, &models.Incident{ID: uuid.New()}, nil
		}).Times(1)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, blobStore.stored, 1)
	assert.Equal(t, []byte("jpeg-bytes"), blobStore.stored[0])
}

func TestSubmitReport_BlobStoreFailure(t *testing.T) {
	mockService, _, blobStore, router := newTestHandler(t)
	blobStore.err = fmt.Errorf("хранилище недоступно")
	reqBody := validSubmitRequest()
	reqBody.BeforeImage = base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	mockService.EXPECT().SubmitReport(gomock.Any(), gomock.Any()).Times(0)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/reports", bytes.NewBuffer(bodyBytes))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetIncident_Success(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:                incidentID,
		Category:          models.CategorySewage,
		ConfirmationCount: 42,
		Severity:          models.SeverityCritical,
		Status:            models.StatusOpen,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}

	mockService.EXPECT().
		GetIncident(gomock.Any(), incidentID).
		Return(expectedIncident, nil).
		Times(1)

	w := makeRequest(router, "GET", "/api/v1/incidents/"+incidentID.String(), nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, incidentID, resp.ID)
	assert.Equal(t, "Sewage", resp.Category)
	assert.Equal(t, 42, resp.ConfirmationCount)
	assert.Equal(t, "CRITICAL", resp.Severity)
}

func TestGetIncident_NotFound(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()

	mockService.EXPECT().
		GetIncident(gomock.Any(), incidentID).
		Return(nil, apperrors.ErrIncidentNotFound).
		Times(1)

	w := makeRequest(router, "GET", "/api/v1/incidents/"+incidentID.String(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetIncident_InvalidID(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)

	mockService.EXPECT().GetIncident(gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(router, "GET", "/api/v1/incidents/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListIncidents_WithFilters(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	expectedIncidents := []*models.Incident{
		{ID: uuid.New(), Category: models.CategoryPothole, Severity: models.SeverityHigh, Status: models.StatusOpen},
	}

	mockService.EXPECT().
		ListIncidents(gomock.Any(), models.StatusOpen, models.SeverityHigh).
		Return(expectedIncidents, nil).
		Times(1)

	w := makeRequest(router, "GET", "/api/v1/incidents?status=OPEN&severity=HIGH", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp []IncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, expectedIncidents[0].ID, resp[0].ID)
}

func TestListIncidents_InvalidStatusFilter(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)

	mockService.EXPECT().ListIncidents(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(router, "GET", "/api/v1/incidents?status=BROKEN", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcknowledgeIncident_Success(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()

	mockService.EXPECT().
		Acknowledge(gomock.Any(), incidentID).
		Return(nil).
		Times(1)

	w := makeRequest(router, "POST", "/api/v1/incidents/"+incidentID.String()+"/acknowledge", nil, map[string]string{"X-API-Key": "test-api-key"})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAcknowledgeIncident_Unauthorized(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)

	mockService.EXPECT().Acknowledge(gomock.Any(), gomock.Any()).Times(0)

	w := makeRequest(router, "POST", "/api/v1/incidents/"+uuid.NewString()+"/acknowledge", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAcknowledgeIncident_InvalidTransition(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()

	mockService.EXPECT().
		Acknowledge(gomock.Any(), incidentID).
		Return(fmt.Errorf("service: %w", apperrors.ErrInvalidTransition)).
		Times(1)

	w := makeRequest(router, "POST", "/api/v1/incidents/"+incidentID.String()+"/acknowledge", nil, map[string]string{"X-API-Key": "test-api-key"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveIncident_Success(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()
	reqBody := ResolveIncidentRequest{AfterImageRef: "blob://images/after"}

	mockService.EXPECT().
		Resolve(gomock.Any(), incidentID, "blob://images/after").
		Return(17, nil).
		Times(1)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/incidents/"+incidentID.String()+"/resolve", bytes.NewBuffer(bodyBytes), map[string]string{"X-API-Key": "test-api-key"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ResolveIncidentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, incidentID, resp.IncidentID)
	assert.Equal(t, 17, resp.NotifiedCitizens)
}

func TestResolveIncident_MissingProof(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()

	mockService.EXPECT().
		Resolve(gomock.Any(), incidentID, "").
		Return(0, fmt.Errorf("service: %w", apperrors.ErrMissingProof)).
		Times(1)

	bodyBytes, _ := json.Marshal(ResolveIncidentRequest{})
	w := makeRequest(router, "POST", "/api/v1/incidents/"+incidentID.String()+"/resolve", bytes.NewBuffer(bodyBytes), map[string]string{"X-API-Key": "test-api-key"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestResolveIncident_AlreadyResolved(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)
	incidentID := uuid.New()

	mockService.EXPECT().
		Resolve(gomock.Any(), incidentID, "blob://images/after").
		Return(0, fmt.Errorf("service: %w", apperrors.ErrAlreadyResolved)).
		Times(1)

	bodyBytes, _ := json.Marshal(ResolveIncidentRequest{AfterImageRef: "blob://images/after"})
	w := makeRequest(router, "POST", "/api/v1/incidents/"+incidentID.String()+"/resolve", bytes.NewBuffer(bodyBytes), map[string]string{"X-API-Key": "test-api-key"})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveIncident_InlineAfterImage(t *testing.T) {
	mockService, _, blobStore, router := newTestHandler(t)
	incidentID := uuid.New()
	reqBody := ResolveIncidentRequest{
		AfterImage: base64.StdEncoding.EncodeToString([]byte("after-jpeg")),
	}

	mockService.EXPECT().
		Resolve(gomock.Any(), incidentID, "blob://images/test").
		Return(1, nil).
		Times(1)

	bodyBytes, _ := json.Marshal(reqBody)
	w := makeRequest(router, "POST", "/api/v1/incidents/"+incidentID.String()+"/resolve", bytes.NewBuffer(bodyBytes), map[string]string{"X-API-Key": "test-api-key"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, blobStore.stored, 1)
	assert.Equal(t, []byte("after-jpeg"), blobStore.stored[0])
}

func TestGetStats_Success(t *testing.T) {
	mockService, _, _, router := newTestHandler(t)

	mockService.EXPECT().
		GetStats(gomock.Any()).
		Return(&models.IncidentStats{TotalActive: 12, ResolvedToday: 3, CitizensHelped: 150}, nil).
		Times(1)

	w := makeRequest(router, "GET", "/api/v1/incidents/stats", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.TotalActive)
	assert.Equal(t, 3, resp.ResolvedToday)
	assert.Equal(t, 150, resp.CitizensHelped)
}

func TestHealthCheck(t *testing.T) {
	_, _, _, router := newTestHandler(t)

	w := makeRequest(router, "GET", "/api/v1/system/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
