package v1

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/civicpulse/hazard_reporting_engine/internal/apperrors"
	"github.com/civicpulse/hazard_reporting_engine/internal/collaborators"
	"github.com/civicpulse/hazard_reporting_engine/internal/config"
	"github.com/civicpulse/hazard_reporting_engine/internal/models"
	"github.com/civicpulse/hazard_reporting_engine/internal/normalizer"
	"github.com/civicpulse/hazard_reporting_engine/internal/service"
)

// classifierScoreThreshold - минимальная уверенность классификатора,
// ниже которой категория считается неопределенной
const classifierScoreThreshold = 0.5

type Handler struct {
	incidentService service.IncidentService
	classifier      collaborators.Classifier
	blobStore       collaborators.BlobStore
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
}

func NewHandler(incidentService service.IncidentService, classifier collaborators.Classifier, blobStore collaborators.BlobStore, logger *logrus.Logger, cfg *config.Config) *Handler {
	return &Handler{
		incidentService: incidentService,
		classifier:      classifier,
		blobStore:       blobStore,
		logger:          logger,
		validate:        validator.New(),
		cfg:             cfg,
	}
}

// @Summary Submit a hazard report
// @Description Submit a citizen hazard report. The report is clustered into a new or existing incident.
// @Tags Reports
// @Accept json
// @Produce json
// @Param report body SubmitReportRequest true "Report submission request"
// @Success 201 {object} SubmitReportResponse
// @Failure 400 {object} map[string]string "Invalid report"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /reports [post]
func (h *Handler) submitReport(c *gin.Context) {
	var input SubmitReportRequest
	log := h.logger.WithField("method", "submitReport")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	imageRef := input.BeforeImageRef
	if imageRef == "" && input.BeforeImage != "" {
		data, err := base64.StdEncoding.DecodeString(input.BeforeImage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before_image is not valid base64"})
			return
		}
		uri, err := h.blobStore.Store(c.Request.Context(), data, "image/jpeg")
		if err != nil {
			log.WithError(err).Error("Failed to store before image")
			c.JSON(http.StatusBadGateway, gin.H{"error": "image storage unavailable"})
			return
		}
		imageRef = uri
	}

	// Классификация выполняется до нормализации и вне критической секции кластеризации
	category := input.Category
	if category == "" {
		classification, err := h.classifier.Classify(c.Request.Context(), input.Description, imageRef)
		if err != nil {
			log.WithError(err).Warn("Classifier unavailable, falling back to Other")
			category = string(models.CategoryOther)
		} else if classification.HazardScore < classifierScoreThreshold {
			category = string(models.CategoryOther)
		} else {
			category = string(classification.Category)
		}
	}

	report, incident, err := h.incidentService.SubmitReport(c.Request.Context(), normalizer.RawReport{
		ReporterID:     input.ReporterID,
		Category:       category,
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		Description:    input.Description,
		BeforeImageRef: imageRef,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidReport) {
			log.WithError(err).Warn("Report rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.WithError(err).Error("Failed to submit report in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, SubmitReportResponse{
		ReportID:          report.ID,
		IncidentID:        incident.ID,
		ConfirmationCount: incident.ConfirmationCount,
		Severity:          string(incident.Severity),
	})
}

// @Summary Get incident by ID
// @Description Get a single incident by its ID.
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrIncidentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		log.WithError(err).Error("Failed to get incident from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary List incidents
// @Description List incidents filtered by status and severity, most recently updated first.
// @Tags Incidents
// @Accept json
// @Produce json
// @Param status query string false "Status filter" Enums(OPEN, IN_PROGRESS, RESOLVED)
// @Param severity query string false "Severity filter" Enums(CRITICAL, HIGH, LOW)
// @Success 200 {array} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid filter"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")

	status := models.Status(c.Query("status"))
	if status != "" && status != models.StatusOpen && status != models.StatusInProgress && status != models.StatusResolved {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}
	sev := models.Severity(c.Query("severity"))
	if sev != "" && sev != models.SeverityCritical && sev != models.SeverityHigh && sev != models.SeverityLow {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity filter"})
		return
	}

	incidents, err := h.incidentService.ListIncidents(c.Request.Context(), status, sev)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Acknowledge an incident
// @Description Transition an incident from OPEN to IN_PROGRESS. Requires API key.
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 "OK"
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Invalid lifecycle transition"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id}/acknowledge [post]
func (h *Handler) acknowledgeIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "acknowledgeIncident").WithField("id", id)

	if err := h.incidentService.Acknowledge(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrIncidentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		case errors.Is(err, apperrors.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "incident is not in OPEN status"})
		default:
			log.WithError(err).Error("Failed to acknowledge incident in service")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}
	c.Status(http.StatusOK)
}

// @Summary Resolve an incident
// @Description Resolve an incident with proof of fix and notify every confirming citizen. Requires API key.
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Param resolution body ResolveIncidentRequest true "Resolution request with after-image proof"
// @Success 200 {object} ResolveIncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Incident already resolved"
// @Failure 422 {object} map[string]string "Missing proof of fix"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id}/resolve [post]
func (h *Handler) resolveIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "resolveIncident").WithField("id", id)

	var input ResolveIncidentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	afterImageRef := input.AfterImageRef
	if afterImageRef == "" && input.AfterImage != "" {
		data, err := base64.StdEncoding.DecodeString(input.AfterImage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after_image is not valid base64"})
			return
		}
		uri, err := h.blobStore.Store(c.Request.Context(), data, "image/jpeg")
		if err != nil {
			log.WithError(err).Error("Failed to store after image")
			c.JSON(http.StatusBadGateway, gin.H{"error": "image storage unavailable"})
			return
		}
		afterImageRef = uri
	}

	notified, err := h.incidentService.Resolve(c.Request.Context(), id, afterImageRef)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrIncidentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		case errors.Is(err, apperrors.ErrMissingProof):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "after-image proof is required"})
		case errors.Is(err, apperrors.ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "incident already resolved"})
		default:
			log.WithError(err).Error("Failed to resolve incident in service")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, ResolveIncidentResponse{
		IncidentID:       id,
		NotifiedCitizens: notified,
	})
}

// @Summary Get impact statistics
// @Description Get the impact dashboard summary: active incidents, resolved today and citizens helped.
// @Tags Incidents
// @Accept json
// @Produce json
// @Success 200 {object} StatsResponse
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	log := h.logger.WithField("method", "getStats")

	stats, err := h.incidentService.GetStats(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("Failed to get stats from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, StatsResponse{
		TotalActive:    stats.TotalActive,
		ResolvedToday:  stats.ResolvedToday,
		CitizensHelped: stats.CitizensHelped,
	})
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
