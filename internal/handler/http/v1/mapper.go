package v1

import "github.com/civicpulse/hazard_reporting_engine/internal/models"

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:                model.ID,
		Category:          string(model.Category),
		CentroidLatitude:  model.CentroidLatitude,
		CentroidLongitude: model.CentroidLongitude,
		ConfirmationCount: model.ConfirmationCount,
		Severity:          string(model.Severity),
		Status:            string(model.Status),
		BeforeImageRef:    model.BeforeImageRef,
		AfterImageRef:     model.AfterImageRef,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
		ResolvedAt:        model.ResolvedAt,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(models []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}
