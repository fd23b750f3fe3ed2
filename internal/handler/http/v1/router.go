package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	// Подача заявок гражданами
	api.POST("/reports", h.submitReport)

	// Чтение инцидентов
	incidents := api.Group("/incidents")
	{
		incidents.GET("", h.listIncidents)
		incidents.GET("/stats", h.getStats)
		incidents.GET("/:id", h.getIncident)
	}

	// Административные переходы жизненного цикла, защищены API-ключом
	admin := api.Group("/incidents")
	admin.Use(APIKeyAuthMiddleware(h.cfg, h.logger))
	{
		admin.POST("/:id/acknowledge", h.acknowledgeIncident)
		admin.POST("/:id/resolve", h.resolveIncident)
	}

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
