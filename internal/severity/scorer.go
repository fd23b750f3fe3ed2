package severity

import "github.com/civicpulse/hazard_reporting_engine/internal/models"

// Пороговые значения подтверждений для повышения уровня срочности
const (
	highThresholdDefault  = 10
	highThresholdStreet   = 5
	criticalConfirmations = 1
)

// criticalCategories - категории, опасные сами по себе: любое подтверждение
// делает инцидент критическим
var criticalCategories = map[models.Category]bool{
	models.CategorySewage:           true,
	models.CategoryElectricalHazard: true,
	models.CategoryWaterLeak:        true,
}

// streetCategories - категории дорожной инфраструктуры с пониженным порогом HIGH
var streetCategories = map[models.Category]bool{
	models.CategoryPothole:    true,
	models.CategoryFallenTree: true,
	models.CategoryGarbage:    true,
}

// Score вычисляет уровень срочности как чистую функцию категории и числа подтверждений
func Score(category models.Category, confirmations int) models.Severity {
	if criticalCategories[category] && confirmations >= criticalConfirmations {
		return models.SeverityCritical
	}
	if confirmations >= highThresholdDefault {
		return models.SeverityHigh
	}
	if streetCategories[category] && confirmations >= highThresholdStreet {
		return models.SeverityHigh
	}
	return models.SeverityLow
}

// rank задает порядок уровней для сравнения
func rank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityHigh:
		return 2
	default:
		return 1
	}
}

// Raise возвращает большее из двух значений срочности. Гарантирует инвариант:
// дополнительные подтверждения той же категории никогда не понижают уровень,
// даже если таблица политики изменится.
func Raise(current, candidate models.Severity) models.Severity {
	if rank(candidate) > rank(current) {
		return candidate
	}
	return current
}

// Rescore пересчитывает уровень инцидента после изменения числа подтверждений
// с учетом монотонности
func Rescore(incident *models.Incident) models.Severity {
	return Raise(incident.Severity, Score(incident.Category, incident.ConfirmationCount))
}
