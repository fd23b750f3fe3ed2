package models

// IncidentStats - сводка по инцидентам для панели воздействия
type IncidentStats struct {
	TotalActive    int `json:"total_active"`
	ResolvedToday  int `json:"resolved_today"`
	CitizensHelped int `json:"citizens_helped"`
}
