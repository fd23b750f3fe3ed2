package models

// Category - категория опасности, фиксируется при создании инцидента
type Category string

const (
	CategoryPothole          Category = "Pothole"
	CategoryGarbage          Category = "Garbage"
	CategoryElectricalHazard Category = "ElectricalHazard"
	CategoryWaterLeak        Category = "WaterLeak"
	CategoryStreetLight      Category = "StreetLight"
	CategorySewage           Category = "Sewage"
	CategoryFallenTree       Category = "FallenTree"
	CategoryOther            Category = "Other"
)

// AllCategories - список всех допустимых категорий
var AllCategories = []Category{
	CategoryPothole,
	CategoryGarbage,
	CategoryElectricalHazard,
	CategoryWaterLeak,
	CategoryStreetLight,
	CategorySewage,
	CategoryFallenTree,
	CategoryOther,
}

// IsValid проверяет, что категория входит в перечень допустимых
func (c Category) IsValid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}
