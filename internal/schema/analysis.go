// internal/schema/analysis.go
package schema

import (
	"mcp-food-log/internal/models"
)

// Pointer fields distinguish a missing value from a zero one.
type portionDoc struct {
	Count *float64 `json:"count" validate:"required,gt=0"`
	Unit  *string  `json:"unit" validate:"required,oneof=g oz"`
}

type foodDoc struct {
	Name             *string     `json:"name" validate:"required"`
	EstimatedPortion *portionDoc `json:"estimatedPortion" validate:"required"`
	SizeDescription  *string     `json:"sizeDescription" validate:"required"`
	TypicalServing   *string     `json:"typicalServing" validate:"required"`
	Calories         *float64    `json:"calories" validate:"required,gte=0"`
	Protein          *float64    `json:"protein" validate:"required,gte=0"`
}

type analysisDoc struct {
	Foods          []foodDoc `json:"foods" validate:"required,dive"`
	MealSummary    *string   `json:"mealSummary" validate:"required,max=150"`
	MealCategories []string  `json:"mealCategories" validate:"omitempty,dive,foodcategory"`
}

// ParseMealAnalysis validates raw model output and returns the normalized
// analysis. Any failure is a *SchemaError naming every offending field.
func ParseMealAnalysis(raw []byte) (*models.MealAnalysis, error) {
	var doc analysisDoc
	fieldErrs, ok := decode(raw, &doc)
	if ok {
		fieldErrs = merge(fieldErrs, check(&doc))
	}
	if len(fieldErrs) > 0 {
		return nil, &SchemaError{Errors: fieldErrs}
	}

	out := &models.MealAnalysis{
		Foods:          make([]models.FoodItem, 0, len(doc.Foods)),
		MealSummary:    *doc.MealSummary,
		MealCategories: make([]models.FoodCategory, 0, len(doc.MealCategories)),
	}
	for _, f := range doc.Foods {
		out.Foods = append(out.Foods, models.FoodItem{
			Name: *f.Name,
			EstimatedPortion: models.EstimatedPortion{
				Count: *f.EstimatedPortion.Count,
				Unit:  models.PortionUnit(*f.EstimatedPortion.Unit),
			},
			SizeDescription: *f.SizeDescription,
			TypicalServing:  *f.TypicalServing,
			Calories:        *f.Calories,
			Protein:         *f.Protein,
		})
	}
	for _, c := range doc.MealCategories {
		out.MealCategories = append(out.MealCategories, models.FoodCategory(c))
	}
	return out, nil
}

// ValidateFoodItems checks already-typed items, such as an edited food list,
// against the same rules applied to model output.
func ValidateFoodItems(items []models.FoodItem) error {
	docs := make([]foodDoc, 0, len(items))
	for i := range items {
		it := &items[i]
		unit := string(it.EstimatedPortion.Unit)
		docs = append(docs, foodDoc{
			Name:             &it.Name,
			EstimatedPortion: &portionDoc{Count: &it.EstimatedPortion.Count, Unit: &unit},
			SizeDescription:  &it.SizeDescription,
			TypicalServing:   &it.TypicalServing,
			Calories:         &it.Calories,
			Protein:          &it.Protein,
		})
	}
	summary := ""
	if errs := check(&analysisDoc{Foods: docs, MealSummary: &summary}); len(errs) > 0 {
		return &SchemaError{Errors: errs}
	}
	return nil
}
