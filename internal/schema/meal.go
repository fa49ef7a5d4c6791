// internal/schema/meal.go
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"mcp-food-log/internal/models"
)

// FoodLogInput is one confirmed line item of a meal-creation payload.
type FoodLogInput struct {
	Name        string   `json:"name" validate:"required"`
	Calories    *int     `json:"calories" validate:"required,gte=0"`
	Protein     *float64 `json:"protein" validate:"required,gte=0"`
	PortionSize *float64 `json:"portionSize" validate:"required,gt=0"`
	PortionUnit string   `json:"portionUnit" validate:"required,oneof=g oz"`
}

// CreateMealPayload is the client document submitted to create a meal.
// OwnerID is never read from the body; ClaimedUserID keeps whatever the
// client sent so callers can report a mismatch.
type CreateMealPayload struct {
	OwnerID         uint                  `json:"-" validate:"required"`
	ClaimedUserID   *uint                 `json:"userId,omitempty" validate:"-"`
	Name            string                `json:"name" validate:"required"`
	TimeZone        string                `json:"timeZone" validate:"required,timezone"`
	ClientTimestamp string                `json:"clientTimestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	MealSummary     *string               `json:"mealSummary,omitempty" validate:"omitempty,max=150"`
	MealCategories  []models.FoodCategory `json:"mealCategories,omitempty" validate:"omitempty,dive,foodcategory"`
	FoodLogs        []FoodLogInput        `json:"foodLogs,omitempty" validate:"omitempty,dive"`
}

// CreatedAt parses ClientTimestamp. Call only after validation.
func (p *CreateMealPayload) CreatedAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, p.ClientTimestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse client timestamp: %w", err)
	}
	return t, nil
}

// ParseCreateMeal decodes and validates a meal-creation body for ownerID,
// the identity resolved from the caller's session.
func ParseCreateMeal(raw []byte, ownerID uint) (*CreateMealPayload, error) {
	var p CreateMealPayload
	fieldErrs, ok := decode(raw, &p)
	if !ok {
		return nil, &SchemaError{Errors: fieldErrs}
	}
	p.OwnerID = ownerID
	p.Name = strings.TrimSpace(p.Name)
	fieldErrs = merge(fieldErrs, check(&p))
	if len(fieldErrs) > 0 {
		return nil, &SchemaError{Errors: fieldErrs}
	}
	return &p, nil
}

// ValidateCreateMeal re-checks a payload built in code rather than decoded.
func ValidateCreateMeal(p *CreateMealPayload) error {
	if errs := check(p); len(errs) > 0 {
		return &SchemaError{Errors: errs}
	}
	return nil
}

// FoodLogFromItem converts an edited analysis item into a line item,
// rounding calories to a whole number and the rest to one decimal.
func FoodLogFromItem(item models.FoodItem) FoodLogInput {
	calories := int(math.Round(item.Calories))
	protein := roundTenth(item.Protein)
	portion := roundTenth(item.EstimatedPortion.Count)
	return FoodLogInput{
		Name:        item.Name,
		Calories:    &calories,
		Protein:     &protein,
		PortionSize: &portion,
		PortionUnit: string(item.EstimatedPortion.Unit),
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
