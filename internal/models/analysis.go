// internal/models/analysis.go
package models

import (
	"time"
)

type PortionUnit string

const (
	UnitGrams  PortionUnit = "g"
	UnitOunces PortionUnit = "oz"
)

// GramsPerOunce is the factor used whenever a portion is converted between units.
const GramsPerOunce = 28.3495

type EstimatedPortion struct {
	Count float64     `json:"count"`
	Unit  PortionUnit `json:"unit"`
}

type FoodItem struct {
	Name             string           `json:"name"`
	EstimatedPortion EstimatedPortion `json:"estimatedPortion"`
	SizeDescription  string           `json:"sizeDescription"`
	TypicalServing   string           `json:"typicalServing"`
	Calories         float64          `json:"calories"`
	Protein          float64          `json:"protein"`
}

// MealAnalysis is one model invocation's output after validation.
type MealAnalysis struct {
	Foods          []FoodItem     `json:"foods"`
	MealSummary    string         `json:"mealSummary"`
	MealCategories []FoodCategory `json:"mealCategories"`
}

// MaxMealSummaryLength bounds MealAnalysis.MealSummary, counted in characters.
const MaxMealSummaryLength = 150

type FoodCategory string

const (
	CategoryPoultry   FoodCategory = "poultry"
	CategoryFish      FoodCategory = "fish"
	CategoryRedMeat   FoodCategory = "red_meat"
	CategoryVegetable FoodCategory = "vegetable"
	CategoryFruit     FoodCategory = "fruit"
	CategoryGrain     FoodCategory = "grain"
	CategoryDairy     FoodCategory = "dairy"
	CategoryEgg       FoodCategory = "egg"
	CategoryLegume    FoodCategory = "legume"
	CategoryNutsSeeds FoodCategory = "nuts_seeds"
	CategoryOilsFats  FoodCategory = "oils_fats"
	CategorySweets    FoodCategory = "sweets"
	CategoryBeverages FoodCategory = "beverages"
	CategoryOther     FoodCategory = "other"
)

var categories = []FoodCategory{
	CategoryPoultry, CategoryFish, CategoryRedMeat, CategoryVegetable,
	CategoryFruit, CategoryGrain, CategoryDairy, CategoryEgg,
	CategoryLegume, CategoryNutsSeeds, CategoryOilsFats, CategorySweets,
	CategoryBeverages, CategoryOther,
}

// Categories returns the full category enumeration in display order.
func Categories() []FoodCategory {
	out := make([]FoodCategory, len(categories))
	copy(out, categories)
	return out
}

func (c FoodCategory) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusComplete JobStatus = "complete"
	StatusError    JobStatus = "error"
)

func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// MediaRef points at the uploaded source media of an analysis job.
type MediaRef struct {
	JobID     string    `json:"jobId,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type AnalysisJob struct {
	ID           string        `json:"id"`
	Status       JobStatus     `json:"status"`
	Result       *MealAnalysis `json:"result,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Media        *MediaRef     `json:"mediaRef,omitempty"`
}

// SweepStats records one retention sweep run.
type SweepStats struct {
	Scanned   int       `json:"scanned"`
	Deleted   int       `json:"deleted"`
	Errors    []string  `json:"errors"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	DryRun    bool      `json:"dryRun"`
}
