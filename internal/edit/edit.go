// Package edit applies user edits to an analysed food list. Every edit
// returns a new list; inputs are never modified in place.
package edit

import (
	"errors"
	"fmt"
	"math"

	"mcp-food-log/internal/models"
)

var (
	ErrIndex         = errors.New("food index out of range")
	ErrNegativeValue = errors.New("value must not be negative")
	ErrUnknownField  = errors.New("unknown field")
	ErrUnknownUnit   = errors.New("unit must be g or oz")
)

type Field string

const (
	FieldPortion  Field = "portion"
	FieldCalories Field = "calories"
	FieldProtein  Field = "protein"
)

type Edit struct {
	Field Field   `json:"field"`
	Value float64 `json:"value"`
}

// Baseline is the reference point proportional edits scale from.
type Baseline struct {
	Portion  float64 `json:"portion"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
}

func baselineOf(f models.FoodItem) Baseline {
	return Baseline{Portion: f.EstimatedPortion.Count, Calories: f.Calories, Protein: f.Protein}
}

// Session tracks the edit mode and per-item baselines for one review of a
// food list. A new session starts locked (proportional).
type Session struct {
	proportional bool
	baselines    []Baseline
}

func NewSession(foods []models.FoodItem) *Session {
	s := &Session{}
	s.Lock(foods)
	return s
}

// Lock engages proportional mode and captures fresh baselines from foods.
func (s *Session) Lock(foods []models.FoodItem) {
	s.proportional = true
	s.baselines = make([]Baseline, len(foods))
	for i, f := range foods {
		s.baselines[i] = baselineOf(f)
	}
}

// Unlock switches to independent mode; each field is edited in isolation.
func (s *Session) Unlock() {
	s.proportional = false
}

func (s *Session) Proportional() bool { return s.proportional }

func (s *Session) Baseline(index int) (Baseline, bool) {
	if index < 0 || index >= len(s.baselines) {
		return Baseline{}, false
	}
	return s.baselines[index], true
}

// Apply sets one numeric field of foods[index]. In proportional mode the
// other two fields are rescaled by value/baseline; a zero baseline scales
// by 1, leaving them at their baseline values.
func (s *Session) Apply(foods []models.FoodItem, index int, e Edit) ([]models.FoodItem, error) {
	if index < 0 || index >= len(foods) {
		return nil, fmt.Errorf("%w: %d", ErrIndex, index)
	}
	if e.Value < 0 || math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		return nil, fmt.Errorf("%w: %s=%v", ErrNegativeValue, e.Field, e.Value)
	}

	item := foods[index]
	if !s.proportional {
		switch e.Field {
		case FieldPortion:
			item.EstimatedPortion.Count = e.Value
		case FieldCalories:
			item.Calories = e.Value
		case FieldProtein:
			item.Protein = e.Value
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, e.Field)
		}
		return replace(foods, index, item), nil
	}

	base := s.baselineFor(foods, index)
	var ratio float64
	switch e.Field {
	case FieldPortion:
		ratio = scale(e.Value, base.Portion)
		item.EstimatedPortion.Count = e.Value
		item.Calories = math.Round(base.Calories * ratio)
		item.Protein = roundTenth(base.Protein * ratio)
	case FieldCalories:
		ratio = scale(e.Value, base.Calories)
		item.Calories = e.Value
		item.EstimatedPortion.Count = roundTenth(base.Portion * ratio)
		item.Protein = roundTenth(base.Protein * ratio)
	case FieldProtein:
		ratio = scale(e.Value, base.Protein)
		item.Protein = e.Value
		item.EstimatedPortion.Count = roundTenth(base.Portion * ratio)
		item.Calories = math.Round(base.Calories * ratio)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, e.Field)
	}
	return replace(foods, index, item), nil
}

// ConvertUnit re-expresses the portion of foods[index] in unit. The
// baseline portion is converted too so later ratios stay unit-consistent.
func (s *Session) ConvertUnit(foods []models.FoodItem, index int, unit models.PortionUnit) ([]models.FoodItem, error) {
	if index < 0 || index >= len(foods) {
		return nil, fmt.Errorf("%w: %d", ErrIndex, index)
	}
	if unit != models.UnitGrams && unit != models.UnitOunces {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}
	item := foods[index]
	from := item.EstimatedPortion.Unit
	item.EstimatedPortion = models.EstimatedPortion{
		Count: roundTenth(convert(item.EstimatedPortion.Count, from, unit)),
		Unit:  unit,
	}
	if index < len(s.baselines) {
		s.baselines[index].Portion = convert(s.baselines[index].Portion, from, unit)
	}
	return replace(foods, index, item), nil
}

// Remove drops foods[index] and its baseline.
func (s *Session) Remove(foods []models.FoodItem, index int) ([]models.FoodItem, error) {
	if index < 0 || index >= len(foods) {
		return nil, fmt.Errorf("%w: %d", ErrIndex, index)
	}
	out := make([]models.FoodItem, 0, len(foods)-1)
	out = append(out, foods[:index]...)
	out = append(out, foods[index+1:]...)
	if index < len(s.baselines) {
		s.baselines = append(s.baselines[:index:index], s.baselines[index+1:]...)
	}
	return out, nil
}

func (s *Session) baselineFor(foods []models.FoodItem, index int) Baseline {
	if index < len(s.baselines) {
		return s.baselines[index]
	}
	return baselineOf(foods[index])
}

func convert(count float64, from, to models.PortionUnit) float64 {
	switch {
	case from == models.UnitGrams && to == models.UnitOunces:
		return count / models.GramsPerOunce
	case from == models.UnitOunces && to == models.UnitGrams:
		return count * models.GramsPerOunce
	default:
		return count
	}
}

func scale(value, base float64) float64 {
	if base == 0 {
		return 1
	}
	return value / base
}

func replace(foods []models.FoodItem, index int, item models.FoodItem) []models.FoodItem {
	out := make([]models.FoodItem, len(foods))
	copy(out, foods)
	out[index] = item
	return out
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
