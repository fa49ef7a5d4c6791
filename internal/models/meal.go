// internal/models/meal.go
package models

import (
	"time"
)

type User struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Username         string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash     string    `gorm:"not null" json:"-"`
	DailyCalorieGoal int       `gorm:"not null;default:2000" json:"dailyCalorieGoal"`
	CreatedAt        time.Time `json:"createdAt"`
}

// DefaultDailyCalorieGoal applies when a user has not set a goal.
const DefaultDailyCalorieGoal = 2000

type Meal struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"userId"`
	User        *User     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt   time.Time `gorm:"not null;index" json:"createdAt"`
	Name        string    `gorm:"not null" json:"name"`
	MealSummary *string   `json:"mealSummary,omitempty"`
	TimeZone    string    `gorm:"not null" json:"timeZone"`

	FoodLogs       []FoodLog      `gorm:"constraint:OnDelete:CASCADE" json:"foodLogs,omitempty"`
	MealCategories []MealCategory `gorm:"constraint:OnDelete:CASCADE" json:"mealCategories,omitempty"`
}

type FoodLog struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	MealID      uint        `gorm:"not null;index" json:"mealId"`
	Name        string      `gorm:"not null" json:"name"`
	Calories    int         `gorm:"not null" json:"calories"`
	Protein     float64     `gorm:"type:decimal(6,1);not null" json:"protein"`
	PortionSize float64     `gorm:"type:decimal(6,1);not null" json:"portionSize"`
	PortionUnit PortionUnit `gorm:"column:portion_unit;not null" json:"portionUnit"`
	CreatedAt   time.Time   `gorm:"not null" json:"createdAt"`
}

type MealCategory struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	MealID    uint         `gorm:"not null;index" json:"mealId"`
	Category  FoodCategory `gorm:"not null" json:"category"`
	CreatedAt time.Time    `gorm:"not null" json:"createdAt"`
}

// DailySummary totals one local calendar day of a user's food logs.
type DailySummary struct {
	Date         string  `json:"date"`
	TimeZone     string  `json:"timeZone"`
	Calories     int     `json:"calories"`
	Protein      float64 `json:"protein"`
	CalorieGoal  int     `json:"calorieGoal"`
	Remaining    int     `json:"remaining"`
	MealCount    int     `json:"mealCount"`
	FoodLogCount int     `json:"foodLogCount"`
}
