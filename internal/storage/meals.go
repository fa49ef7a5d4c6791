// internal/storage/meals.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mcp-food-log/internal/models"
	"mcp-food-log/internal/schema"
)

// CreatedMeal is the hydrated result of a committed meal transaction.
type CreatedMeal struct {
	Meal           models.Meal           `json:"meal"`
	FoodLogs       []models.FoodLog      `json:"foodLogs"`
	MealCategories []models.MealCategory `json:"mealCategories"`
}

type MealStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMealStore(db *gorm.DB, logger *zap.Logger) *MealStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MealStore{db: db, logger: logger}
}

// CreateMeal decodes a client body for ownerID and commits it.
func (s *MealStore) CreateMeal(ctx context.Context, ownerID uint, raw []byte) (*CreatedMeal, error) {
	payload, err := schema.ParseCreateMeal(raw, ownerID)
	if err != nil {
		s.logger.Info("meal payload rejected", zap.String("stage", "validation"), zap.Uint("user_id", ownerID), zap.Error(err))
		return nil, &PersistError{Kind: KindInvalid, Err: err}
	}
	return s.CreateMealPayload(ctx, payload)
}

// CreateMealPayload writes the meal, then every food log, then every
// category in one transaction. Any failed insert rolls back all of them.
// Values are stored as given; proportional scaling is the editor's job.
func (s *MealStore) CreateMealPayload(ctx context.Context, p *schema.CreateMealPayload) (*CreatedMeal, error) {
	if err := schema.ValidateCreateMeal(p); err != nil {
		return nil, &PersistError{Kind: KindInvalid, Err: err}
	}
	createdAt, err := p.CreatedAt()
	if err != nil {
		return nil, &PersistError{Kind: KindInvalid, Err: err}
	}
	createdAt = createdAt.UTC()

	out := &CreatedMeal{
		Meal: models.Meal{
			UserID:      p.OwnerID,
			CreatedAt:   createdAt,
			Name:        p.Name,
			MealSummary: p.MealSummary,
			TimeZone:    p.TimeZone,
		},
		FoodLogs:       make([]models.FoodLog, 0, len(p.FoodLogs)),
		MealCategories: make([]models.MealCategory, 0, len(p.MealCategories)),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&out.Meal).Error; err != nil {
			return fmt.Errorf("failed to insert meal: %w", err)
		}

		for _, in := range p.FoodLogs {
			log := models.FoodLog{
				MealID:      out.Meal.ID,
				Name:        in.Name,
				Calories:    *in.Calories,
				Protein:     *in.Protein,
				PortionSize: *in.PortionSize,
				PortionUnit: models.PortionUnit(in.PortionUnit),
				CreatedAt:   createdAt,
			}
			if err := tx.Create(&log).Error; err != nil {
				return fmt.Errorf("failed to insert food log %q: %w", in.Name, err)
			}
			out.FoodLogs = append(out.FoodLogs, log)
		}

		for _, c := range p.MealCategories {
			cat := models.MealCategory{MealID: out.Meal.ID, Category: c, CreatedAt: createdAt}
			if err := tx.Create(&cat).Error; err != nil {
				return fmt.Errorf("failed to insert meal category %q: %w", c, err)
			}
			out.MealCategories = append(out.MealCategories, cat)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("meal transaction rolled back",
			zap.String("stage", "persist"),
			zap.Uint("user_id", p.OwnerID),
			zap.Int("food_logs", len(p.FoodLogs)),
			zap.Error(err),
		)
		return nil, &PersistError{Kind: KindStorage, Err: err}
	}

	out.Meal.FoodLogs = out.FoodLogs
	out.Meal.MealCategories = out.MealCategories
	s.logger.Info("meal saved",
		zap.Uint("meal_id", out.Meal.ID),
		zap.Uint("user_id", p.OwnerID),
		zap.Int("food_logs", len(out.FoodLogs)),
	)
	return out, nil
}

// MealQuery filters ListMeals. Zero From/To leave that side open.
type MealQuery struct {
	Limit int
	From  time.Time
	To    time.Time
}

const (
	DefaultMealLimit = 10
	MaxMealLimit     = 100
)

// ListMeals returns a user's meals newest first with their food logs and
// categories.
func (s *MealStore) ListMeals(ctx context.Context, userID uint, q MealQuery) ([]models.Meal, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMealLimit
	}
	if limit > MaxMealLimit {
		limit = MaxMealLimit
	}

	tx := s.db.WithContext(ctx).
		Preload("FoodLogs", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("MealCategories", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("user_id = ?", userID)
	if !q.From.IsZero() {
		tx = tx.Where("created_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		tx = tx.Where("created_at < ?", q.To.UTC())
	}

	var meals []models.Meal
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&meals).Error; err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	return meals, nil
}

// DailySummary totals the food logs of meals eaten on now's calendar day in
// the zone tz, against the user's calorie goal.
func (s *MealStore) DailySummary(ctx context.Context, userID uint, tz string, now time.Time) (*models.DailySummary, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, tz)
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	var meals []models.Meal
	err = s.db.WithContext(ctx).
		Preload("FoodLogs").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start.UTC(), end.UTC()).
		Find(&meals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}

	goal := user.DailyCalorieGoal
	if goal <= 0 {
		goal = models.DefaultDailyCalorieGoal
	}
	sum := &models.DailySummary{
		Date:        start.Format(time.DateOnly),
		TimeZone:    loc.String(),
		CalorieGoal: goal,
		MealCount:   len(meals),
	}
	for _, m := range meals {
		for _, fl := range m.FoodLogs {
			sum.Calories += fl.Calories
			sum.Protein += fl.Protein
			sum.FoodLogCount++
		}
	}
	sum.Protein = math.Round(sum.Protein*10) / 10
	sum.Remaining = goal - sum.Calories
	return sum, nil
}
