// cmd/food-log/meals.go
package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mcp-food-log/internal/models"
	"mcp-food-log/internal/storage"
)

func newMealsCommand(cc *commandContext) *cobra.Command {
	var username, tz string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "meals",
		Short: "Show a user's recent meals and today's totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := cc.ensure()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer storage.Close(db)

			ctx := cmd.Context()
			user, err := storage.NewUserStore(db).GetByUsername(ctx, username)
			if err != nil {
				return err
			}
			store := storage.NewMealStore(db, nil)
			meals, err := store.ListMeals(ctx, user.ID, storage.MealQuery{Limit: limit})
			if err != nil {
				return err
			}
			summary, err := store.DailySummary(ctx, user.ID, tz, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON || !isTerminal(out) {
				return writeJSON(out, map[string]any{"meals": meals, "today": summary})
			}
			printMeals(out, meals, summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account name")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA time zone for today's totals")
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultMealLimit, "Number of meals to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON even on a terminal")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func printMeals(w io.Writer, meals []models.Meal, summary *models.DailySummary) {
	rows := make([][]string, 0, len(meals))
	for _, m := range meals {
		calories := 0
		var protein float64
		for _, f := range m.FoodLogs {
			calories += f.Calories
			protein += f.Protein
		}
		cats := make([]string, 0, len(m.MealCategories))
		for _, c := range m.MealCategories {
			cats = append(cats, string(c.Category))
		}
		rows = append(rows, []string{
			m.CreatedAt.In(zoneOf(m.TimeZone)).Format("2006-01-02 15:04"),
			m.Name,
			strconv.Itoa(len(m.FoodLogs)),
			strconv.Itoa(calories),
			strconv.FormatFloat(protein, 'f', 1, 64),
			strings.Join(cats, ", "),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"When", "Meal", "Foods", "Calories", "Protein (g)", "Categories"}, rows, 3, 4, 5))
	fmt.Fprintf(w, "Today: %d / %d kcal, %.1f g protein\n", summary.Calories, summary.CalorieGoal, summary.Protein)
}

func zoneOf(name string) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.UTC
}
