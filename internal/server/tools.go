// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mcp-food-log/internal/analysis"
	"mcp-food-log/internal/auth"
	"mcp-food-log/internal/edit"
	"mcp-food-log/internal/models"
	"mcp-food-log/internal/schema"
	"mcp-food-log/internal/storage"
)

var serverInfo = protocol.Implementation{
	Name:    "food-log",
	Version: "1.0.0",
}

type AnalyzeMealDescriptionParams struct {
	Description string `json:"description" description:"Description of the meal eaten"`
}

type LogMealParams struct {
	Name           string                `json:"name" description:"Name of the meal"`
	TimeZone       string                `json:"time_zone" description:"IANA time zone the meal was eaten in"`
	Timestamp      string                `json:"timestamp,omitempty" description:"ISO timestamp of when meal was eaten (defaults to now)"`
	MealSummary    *string               `json:"meal_summary,omitempty" description:"Short summary, at most 150 characters"`
	MealCategories []models.FoodCategory `json:"meal_categories,omitempty" description:"Category tags"`
	Foods          []models.FoodItem     `json:"foods" description:"Reviewed food items"`
}

type GetMealsParams struct {
	StartDate string `json:"start_date,omitempty" description:"Start date for meal query (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"End date for meal query (YYYY-MM-DD)"`
	TimeZone  string `json:"time_zone,omitempty" description:"Zone the dates are in (defaults to UTC)"`
	Limit     int    `json:"limit,omitempty" description:"Maximum number of meals to return"`
}

type AdjustFoodParams struct {
	Foods []models.FoodItem `json:"foods" description:"Current food list"`
	// Baseline is the list as it was when proportional mode was engaged;
	// defaults to Foods.
	Baseline     []models.FoodItem  `json:"baseline,omitempty"`
	Index        int                `json:"index" description:"Position of the food to change"`
	Field        edit.Field         `json:"field,omitempty" description:"portion, calories or protein"`
	Value        float64            `json:"value,omitempty"`
	Unit         models.PortionUnit `json:"unit,omitempty" description:"Convert the portion to g or oz"`
	Remove       bool               `json:"remove,omitempty"`
	Proportional *bool              `json:"proportional,omitempty" description:"Scale the other values with the edited one (default true)"`
}

type toolHandler func(ctx context.Context, userID uint, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var toolDescriptions = []toolInfo{
	{"analyze_meal_description", "Estimate foods, portions, calories and protein from a meal description"},
	{"log_meal", "Save a reviewed food list as a meal"},
	{"get_meals", "List logged meals, newest first"},
	{"adjust_food", "Edit one food's portion, calories or protein, optionally scaling the others"},
}

func (s *FoodLogServer) tools() map[string]toolHandler {
	return map[string]toolHandler{
		"analyze_meal_description": s.handleAnalyzeDescription,
		"log_meal":                 s.handleLogMeal,
		"get_meals":                s.handleGetMeals,
		"adjust_food":              s.handleAdjustFood,
	}
}

func (s *FoodLogServer) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"server": serverInfo, "tools": toolDescriptions})
}

// errInvalidParams marks tool failures caused by the caller's arguments.
var errInvalidParams = errors.New("invalid parameters")

func (s *FoodLogServer) handleCallTool(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid JSON: %v", err)})
		return
	}

	handler, ok := s.tools()[request.Name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Unknown tool: %s", request.Name)})
		return
	}

	result, err := handler(c.Request.Context(), userID, &request)
	if err != nil {
		s.logger.Info("tool call failed", zap.String("tool", request.Name), zap.Error(err))
		result = errorResult(err)
	}
	c.JSON(http.StatusOK, result)
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

func (s *FoodLogServer) handleAnalyzeDescription(ctx context.Context, _ uint, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalyzeMealDescriptionParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Description) == "" {
		return nil, fmt.Errorf("%w: meal description is required", errInvalidParams)
	}

	result, err := s.analysis.RunText(ctx, params.Description)
	if err != nil {
		return nil, errors.New(analysis.PublicMessage(err))
	}
	return createJSONResponse(result)
}

func (s *FoodLogServer) handleLogMeal(ctx context.Context, userID uint, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := schema.ValidateFoodItems(params.Foods); err != nil {
		return nil, err
	}

	timestamp := params.Timestamp
	if timestamp == "" {
		timestamp = s.now().UTC().Format(time.RFC3339)
	}
	tz := params.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	payload := &schema.CreateMealPayload{
		OwnerID:         userID,
		Name:            strings.TrimSpace(params.Name),
		TimeZone:        tz,
		ClientTimestamp: timestamp,
		MealSummary:     params.MealSummary,
		MealCategories:  params.MealCategories,
	}
	for _, f := range params.Foods {
		payload.FoodLogs = append(payload.FoodLogs, schema.FoodLogFromItem(f))
	}

	created, err := s.meals.CreateMealPayload(ctx, payload)
	if err != nil {
		var pe *storage.PersistError
		if errors.As(err, &pe) && pe.Kind == storage.KindInvalid {
			return nil, pe.Err
		}
		return nil, errors.New("failed to save meal")
	}
	return createJSONResponse(created)
}

func (s *FoodLogServer) handleGetMeals(ctx context.Context, userID uint, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetMealsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}
	tz := params.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	q, err := mealQuery("", params.StartDate, params.EndDate, tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	q.Limit = params.Limit

	meals, err := s.meals.ListMeals(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve meals: %w", err)
	}
	return createJSONResponse(meals)
}

// handleAdjustFood applies one edit to a food list and returns the new
// list. The session baseline is the list given in baseline, or foods.
func (s *FoodLogServer) handleAdjustFood(_ context.Context, _ uint, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AdjustFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	baseline := params.Baseline
	if len(baseline) != len(params.Foods) {
		baseline = params.Foods
	}
	session := edit.NewSession(baseline)
	if params.Proportional != nil && !*params.Proportional {
		session.Unlock()
	}

	var (
		foods []models.FoodItem
		err   error
	)
	switch {
	case params.Remove:
		foods, err = session.Remove(params.Foods, params.Index)
	case params.Unit != "":
		foods, err = session.ConvertUnit(params.Foods, params.Index, params.Unit)
	default:
		foods, err = session.Apply(params.Foods, params.Index, edit.Edit{Field: params.Field, Value: params.Value})
	}
	if err != nil {
		return nil, err
	}
	return createJSONResponse(map[string]interface{}{
		"foods":        foods,
		"proportional": session.Proportional(),
	})
}

func createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

func errorResult(err error) *protocol.CallToolResult {
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: err.Error(),
			},
		},
		IsError: true,
	}
}
