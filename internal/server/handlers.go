// internal/server/handlers.go
package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mcp-food-log/internal/analysis"
	"mcp-food-log/internal/auth"
	"mcp-food-log/internal/jobs"
	"mcp-food-log/internal/llm"
	"mcp-food-log/internal/models"
	"mcp-food-log/internal/schema"
	"mcp-food-log/internal/storage"
)

const (
	maxMealBodyBytes = 1 << 20
	multipartSlack   = 64 << 10
)

type analysisResponse struct {
	Foods          []models.FoodItem     `json:"foods"`
	MealSummary    string                `json:"mealSummary"`
	MealCategories []models.FoodCategory `json:"mealCategories"`
	Image          string                `json:"image,omitempty"`
}

func newAnalysisResponse(a *models.MealAnalysis, image string) analysisResponse {
	return analysisResponse{
		Foods:          a.Foods,
		MealSummary:    a.MealSummary,
		MealCategories: a.MealCategories,
		Image:          image,
	}
}

// handleAnalyze accepts a multipart form with an image or audio file, or a
// description. With mode=async it returns 202 and an analysis id.
func (s *FoodLogServer) handleAnalyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+multipartSlack)

	async := strings.EqualFold(c.Query("mode"), "async") || strings.EqualFold(c.PostForm("mode"), "async")

	media, err := s.readMedia(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		s.logger.Info("invalid analyze request", zap.String("stage", "decode"), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload"})
		return
	}
	description := strings.TrimSpace(c.PostForm("description"))
	ctx := c.Request.Context()

	if async {
		if media.Empty() && description != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Asynchronous analysis needs an image or audio file"})
			return
		}
		id, err := s.analysis.Submit(ctx, media)
		if err != nil {
			s.writeAnalysisError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"analysisId": id})
		return
	}

	var result *models.MealAnalysis
	if media.Empty() && description != "" {
		result, err = s.analysis.RunText(ctx, description)
	} else {
		result, err = s.analysis.Run(ctx, media)
	}
	if err != nil {
		s.writeAnalysisError(c, err)
		return
	}

	image := ""
	if media.Kind == llm.KindImage && !media.Empty() {
		image = media.DataURL()
	}
	c.JSON(http.StatusOK, newAnalysisResponse(result, image))
}

var errTooLarge = errors.New("file too large")

// readMedia returns the uploaded image, or else the audio, or empty media.
// Zero-byte parts count as absent.
func (s *FoodLogServer) readMedia(c *gin.Context) (llm.Media, error) {
	for _, f := range []struct {
		field string
		kind  llm.Kind
	}{{"image", llm.KindImage}, {"audio", llm.KindAudio}} {
		fh, err := c.FormFile(f.field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return llm.Media{}, nil
		}
		if err != nil {
			return llm.Media{}, err
		}
		if fh.Size > s.config.MaxUploadBytes {
			return llm.Media{}, errTooLarge
		}
		data, err := readFile(fh)
		if err != nil {
			return llm.Media{}, err
		}
		if len(data) == 0 {
			continue
		}
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		return llm.Media{Kind: f.kind, Data: data, MIMEType: contentType}, nil
	}
	return llm.Media{}, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *FoodLogServer) writeAnalysisError(c *gin.Context, err error) {
	var (
		me *llm.ModelError
		ve *analysis.ValidationError
	)
	msg := analysis.PublicMessage(err)
	switch {
	case errors.Is(err, analysis.ErrInvalidMedia):
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadGateway, gin.H{"error": msg, "category": "validation"})
	case errors.As(err, &me):
		c.JSON(http.StatusBadGateway, gin.H{"error": msg, "category": "model"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process request"})
	}
}

// handleAnalysisStatus is the poll endpoint. Pending answers 202, a failed
// analysis answers 200 with status "error" so pollers can tell it apart
// from a failed request.
func (s *FoodLogServer) handleAnalysisStatus(c *gin.Context) {
	view, err := s.analysis.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check analysis status"})
		return
	}

	switch view.Status {
	case models.StatusPending:
		c.JSON(http.StatusAccepted, gin.H{"status": models.StatusPending})
	case models.StatusError:
		c.JSON(http.StatusOK, gin.H{"status": models.StatusError, "error": view.ErrorMessage})
	default:
		resp := newAnalysisResponse(view.Result, view.ImageURL)
		c.JSON(http.StatusOK, gin.H{
			"status":         models.StatusComplete,
			"foods":          resp.Foods,
			"mealSummary":    resp.MealSummary,
			"mealCategories": resp.MealCategories,
			"image":          resp.Image,
		})
	}
}

func (s *FoodLogServer) handleCreateMeal(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxMealBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}

	payload, err := schema.ParseCreateMeal(raw, userID)
	if err != nil {
		writeSchemaError(c, err)
		return
	}
	if payload.ClaimedUserID != nil && *payload.ClaimedUserID != userID {
		s.logger.Warn("meal body names a different owner; using session user",
			zap.Uint("session_user_id", userID),
			zap.Uint("body_user_id", *payload.ClaimedUserID),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}

	created, err := s.meals.CreateMealPayload(c.Request.Context(), payload)
	if err != nil {
		var pe *storage.PersistError
		if errors.As(err, &pe) && pe.Kind == storage.KindInvalid {
			writeSchemaError(c, pe.Err)
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save meal"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func writeSchemaError(c *gin.Context, err error) {
	var se *schema.SchemaError
	if errors.As(err, &se) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid meal data", "errors": se.Errors})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid meal data"})
}

func (s *FoodLogServer) handleListMeals(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	q, err := mealQuery(c.Query("limit"), c.Query("from"), c.Query("to"), c.DefaultQuery("tz", "UTC"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meals, err := s.meals.ListMeals(c.Request.Context(), userID, q)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve meals"})
		return
	}
	if meals == nil {
		meals = []models.Meal{}
	}
	c.JSON(http.StatusOK, gin.H{"meals": meals})
}

// mealQuery parses list filters. from and to are inclusive local dates.
func mealQuery(limit, from, to, tz string) (storage.MealQuery, error) {
	var q storage.MealQuery
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = n
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return q, errors.New("tz must be an IANA time zone")
	}
	if from != "" {
		t, err := time.ParseInLocation(time.DateOnly, from, loc)
		if err != nil {
			return q, errors.New("from must be a YYYY-MM-DD date")
		}
		q.From = t
	}
	if to != "" {
		t, err := time.ParseInLocation(time.DateOnly, to, loc)
		if err != nil {
			return q, errors.New("to must be a YYYY-MM-DD date")
		}
		q.To = t.AddDate(0, 0, 1)
	}
	return q, nil
}

func (s *FoodLogServer) handleTodaySummary(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	sum, err := s.meals.DailySummary(c.Request.Context(), userID, c.DefaultQuery("tz", "UTC"), s.now())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, sum)
	case errors.Is(err, storage.ErrInvalidTimeZone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "tz must be an IANA time zone"})
	case errors.Is(err, storage.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load summary"})
	}
}
