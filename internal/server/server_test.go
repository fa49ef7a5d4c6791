package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-food-log/internal/analysis"
	"mcp-food-log/internal/auth"
	"mcp-food-log/internal/blob"
	"mcp-food-log/internal/jobs"
	"mcp-food-log/internal/llm"
	"mcp-food-log/internal/models"
	"mcp-food-log/internal/storage"
)

const oatmealJSON = `{"foods":[{"name":"oatmeal","estimatedPortion":{"count":240,"unit":"g"},"sizeDescription":"one bowl","typicalServing":"1 cup cooked","calories":150,"protein":5}],"mealSummary":"Oatmeal","mealCategories":["grain"]}`

type fakeAnalyzer struct {
	raw     string
	err     error
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ llm.Media) (llm.RawOutput, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return llm.RawOutput(f.raw), nil
}

func (f *fakeAnalyzer) AnalyzeText(ctx context.Context, _ string) (llm.RawOutput, error) {
	return f.Analyze(ctx, llm.Media{})
}

// mediaRecorder keeps the media each Analyze call received.
type mediaRecorder struct {
	fakeAnalyzer
	seen []llm.Media
}

func (m *mediaRecorder) Analyze(ctx context.Context, media llm.Media) (llm.RawOutput, error) {
	m.seen = append(m.seen, media)
	return m.fakeAnalyzer.Analyze(ctx, media)
}

type harness struct {
	srv    *FoodLogServer
	svc    *analysis.Service
	token  string
	userID uint
}

func newHarness(t *testing.T, a analysis.Analyzer, maxUpload int64) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(storage.Config{Driver: storage.DriverSQLite, DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	t.Cleanup(func() { _ = storage.Close(db) })

	user, err := storage.NewUserStore(db).CreateUser(context.Background(), "tester", "pw", 2000)
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("server-test-secret-value", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue(user.ID)
	require.NoError(t, err)

	svc := analysis.New(a, jobs.NewMemoryStore(), blob.NewMemoryStore())
	t.Cleanup(svc.Wait)

	srv := NewFoodLogServer(Config{MaxUploadBytes: maxUpload}, svc, storage.NewMealStore(db, nil), issuer, nil)
	return &harness{srv: srv, svc: svc, token: token, userID: user.ID}
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("Authorization") == "" && h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, target, field, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{raw: oatmealJSON}, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAnalyzeRequiresSession(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{raw: oatmealJSON}, 0)
	h.token = ""
	w := h.do(t, multipartRequest(t, "/analyze", "image", "image/jpeg", []byte{0xff, 0xd8}, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAnalyzeSync(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{raw: oatmealJSON}, 0)
	w := h.do(t, multipartRequest(t, "/analyze", "image", "image/jpeg", []byte{0xff, 0xd8, 0xff}, nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	foods := body["foods"].([]any)
	require.Len(t, foods, 1)
	assert.Equal(t, "oatmeal", foods[0].(map[string]any)["name"])
	assert.Equal(t, "Oatmeal", body["mealSummary"])
	assert.Equal(t, "data:image/jpeg;base64,/9j/", body["image"])
}

func TestAnalyzeDescription(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{raw: oatmealJSON}, 0)
	w := h.do(t, multipartRequest(t, "/analyze", "", "", nil, map[string]string{"description": "a bowl of oatmeal"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.NotContains(t, body, "image")
}

func TestAnalyzeSkipsEmptyImagePart(t *testing.T) {
	rec := &mediaRecorder{fakeAnalyzer: fakeAnalyzer{raw: oatmealJSON}}
	h := newHarness(t, rec, 0)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range []struct{ field, contentType, data string }{
		{"image", "image/jpeg", ""},
		{"audio", "audio/webm", "webm voice note"},
	} {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="upload"`)
		hdr.Set("Content-Type", p.contentType)
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write([]byte(p.data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := h.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, rec.seen, 1)
	assert.Equal(t, llm.KindAudio, rec.seen[0].Kind)
	assert.Equal(t, "webm voice note", string(rec.seen[0].Data))
	assert.NotContains(t, decodeBody(t, w), "image")
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *fakeAnalyzer
		req      func(t *testing.T) *http.Request
		max      int64
		status   int
		category string
	}{
		{
			name:     "no media",
			analyzer: &fakeAnalyzer{raw: oatmealJSON},
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/analyze", "", "", nil, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name:     "too large",
			analyzer: &fakeAnalyzer{raw: oatmealJSON},
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/analyze", "image", "image/jpeg", bytes.Repeat([]byte{1}, 200), nil)
			},
			max:    100,
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:     "model failure",
			analyzer: &fakeAnalyzer{err: &llm.ModelError{Stage: llm.StageAnalysis, Err: errors.New("timeout")}},
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/analyze", "image", "image/png", []byte{0x89, 'P'}, nil)
			},
			status:   http.StatusBadGateway,
			category: "model",
		},
		{
			name:     "output breaks contract",
			analyzer: &fakeAnalyzer{raw: `{"foods":[{"name":"x"}],"mealSummary":"x","mealCategories":[]}`},
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/analyze", "audio", "audio/webm", []byte("webm"), nil)
			},
			status:   http.StatusBadGateway,
			category: "validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.analyzer, tt.max)
			w := h.do(t, tt.req(t))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decodeBody(t, w)
			assert.NotEmpty(t, body["error"])
			if tt.category != "" {
				assert.Equal(t, tt.category, body["category"])
			}
		})
	}
}

func TestAnalyzeAsyncAndPoll(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, &fakeAnalyzer{raw: oatmealJSON, release: release}, 0)

	w := h.do(t, multipartRequest(t, "/analyze?mode=async", "image", "image/jpeg", []byte{0xff, 0xd8, 0xff}, nil))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id, _ := decodeBody(t, w)["analysisId"].(string)
	require.NotEmpty(t, id)

	w = h.do(t, httptest.NewRequest(http.MethodGet, "/analysis/"+id, nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["status"])

	close(release)
	h.svc.Wait()

	w = h.do(t, httptest.NewRequest(http.MethodGet, "/analysis/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "complete", body["status"])
	assert.Len(t, body["foods"], 1)
	assert.True(t, strings.HasPrefix(body["image"].(string), "data:image/jpeg;base64,"))

	// repeated reads are stable
	again := h.do(t, httptest.NewRequest(http.MethodGet, "/analysis/"+id, nil))
	assert.JSONEq(t, w.Body.String(), again.Body.String())
}

func TestAnalysisStatusErrorAndNotFound(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{err: &llm.ModelError{Stage: llm.StageTranscription, Err: errors.New("bad audio")}}, 0)

	w := h.do(t, multipartRequest(t, "/analyze?mode=async", "audio", "audio/ogg", []byte("OggS"), nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decodeBody(t, w)["analysisId"].(string)
	h.svc.Wait()

	w = h.do(t, httptest.NewRequest(http.MethodGet, "/analysis/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"error","error":"Failed to transcribe audio"}`, w.Body.String())

	w = h.do(t, httptest.NewRequest(http.MethodGet, "/analysis/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

const mealBody = `{
	"userId": 999,
	"name": "Breakfast",
	"timeZone": "Europe/Berlin",
	"clientTimestamp": "2024-06-01T08:00:00+02:00",
	"mealCategories": ["egg", "grain"],
	"foodLogs": [
		{"name": "eggs", "calories": 143, "protein": 12.6, "portionSize": 100, "portionUnit": "g"},
		{"name": "toast", "calories": 75, "protein": 2.6, "portionSize": 1, "portionUnit": "oz"}
	]
}`

func TestCreateMeal(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/meals", strings.NewReader(mealBody))
	req.Header.Set("Content-Type", "application/json")
	w := h.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	meal := body["meal"].(map[string]any)
	assert.EqualValues(t, h.userID, meal["userId"])
	assert.Len(t, body["foodLogs"], 2)
	assert.Len(t, body["mealCategories"], 2)

	w = h.do(t, httptest.NewRequest(http.MethodGet, "/meals?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	meals := decodeBody(t, w)["meals"].([]any)
	require.Len(t, meals, 1)
	assert.Len(t, meals[0].(map[string]any)["foodLogs"], 2)
}

func TestCreateMealValidationErrors(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/meals", strings.NewReader(`{
		"name": "Lunch",
		"timeZone": "Nowhere/Special",
		"clientTimestamp": "2024-06-01T12:00:00Z",
		"mealCategories": ["pizza"],
		"foodLogs": [{"name": "x", "calories": -1, "protein": 1, "portionSize": 1, "portionUnit": "cup"}]
	}`))
	w := h.do(t, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Error  string `json:"error"`
		Errors []struct {
			Field  string `json:"field"`
			Reason string `json:"reason"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	fields := []string{}
	for _, e := range body.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"timeZone", "mealCategories[0]", "foodLogs[0].calories", "foodLogs[0].portionUnit"}, fields)
}

func TestListMealsBadQuery(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{}, 0)
	for _, q := range []string{"limit=abc", "limit=0", "limit=-3", "from=June", "tz=Mars/Base"} {
		w := h.do(t, httptest.NewRequest(http.MethodGet, "/meals?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestTodaySummary(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{}, 0)
	h.srv.now = func() time.Time { return time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC) }

	req := httptest.NewRequest(http.MethodPost, "/meals", strings.NewReader(mealBody))
	require.Equal(t, http.StatusCreated, h.do(t, req).Code)

	w := h.do(t, httptest.NewRequest(http.MethodGet, "/summary/today?tz=Europe/Berlin", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sum models.DailySummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, "2024-06-01", sum.Date)
	assert.Equal(t, 218, sum.Calories)
	assert.Equal(t, 2000-218, sum.Remaining)

	w = h.do(t, httptest.NewRequest(http.MethodGet, "/summary/today?tz=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func callTool(t *testing.T, h *harness, name string, args map[string]interface{}) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(protocol.CallToolRequest{Name: name, Arguments: args})
	require.NoError(t, err)
	w := h.do(t, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw)))
	if w.Code != http.StatusOK {
		return w, nil
	}
	return w, decodeBody(t, w)
}

func toolText(t *testing.T, result map[string]any) string {
	t.Helper()
	content := result["content"].([]any)
	require.NotEmpty(t, content)
	return content[0].(map[string]any)["text"].(string)
}

func TestMCPListAndUnknownTool(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{}, 0)

	w := h.do(t, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "adjust_food")

	w, _ = callTool(t, h, "calculate_carbs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMCPAdjustFood(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{}, 0)
	foods := []map[string]interface{}{{
		"name":             "chicken",
		"estimatedPortion": map[string]interface{}{"count": 100, "unit": "g"},
		"sizeDescription":  "palm-sized",
		"typicalServing":   "100g",
		"calories":         200,
		"protein":          20,
	}}

	_, result := callTool(t, h, "adjust_food", map[string]interface{}{
		"foods": foods, "index": 0, "field": "portion", "value": 150,
	})
	var out struct {
		Foods        []models.FoodItem `json:"foods"`
		Proportional bool              `json:"proportional"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.True(t, out.Proportional)
	assert.Equal(t, 150.0, out.Foods[0].EstimatedPortion.Count)
	assert.Equal(t, 300.0, out.Foods[0].Calories)
	assert.Equal(t, 30.0, out.Foods[0].Protein)

	_, result = callTool(t, h, "adjust_food", map[string]interface{}{
		"foods": foods, "index": 0, "field": "portion", "value": 150, "proportional": false,
	})
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Equal(t, 200.0, out.Foods[0].Calories)
	assert.Equal(t, 20.0, out.Foods[0].Protein)

	_, result = callTool(t, h, "adjust_food", map[string]interface{}{
		"foods": foods, "index": 3, "field": "portion", "value": 1,
	})
	assert.Equal(t, true, result["isError"])
}

func TestMCPLogAndGetMeals(t *testing.T) {
	h := newHarness(t, &fakeAnalyzer{raw: oatmealJSON}, 0)

	_, result := callTool(t, h, "analyze_meal_description", map[string]interface{}{"description": "oatmeal"})
	var analysed models.MealAnalysis
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &analysed))
	require.Len(t, analysed.Foods, 1)

	_, result = callTool(t, h, "log_meal", map[string]interface{}{
		"name":            "Breakfast",
		"time_zone":       "UTC",
		"timestamp":       "2024-06-01T08:00:00Z",
		"meal_categories": analysed.MealCategories,
		"foods":           analysed.Foods,
	})
	require.NotEqual(t, true, result["isError"], toolText(t, result))

	_, result = callTool(t, h, "get_meals", map[string]interface{}{"start_date": "2024-06-01", "end_date": "2024-06-01"})
	var meals []models.Meal
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &meals))
	require.Len(t, meals, 1)
	require.Len(t, meals[0].FoodLogs, 1)
	assert.Equal(t, "oatmeal", meals[0].FoodLogs[0].Name)
	assert.Equal(t, 150, meals[0].FoodLogs[0].Calories)
}
