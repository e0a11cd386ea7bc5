package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/mathscore/pkg/data"
	"github.com/mchmarny/mathscore/pkg/predict"
)

func validForm() url.Values {
	return url.Values{
		"gender":                      {"female"},
		"ethnicity":                   {"group B"},
		"parental_level_of_education": {"bachelor's degree"},
		"lunch":                       {"standard"},
		"test_preparation_course":     {"none"},
		"reading_score":               {"72"},
		"writing_score":               {"74"},
	}
}

const validJSON = `{
	"gender": "female",
	"race_ethnicity": "group B",
	"parental_level_of_education": "bachelor's degree",
	"lunch": "standard",
	"test_preparation_course": "none",
	"reading_score": 72,
	"writing_score": 74
}`

func serve(t *testing.T, cfg *appConfig, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	makeRouter(cfg).ServeHTTP(w, req)
	return w
}

func postForm(t *testing.T, cfg *appConfig, v url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return serve(t, cfg, req)
}

func TestHomeView(t *testing.T) {
	w := serve(t, trainedAppConfig(t), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Start a prediction")

	w = serve(t, untrainedAppConfig(t), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mathscore train")
	assert.NotContains(t, w.Body.String(), "Start a prediction")
}

func TestPredictForm(t *testing.T) {
	w := serve(t, trainedAppConfig(t), httptest.NewRequest(http.MethodGet, "/predict", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, f := range []string{"gender", "ethnicity", "parental_level_of_education", "lunch",
		"test_preparation_course", "reading_score", "writing_score"} {
		assert.Contains(t, body, `name="`+f+`"`)
	}
	assert.Contains(t, body, "group E")
}

func TestPredictSubmit(t *testing.T) {
	w := postForm(t, trainedAppConfig(t), validForm())
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Predicted math score")
	assert.Contains(t, body, "bachelor&#39;s degree")
}

func TestPredictSubmit_Invalid(t *testing.T) {
	v := validForm()
	v.Set("reading_score", "seventy")

	w := postForm(t, trainedAppConfig(t), v)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `class="error"`)
	assert.Contains(t, body, "reading_score")
	assert.Contains(t, body, `value="74"`, "submitted values are kept")
}

func TestPredictSubmit_NotTrained(t *testing.T) {
	w := postForm(t, untrainedAppConfig(t), validForm())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Something went wrong")
}

func TestPredictAPI(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(validJSON))
	w := serve(t, trainedAppConfig(t), req)
	require.Equal(t, http.StatusOK, w.Code)

	var res predict.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.NotEmpty(t, res.Model)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 100.0)
}

func TestPredictAPI_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		cfg    func(*testing.T) *appConfig
		status int
	}{
		{"malformed body", `{"gender":`, trainedAppConfig, http.StatusBadRequest},
		{"unknown field", `{"shoe_size": 9}`, trainedAppConfig, http.StatusBadRequest},
		{"out of range", strings.Replace(validJSON, "72", "172", 1), trainedAppConfig, http.StatusBadRequest},
		{"unknown category", strings.Replace(validJSON, "group B", "group Z", 1), trainedAppConfig, http.StatusBadRequest},
		{"not trained", validJSON, untrainedAppConfig, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(tt.body))
			w := serve(t, tt.cfg(t), req)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatusAPI(t *testing.T) {
	w := serve(t, untrainedAppConfig(t), httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":false`)
}

func TestRunsAPI(t *testing.T) {
	cfg := untrainedAppConfig(t)
	now := time.Now().UTC()
	require.NoError(t, data.SaveRun(cfg.DB, &data.Run{
		ID:         "run-1",
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		State:      "trained",
		Model:      "Ridge",
		Score:      0.85,
		Scores:     []data.Score{{Position: 0, Model: "Ridge", R2: 0.85}},
	}))

	w := serve(t, cfg, httptest.NewRequest(http.MethodGet, "/api/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []*data.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "run-1", list[0].ID)

	w = serve(t, cfg, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var run data.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&run))
	require.Len(t, run.Scores, 1)
	assert.Equal(t, "Ridge", run.Scores[0].Model)

	w = serve(t, cfg, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticAssets(t *testing.T) {
	cfg := untrainedAppConfig(t)

	w := serve(t, cfg, httptest.NewRequest(http.MethodGet, "/static/assets/css/app.css", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, cfg, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
}

func TestMethodNotAllowed(t *testing.T) {
	w := serve(t, untrainedAppConfig(t), httptest.NewRequest(http.MethodDelete, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDict(t *testing.T) {
	m, err := dict("a", 1, "b", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, m)

	_, err = dict("a")
	assert.Error(t, err)
	_, err = dict(1, 2)
	assert.Error(t, err)
}
