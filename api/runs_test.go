package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/SilenceZen/langgraph/api"
	"github.com/SilenceZen/langgraph/config"
	"github.com/SilenceZen/langgraph/domain"
	"github.com/SilenceZen/langgraph/tests/helpers"
)

type fakeRunner struct {
	runID string
	err   error
	asked string
}

func (f *fakeRunner) Start(_ context.Context, question string) (string, error) {
	f.asked = question
	return f.runID, f.err
}

func TestStartResearch(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	runner := &fakeRunner{runID: "run_ab12cd34"}
	handler := api.NewHandler(store, runner, &config.Config{})
	e := echo.New()

	t.Run("Accepts Question", func(t *testing.T) {
		reqBody, _ := json.Marshal(api.StartResearchRequest{Question: "why was Go created?"})
		req := httptest.NewRequest(http.MethodPost, "/v1/research", bytes.NewReader(reqBody))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler.StartResearch(c)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp map[string]string
		json.Unmarshal(rec.Body.Bytes(), &resp)
		assert.Equal(t, "run_ab12cd34", resp["run_id"])
		assert.Equal(t, string(domain.RunStatusCreated), resp["status"])
		assert.Equal(t, "why was Go created?", runner.asked)
	})

	t.Run("Rejects Blank Question", func(t *testing.T) {
		reqBody, _ := json.Marshal(api.StartResearchRequest{Question: "   "})
		req := httptest.NewRequest(http.MethodPost, "/v1/research", bytes.NewReader(reqBody))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler.StartResearch(c)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Runner Failure", func(t *testing.T) {
		failing := api.NewHandler(store, &fakeRunner{err: fmt.Errorf("store down")}, &config.Config{})
		reqBody, _ := json.Marshal(api.StartResearchRequest{Question: "q"})
		req := httptest.NewRequest(http.MethodPost, "/v1/research", bytes.NewReader(reqBody))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := failing.StartResearch(c)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetRun(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	handler := api.NewHandler(store, &fakeRunner{}, &config.Config{})
	e := echo.New()
	ctx := context.Background()

	run := &domain.Run{RunID: "run_1", Question: "q", Status: domain.RunStatusRunning, StartedAt: time.Now()}
	assert.NoError(t, store.CreateRun(ctx, run))
	assert.NoError(t, store.UpdateRunCompleted(ctx, "run_1", domain.RunStatusDone, []byte(`{"answer":"done"}`), nil))

	t.Run("Found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs/run_1", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues("run_1")

		err := handler.GetRun(c)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)

		var got domain.Run
		json.Unmarshal(rec.Body.Bytes(), &got)
		assert.Equal(t, domain.RunStatusDone, got.Status)
		assert.JSONEq(t, `{"answer":"done"}`, string(got.Result))
	})

	t.Run("Not Found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs/run_missing", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues("run_missing")

		err := handler.GetRun(c)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListRuns(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	handler := api.NewHandler(store, &fakeRunner{}, &config.Config{})
	e := echo.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := &domain.Run{
			RunID:     fmt.Sprintf("run_%d", i),
			Question:  fmt.Sprintf("q%d", i),
			Status:    domain.RunStatusDone,
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		assert.NoError(t, store.CreateRun(ctx, run))
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.ListRuns(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	assert.Len(t, resp.Runs, 2)
	assert.Equal(t, "run_2", resp.Runs[0].RunID)
}
