package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/infra/memory"
)

func TestRandomQuestionHidesSolution(t *testing.T) {
	server := newTestServer(t, memory.NewSessionStore(), &countingLedger{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/ads/ad-2/quiz/random")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Question map[string]any `json:"question"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Question["question"] != "Capital of France?" || body.Question["id"] != "1" {
		t.Fatalf("unexpected question %v", body.Question)
	}
	if _, ok := body.Question["answer"]; ok {
		t.Fatalf("answer must not be exposed: %v", body.Question)
	}
}

func TestSubmitAnswerGrades(t *testing.T) {
	server := newTestServer(t, memory.NewSessionStore(), &countingLedger{})
	defer server.Close()

	cases := []struct {
		name    string
		adID    string
		body    string
		status  int
		correct bool
	}{
		{name: "short answer substring", adID: "ad-2", body: `{"questionId":"1","answer":"  paris, france "}`, status: http.StatusOK, correct: true},
		{name: "short answer wrong", adID: "ad-2", body: `{"questionId":"1","answer":"Lyon"}`, status: http.StatusOK},
		{name: "multiple correct", adID: "ad-1", body: `{"questionId":"1","selectedOption":1}`, status: http.StatusOK, correct: true},
		{name: "multiple missing option", adID: "ad-1", body: `{"questionId":"1"}`, status: http.StatusOK},
		{name: "unknown question", adID: "ad-1", body: `{"questionId":"9","selectedOption":1}`, status: http.StatusNotFound},
		{name: "unknown ad", adID: "nope", body: `{"questionId":"1"}`, status: http.StatusNotFound},
		{name: "missing question id", adID: "ad-1", body: `{}`, status: http.StatusBadRequest},
		{name: "bad json", adID: "ad-1", body: `{`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, err := http.Post(server.URL+"/ads/"+tc.adID+"/quiz/submit", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: post: %v", tc.name, err)
		}
		var body submitResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
		if tc.status == http.StatusOK && body.Correct != tc.correct {
			t.Fatalf("%s: expected correct=%v, got %+v", tc.name, tc.correct, body)
		}
	}
}

type fakeStats map[string]int64

func (f fakeStats) Stats(_ context.Context, adID string) (map[string]int64, error) {
	if adID == "broken" {
		return nil, errors.New("redis down")
	}
	return f, nil
}

func TestStatsRoute(t *testing.T) {
	service := app.NewEngagementService(memory.NewSessionStore(), memory.NewStaticCatalog(sampleAds()), nil, &countingLedger{}, nil)
	mux := http.NewServeMux()
	NewQuizHandler(service, fakeStats{"view": 3, "completion": 2}).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ads/ad-1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		AdID  string           `json:"adId"`
		Stats map[string]int64 `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AdID != "ad-1" || body.Stats["view"] != 3 || body.Stats["completion"] != 2 {
		t.Fatalf("unexpected stats %+v", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ads/broken/stats", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ads/ad-1/quiz/random", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
