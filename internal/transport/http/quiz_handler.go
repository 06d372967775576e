package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/domain"
)

// StatsReader exposes per-ad engagement totals.
type StatsReader interface {
	Stats(ctx context.Context, adID string) (map[string]int64, error)
}

// QuizHandler serves the standalone quiz endpoints and ad stats.
type QuizHandler struct {
	service *app.EngagementService
	stats   StatsReader
}

// NewQuizHandler builds the handler. stats may be nil, in which case the stats
// route is not registered.
func NewQuizHandler(service *app.EngagementService, stats StatsReader) *QuizHandler {
	return &QuizHandler{service: service, stats: stats}
}

func (h *QuizHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ads/{id}/quiz/random", h.randomQuestion)
	mux.HandleFunc("POST /ads/{id}/quiz/submit", h.submitAnswer)
	if h.stats != nil {
		mux.HandleFunc("GET /ads/{id}/stats", h.adStats)
	}
}

type submitRequest struct {
	QuestionID     string `json:"questionId"`
	Answer         string `json:"answer"`
	SelectedOption *int   `json:"selectedOption"`
}

type submitResponse struct {
	Correct bool   `json:"correct"`
	Message string `json:"message"`
}

func (h *QuizHandler) randomQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.service.RandomQuestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": question})
}

func (h *QuizHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid request body"})
		return
	}
	if req.QuestionID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "questionId is required"})
		return
	}
	correct, err := h.service.SubmitQuiz(r.Context(), r.PathValue("id"), req.QuestionID, domain.Submission{
		Answer:         req.Answer,
		SelectedOption: req.SelectedOption,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := submitResponse{Correct: correct, Message: "Incorrect answer"}
	if correct {
		resp.Message = "Correct!"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *QuizHandler) adStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adId": r.PathValue("id"), "stats": stats})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAdNotFound),
		errors.Is(err, domain.ErrNoQuizAvailable),
		errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrFetchFailed):
		status = http.StatusBadGateway
	default:
		log.Printf("quiz request failed: %v", err)
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
