package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/engine"
)

type promptJSON struct {
	QuestionID int64  `json:"question_id"`
	Depth      int    `json:"depth"`
	Phase      int    `json:"phase"`
	Text       string `json:"text"`
	Intro      string `json:"intro,omitempty"`
}

type outcomeJSON struct {
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
	Reaction string      `json:"reaction,omitempty"`
	Done     bool        `json:"done"`
	Next     *promptJSON `json:"next,omitempty"`
}

type exchangeJSON struct {
	QuestionID int64     `json:"question_id"`
	Depth      int       `json:"depth"`
	Phase      int       `json:"phase"`
	Prompt     string    `json:"prompt"`
	Answer     string    `json:"answer"`
	Accepted   bool      `json:"accepted"`
	CreatedAt  time.Time `json:"created_at"`
}

func toPromptJSON(p *engine.Prompt) *promptJSON {
	if p == nil {
		return nil
	}
	return &promptJSON{
		QuestionID: p.QuestionID,
		Depth:      p.Depth,
		Phase:      p.Phase,
		Text:       p.Text,
		Intro:      p.Intro,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		UserID     string `json:"user_id"`
		QuestionID int64  `json:"question_id"`
		Depth      int    `json:"depth"`
		Answer     string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.UserID == "" || body.QuestionID == 0 || body.Answer == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id, question_id and answer are required")
		return
	}

	out, err := s.interview.SubmitAnswer(r.Context(), body.UserID, body.QuestionID, body.Depth, body.Answer)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrOutOfSequence):
			writeJSONError(w, http.StatusConflict, err.Error())
		case errors.Is(err, engine.ErrJudgeUnavailable):
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, engine.ErrGenerationFailed):
			writeJSONError(w, http.StatusBadGateway, err.Error())
		default:
			s.log.Error("submit answer failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, outcomeJSON{
		Accepted: out.Accepted,
		Reason:   out.Reason,
		Reaction: out.Reaction,
		Done:     out.Next == nil,
		Next:     toPromptJSON(out.Next),
	})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	prompt, err := s.interview.CurrentPrompt(r.Context(), userID)
	if err != nil {
		s.log.Error("current prompt failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if prompt == nil {
		writeJSON(w, map[string]any{"done": true})
		return
	}
	writeJSON(w, map[string]any{"done": false, "prompt": toPromptJSON(prompt)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	phase := 0
	if raw := r.URL.Query().Get("phase"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid phase")
			return
		}
		phase = p
	}
	exchanges, err := s.interview.History(r.Context(), userID, phase)
	if err != nil {
		s.log.Error("history failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]exchangeJSON, 0, len(exchanges))
	for _, ex := range exchanges {
		out = append(out, exchangeJSON{
			QuestionID: ex.QuestionID,
			Depth:      ex.Depth,
			Phase:      ex.Phase,
			Prompt:     ex.Prompt,
			Answer:     ex.Answer,
			Accepted:   ex.Accepted,
			CreatedAt:  ex.CreatedAt,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
