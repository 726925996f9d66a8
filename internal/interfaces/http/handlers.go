package http

import (
	"net/http"
	"strconv"
	"time"
)

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: time.Now().UTC()})
}

// handleSignal serves GET /signal[?date=2006-01-02]: the label and
// recommended basket under the most recent fitted parameters.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	sig, err := s.source.SignalAsOf(date)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sig)
}

type regimeEntry struct {
	Date   string  `json:"date"`
	Regime string  `json:"regime"`
	Coarse string  `json:"coarse_regime"`
	Score  float64 `json:"score"`
}

type regimeResponse struct {
	Current string        `json:"current"`
	Entries []regimeEntry `json:"entries"`
}

// handleRegime serves GET /regime[?limit=N]: the tail of the out-of-sample
// timeline, newest last.
func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	tl := s.source.Timeline()
	if len(tl) == 0 {
		s.writeError(w, http.StatusNotFound, "no timeline available")
		return
	}
	if len(tl) > limit {
		tl = tl[len(tl)-limit:]
	}
	resp := regimeResponse{Current: tl[len(tl)-1].Label.String()}
	for _, e := range tl {
		resp.Entries = append(resp.Entries, regimeEntry{
			Date:   e.Date.Format("2006-01-02"),
			Regime: e.Label.String(),
			Coarse: e.Label.CoarseString(),
			Score:  e.Score,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
