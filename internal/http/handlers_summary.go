package http

import (
	"encoding/json"
	"net/http"

	applog "spesa/internal/log"
)

// handleFetchSummary serves one month. month must be MM and year YYYY.
func (s *Server) handleFetchSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sum, err := s.svc.SummaryForPeriod(r.Context(), q.Get("month"), q.Get("year"))
	if err != nil {
		s.writeServiceError(w, r, applog.OpSummary, err)
		return
	}
	NewResponse().JSON(toSummaryJSON(sum)).Write(w)
}

type monthBucketJSON struct {
	Label  string                 `json:"label"`
	Month  int                    `json:"month"`
	Year   int                    `json:"year"`
	Totals map[string]json.Number `json:"totals"`
	Total  json.Number            `json:"total"`
}

// handleMonthlySummaries groups every expense by month, newest first.
func (s *Server) handleMonthlySummaries(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.svc.MonthlySummaries(r.Context())
	if err != nil {
		s.writeServiceError(w, r, applog.OpSummary, err)
		return
	}
	people := s.svc.People()
	out := make([]monthBucketJSON, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, monthBucketJSON{
			Label:  b.Label,
			Month:  b.Month,
			Year:   b.Year,
			Totals: totalsJSON(people, b.Totals),
			Total:  amount(b.Total),
		})
	}
	NewResponse().JSON(map[string]any{
		"people": people.Strings(),
		"months": out,
	}).Write(w)
}
