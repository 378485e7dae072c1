package http

import (
	"net/http"
	"strings"

	"spesa/internal/core"
	applog "spesa/internal/log"
)

func (s *Server) handleGetExpenses(w http.ResponseWriter, r *http.Request) {
	filter := sanitizeInput(r.URL.Query().Get("person"))
	expenses, err := s.svc.ListExpenses(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, applog.OpList, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"expenses": toExpenseList(expenses),
	}).Write(w)
}

// parseBody reads a JSON or form body, answering 400 itself on failure.
func parseBody(w http.ResponseWriter, r *http.Request) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		if err == errBodyTooLarge {
			ErrorResponse(http.StatusRequestEntityTooLarge, err.Error()).Write(w)
			return nil, false
		}
		BadRequestError("Invalid request body: " + err.Error()).Write(w)
		return nil, false
	}
	return p, true
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	saved, err := s.svc.AddManual(r.Context(), core.ManualEntryInput{
		Item:   p.Get("item"),
		Cost:   p.Get("cost"),
		Person: p.Get("person"),
	})
	if err != nil {
		s.writeServiceError(w, r, applog.OpCreate, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"success":    true,
		"newExpense": toExpenseJSON(saved),
	}).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	in := core.EditInput{
		ID:       p.Get("id"),
		Item:     p.Get("item"),
		Price:    p.Get("price"),
		Quantity: p.Get("quantity"),
		Person:   p.Get("person"),
		Date:     p.Get("date"),
	}
	// Older clients send only the line total of a single item.
	if in.Price == "" && in.Quantity == "" {
		in.Price, in.Quantity = p.Get("cost"), "1"
	}
	saved, err := s.svc.UpdateExpense(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, applog.OpUpdate, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"success":        true,
		"updatedExpense": toExpenseJSON(saved),
	}).Write(w)
}

func (s *Server) handleAddBatchExpenses(w http.ResponseWriter, r *http.Request) {
	p, ok := parseBody(w, r)
	if !ok {
		return
	}
	rows, err := ParseBatchRows(p)
	if err != nil {
		BadRequestError("Invalid items: " + err.Error()).Write(w)
		return
	}
	res, err := s.svc.SaveBatch(r.Context(), rows)
	if err != nil {
		s.writeServiceError(w, r, applog.OpBatch, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"success": true,
		"saved":   res.Saved,
		"skipped": res.Skipped,
	}).Write(w)
}

// handleEditForm returns the values the edit dialog starts from.
func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	form, err := s.svc.EditForm(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, applog.OpRead, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"id":       form.ID,
		"item":     form.Item,
		"price":    form.Price,
		"quantity": form.Quantity,
		"person":   string(form.Person),
		"date":     form.Date,
	}).Write(w)
}
