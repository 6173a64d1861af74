package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/storage"
)

type transactionJSON struct {
	ID            int64  `json:"id"`
	Date          string `json:"date"`
	Concept       string `json:"concept"`
	Counterparty  string `json:"counterparty"`
	UnitID        int64  `json:"unit_id"`
	PaymentMethod string `json:"payment_method"`
	Quantity      string `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
	Total         string `json:"total"`
	Kind          string `json:"kind"`
	CreatedBy     int64  `json:"created_by"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:            t.ID,
		Date:          t.Date.ISO(),
		Concept:       t.Concept,
		Counterparty:  t.Counterparty,
		UnitID:        t.UnitID,
		PaymentMethod: t.PaymentMethod,
		Quantity:      t.Quantity.String(),
		UnitPrice:     t.UnitPrice.String(),
		Total:         t.Total().StringFixed(2),
		Kind:          string(t.Kind),
		CreatedBy:     t.CreatedBy,
	}
}

type transactionInput struct {
	Date          string `json:"date"`
	Concept       string `json:"concept"`
	Counterparty  string `json:"counterparty"`
	UnitID        int64  `json:"unit_id"`
	PaymentMethod string `json:"payment_method"`
	Quantity      string `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
	Kind          string `json:"kind"`
}

func (in transactionInput) toTransaction() (core.Transaction, error) {
	date, err := core.ParseDate(in.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	quantity := decimal.NewFromInt(1)
	if in.Quantity != "" {
		if quantity, err = decimal.NewFromString(in.Quantity); err != nil {
			return core.Transaction{}, err
		}
	}
	price, err := decimal.NewFromString(in.UnitPrice)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		Date:          date,
		Concept:       in.Concept,
		Counterparty:  in.Counterparty,
		UnitID:        in.UnitID,
		PaymentMethod: in.PaymentMethod,
		Quantity:      quantity,
		UnitPrice:     price,
		Kind:          core.Kind(in.Kind),
	}, nil
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TransactionFilter{Limit: 100}

	if v := q.Get("unit_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unit_id")
			return
		}
		filter.UnitID = id
	}
	if v := q.Get("kind"); v != "" {
		kind := core.Kind(v)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "kind must be INCOME or EXPENSE")
			return
		}
		filter.Kind = kind
	}
	filter.Counterparty = q.Get("counterparty")
	for param, dst := range map[string]*core.Date{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(param); v != "" {
			d, err := core.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+param+" date")
				return
			}
			*dst = d
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	txs, err := s.transactions.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list transactions", log.FieldError, err)
		writeStoreError(w, err, false)
		return
	}
	out := make([]transactionJSON, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	t, err := s.transactions.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(t))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}

	var in transactionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := in.toTransaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.transactions.Create(r.Context(), t, uid)
	if err != nil {
		writeStoreError(w, err, true)
		return
	}
	s.invalidateSummary()
	s.logger.Info("transaction created",
		"id", created.ID,
		log.FieldUnit, created.UnitID,
		log.FieldKind, string(created.Kind),
		log.FieldUserID, uid)
	writeJSON(w, http.StatusCreated, toTransactionJSON(created))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var in transactionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := in.toTransaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t.ID = id

	updated, err := s.transactions.Update(r.Context(), t, uid)
	if err != nil {
		writeStoreError(w, err, true)
		return
	}
	s.invalidateSummary()
	writeJSON(w, http.StatusOK, toTransactionJSON(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "X-User-ID header required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := s.transactions.Delete(r.Context(), id, uid); err != nil {
		writeStoreError(w, err, false)
		return
	}
	s.invalidateSummary()
	w.WriteHeader(http.StatusNoContent)
}

type kindTotalJSON struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
	Total string `json:"total"`
}

type unitSummaryJSON struct {
	UnitID   int64           `json:"unit_id"`
	UnitName string          `json:"unit_name"`
	ByKind   []kindTotalJSON `json:"by_kind"`
	Balance  string          `json:"balance"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, cached := s.summaryCache.Get(summaryCacheKey)
	if !cached {
		// Collapse concurrent cache misses into one database pass.
		v, err, _ := s.summaryGroup.Do(summaryCacheKey, func() (any, error) {
			out, err := s.transactions.Summary(r.Context())
			if err != nil {
				return nil, err
			}
			s.summaryCache.Set(summaryCacheKey, out)
			return out, nil
		})
		if err != nil {
			s.logger.Error("summary", log.FieldError, err)
			writeStoreError(w, err, false)
			return
		}
		summary = v.([]core.UnitSummary)
	}

	out := make([]unitSummaryJSON, 0, len(summary))
	for _, u := range summary {
		uj := unitSummaryJSON{
			UnitID:   u.UnitID,
			UnitName: u.UnitName,
			Balance:  u.Balance().StringFixed(2),
		}
		for _, kt := range u.ByKind {
			uj.ByKind = append(uj.ByKind, kindTotalJSON{
				Kind:  string(kt.Kind),
				Count: kt.Count,
				Total: kt.Total.StringFixed(2),
			})
		}
		out = append(out, uj)
	}
	writeJSON(w, http.StatusOK, out)
}
