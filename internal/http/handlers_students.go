package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/services"
)

type studentJSON struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	TeacherID     int64  `json:"teacher_id"`
	Subject       string `json:"subject"`
	Mode          string `json:"class_mode"`
	Schedule      string `json:"schedule,omitempty"`
	EnrolledAt    string `json:"enrolled_at,omitempty"`
	Promotion     string `json:"promotion,omitempty"`
	MonthlyPrice  string `json:"monthly_price"`
	PaymentMethod string `json:"payment_method"`
	HomePickup    bool   `json:"home_pickup"`
	Status        string `json:"status"`
	LastPaymentAt string `json:"last_payment_at,omitempty"`
}

func toStudentJSON(s core.Student) studentJSON {
	out := studentJSON{
		ID:            s.ID,
		Name:          s.Name,
		TeacherID:     s.TeacherID,
		Subject:       s.Subject,
		Mode:          string(s.Mode),
		Schedule:      s.Schedule,
		Promotion:     s.Promotion,
		MonthlyPrice:  s.MonthlyPrice.String(),
		PaymentMethod: s.PaymentMethod,
		HomePickup:    s.HomePickup,
		Status:        string(s.Status),
	}
	if !s.EnrolledAt.IsZero() {
		out.EnrolledAt = s.EnrolledAt.ISO()
	}
	if !s.LastPaymentAt.IsZero() {
		out.LastPaymentAt = s.LastPaymentAt.ISO()
	}
	return out
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	var status core.StudentStatus
	if v := r.URL.Query().Get("status"); v != "" {
		status = core.StudentStatus(v)
		if status != core.StatusActive && status != core.StatusWithdrawn {
			writeError(w, http.StatusBadRequest, "status must be ACTIVE or WITHDRAWN")
			return
		}
	}

	students, err := s.payments.ListStudents(r.Context(), status)
	if err != nil {
		s.logger.Error("list students", log.FieldError, err)
		writeStoreError(w, err, false)
		return
	}
	out := make([]studentJSON, 0, len(students))
	for _, st := range students {
		out = append(out, toStudentJSON(st))
	}
	writeJSON(w, http.StatusOK, out)
}

type duenessJSON struct {
	Student studentJSON `json:"student"`
	Status  string      `json:"dueness"`
}

func (s *Server) handleDueness(w http.ResponseWriter, r *http.Request) {
	classified, err := s.payments.Dueness(r.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error("dueness", log.FieldError, err)
		writeStoreError(w, err, false)
		return
	}
	out := make([]duenessJSON, 0, len(classified))
	for _, d := range classified {
		out = append(out, duenessJSON{
			Student: toStudentJSON(d.Student),
			Status:  string(d.Status),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type paymentJSON struct {
	ID            int64  `json:"id"`
	StudentID     int64  `json:"student_id"`
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	Amount        string `json:"amount"`
	PaidAt        string `json:"paid_at"`
	PaymentMethod string `json:"payment_method"`
}

func toPaymentJSON(p core.MonthlyPayment) paymentJSON {
	return paymentJSON{
		ID:            p.ID,
		StudentID:     p.StudentID,
		Year:          p.Year,
		Month:         p.Month,
		Amount:        p.Amount.String(),
		PaidAt:        p.PaidAt.ISO(),
		PaymentMethod: p.PaymentMethod,
	}
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	payments, err := s.payments.ListPayments(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, false)
		return
	}
	out := make([]paymentJSON, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentJSON(p))
	}
	writeJSON(w, http.StatusOK, out)
}

type paymentInput struct {
	Year          int    `json:"year"`
	Month         int    `json:"month"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
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

	var in paymentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	amount := decimal.Zero
	if in.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(in.Amount); err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
	}

	payment, err := s.payments.RecordPayment(r.Context(), services.RecordPaymentInput{
		StudentID:     id,
		Year:          in.Year,
		Month:         in.Month,
		Amount:        amount,
		PaymentMethod: in.PaymentMethod,
		CreatedBy:     uid,
	})
	if err != nil {
		writeStoreError(w, err, true)
		return
	}
	s.invalidateSummary()
	s.logger.Info("payment recorded",
		log.FieldStudent, id,
		log.FieldYear, payment.Year,
		log.FieldMonth, payment.Month,
		log.FieldUserID, uid)
	writeJSON(w, http.StatusCreated, toPaymentJSON(payment))
}
