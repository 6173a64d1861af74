// Package services holds the business orchestration between storage, the
// message broker and the API surface.
package services

import (
	"time"

	"finanzas/internal/core"
)

// DuenessStatus classifies how current a student's monthly payments are.
const (
	DuenessCurrent  DuenessStatus = "current"
	DuenessDueSoon  DuenessStatus = "due_soon"
	DuenessOverdue  DuenessStatus = "overdue"
	DuenessInactive DuenessStatus = "inactive"
)

type DuenessStatus string

// DuenessChecker is the strategy for classifying one enrollment. The default
// implementation is threshold-based; tests substitute their own.
type DuenessChecker interface {
	Classify(s core.Student, now time.Time) DuenessStatus
}

// ThresholdChecker classifies by days elapsed since the last recorded
// payment. A student whose last payment falls inside the current calendar
// month is current; past the overdue threshold they are overdue; in between
// they are due soon.
type ThresholdChecker struct {
	OverdueAfter time.Duration
}

// NewThresholdChecker converts the configured day count into a checker.
func NewThresholdChecker(overdueAfterDays int) ThresholdChecker {
	return ThresholdChecker{OverdueAfter: time.Duration(overdueAfterDays) * 24 * time.Hour}
}

func (c ThresholdChecker) Classify(s core.Student, now time.Time) DuenessStatus {
	if s.Status == core.StatusWithdrawn {
		return DuenessInactive
	}
	// A student with no payment history is measured from enrollment; with no
	// enrollment date either, they are immediately due.
	anchor := s.LastPaymentAt.Time
	if s.LastPaymentAt.IsZero() {
		if s.EnrolledAt.IsZero() {
			return DuenessDueSoon
		}
		anchor = s.EnrolledAt.Time
	} else if anchor.Year() == now.Year() && anchor.Month() == now.Month() {
		return DuenessCurrent
	}

	if now.Sub(anchor) > c.OverdueAfter {
		return DuenessOverdue
	}
	return DuenessDueSoon
}

// StudentDueness pairs a student with their classification for API and
// worker consumers.
type StudentDueness struct {
	Student core.Student
	Status  DuenessStatus
}

// ClassifyAll applies the checker to every student.
func ClassifyAll(checker DuenessChecker, students []core.Student, now time.Time) []StudentDueness {
	out := make([]StudentDueness, 0, len(students))
	for _, s := range students {
		out = append(out, StudentDueness{Student: s, Status: checker.Classify(s, now)})
	}
	return out
}
