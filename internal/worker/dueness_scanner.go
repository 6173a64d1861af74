package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"finanzas/internal/log"
	"finanzas/internal/services"
)

var errAlreadyRunning = errors.New("dueness scanner is already running")

// DuenessScanner periodically classifies every enrollment and logs the ones
// whose payments have gone stale, so an operator sees overdue students
// without querying the API.
type DuenessScanner struct {
	payments *services.PaymentService
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewDuenessScanner(payments *services.PaymentService, interval time.Duration, logger *log.Logger) *DuenessScanner {
	return &DuenessScanner{
		payments: payments,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Start launches the scan loop. Returns an error if already running.
func (s *DuenessScanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)
	s.logger.Info("dueness scanner started", "interval", s.interval.String())
	return nil
}

// Stop waits for the loop to exit or the context to end.
func (s *DuenessScanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *DuenessScanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *DuenessScanner) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First scan happens immediately, not one interval in.
	s.ScanOnce(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs a single classification pass.
func (s *DuenessScanner) ScanOnce(ctx context.Context) {
	out, err := s.payments.Dueness(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("dueness scan failed", log.FieldError, err)
		return
	}

	var overdue, dueSoon int
	for _, d := range out {
		switch d.Status {
		case services.DuenessOverdue:
			overdue++
			s.logger.Warn("student payment overdue",
				"student", d.Student.Name,
				"last_payment", d.Student.LastPaymentAt.ISO())
		case services.DuenessDueSoon:
			dueSoon++
		}
	}
	s.logger.Info("dueness scan complete",
		"students", len(out),
		"overdue", overdue,
		"due_soon", dueSoon)
}
