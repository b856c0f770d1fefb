package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

// ValidationFailed is the record error for a transport success whose
// response broke at least one rule.
const ValidationFailed = "Validation failed"

// Runner executes one health check. The record it returns is never nil.
type Runner interface {
	Run(ctx context.Context, svc *storage.Service) *storage.CheckRecord
}

// Executor runs a single health check: transport call, then rule evaluation.
// Every failure, including panics in a checker, ends up in the returned
// record; Run never returns an error.
type Executor struct {
	checkers *checker.Registry
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(checkers *checker.Registry, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		checkers: checkers,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *Executor) Run(ctx context.Context, svc *storage.Service) (rec *storage.CheckRecord) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("health check panicked", "service", svc.ID, "type", svc.Type, "panic", r)
			rec = e.failed(fmt.Errorf("internal error: %v", r))
		}
	}()

	c, err := e.checkers.Get(svc.Type)
	if err != nil {
		return e.failed(err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := c.Check(checkCtx, svc)
	elapsed := e.now().Sub(start).Milliseconds()
	if err != nil {
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timeout after %s: %w", e.timeout, err)
		}
		e.logger.Debug("health check transport error", "service", svc.ID, "type", svc.Type, "error", err)
		return e.failed(err)
	}
	if resp == nil {
		return e.failed(errors.New("checker returned no response"))
	}

	result := validation.Validate(svc.ValidationRules, resp)
	rec = &storage.CheckRecord{
		Timestamp: e.now(),
		Success:   result.Passed,
		RawResponse: &storage.RawResponse{
			StatusCode:     resp.StatusCode,
			Headers:        resp.Headers,
			Body:           resp.Body,
			ResponseTimeMs: elapsed,
		},
		Validation: &result,
	}
	if !result.Passed {
		rec.Error = ValidationFailed
	}

	e.logger.Debug("health check completed", "service", svc.ID, "type", svc.Type,
		"success", rec.Success, "failures", len(result.Failures), "response_time_ms", elapsed)
	return rec
}

func (e *Executor) failed(err error) *storage.CheckRecord {
	return &storage.CheckRecord{
		Timestamp: e.now(),
		Success:   false,
		Error:     err.Error(),
	}
}
