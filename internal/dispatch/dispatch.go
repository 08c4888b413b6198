// Package dispatch sends the audit task to the purple agent and returns its
// raw answer.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
)

const TaskName = "audit_smart_contracts"

// DefaultTimeout bounds a dispatch when the request config sets no limit.
const DefaultTimeout = 300 * time.Second

// Task is the payload sent to the auditor.
type Task struct {
	Task      string         `json:"task"`
	Contracts []string       `json:"contracts"`
	Config    map[string]any `json:"config"`
}

// Dispatcher delivers one task and waits for one response. Implementations
// never retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, task Task) ([]byte, error)
}

// Error is returned for transport failures, timeouts and non-2xx answers.
type Error struct {
	Endpoint   string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("dispatch to %s timed out: %v", e.Endpoint, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("dispatch to %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch to %s failed: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type HTTPDispatcher struct {
	client  *resty.Client
	timeout time.Duration
	log     hclog.Logger
}

func NewHTTP(logger hclog.Logger, timeout time.Duration) *HTTPDispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New()
	client.SetLogger(&hclogAdapter{logger: logger})
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetRetryCount(0)
	return &HTTPDispatcher{client: client, timeout: timeout, log: logger}
}

// Dispatch posts task to endpoint. A deadline already on ctx wins if it is
// shorter than the dispatcher timeout.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, endpoint string, task Task) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(task).
		Post(endpoint)
	if err != nil {
		return nil, &Error{
			Endpoint: endpoint,
			Timeout:  errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
	}
	d.log.Debug("dispatch answered", "endpoint", endpoint, "status", resp.StatusCode(), "elapsed", time.Since(start))
	if resp.IsError() {
		return nil, &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode(),
			Err:        errors.New(truncate(resp.String(), 200)),
		}
	}
	return resp.Body(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// hclogAdapter adapts hclog to resty's logger interface.
type hclogAdapter struct {
	logger hclog.Logger
}

func (a *hclogAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

func (a *hclogAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...))
}

func (a *hclogAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}
