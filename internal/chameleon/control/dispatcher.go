// Package control answers requests from the UI side of the extension and
// carries them over a websocket.
package control

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/chameleon/events"
	"github.com/ElLumy/chameleon/internal/observability"
)

// ErrNotAvailable means the counterpart could not answer: the page side is
// missing, not ready, or the transport failed.
var ErrNotAvailable = errors.New("not available")

// Error strings carried in protocol responses.
const (
	msgNotAvailable  = "not available"
	msgUnknownAction = "unknown action"
)

// EventTarget is the page event target the dispatcher talks through.
type EventTarget interface {
	Once(name string, fn events.Handler) (off func())
	Emit(name string, detail interface{}) int
}

// StatusSource reports whether the orchestration reached Ready.
type StatusSource interface {
	Ready() bool
}

// Dispatcher routes control requests to page events.
type Dispatcher struct {
	target EventTarget
	status StatusSource
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(target EventTarget, status StatusSource, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{target: target, status: status, logger: logger.Named("control")}
}

// Handle answers req through respond. It returns true when the answer will
// arrive asynchronously. respond is called exactly once.
//
// getProfile stays pending until the core publishes profile data or ctx ends,
// in which case a "not available" error is returned.
func (d *Dispatcher) Handle(ctx context.Context, req schemas.Request, respond func(schemas.Response)) (pending bool) {
	reply := func(resp schemas.Response, result string) {
		resp.ID = req.ID
		observability.ControlRequests.WithLabelValues(string(req.Action), result).Inc()
		respond(resp)
	}

	switch req.Action {
	case schemas.ActionGetProfile:
		d.getProfile(ctx, reply)
		return true

	case schemas.ActionRegenerateProfile:
		d.target.Emit(schemas.EventRegenerate, nil)
		d.logger.Info("Profile regeneration requested", zap.String("request_id", req.ID))
		reply(schemas.AckResponse(), "ok")
		return false

	case schemas.ActionGetStatus:
		reply(schemas.StatusResponse(d.status.Ready()), "ok")
		return false

	default:
		d.logger.Warn("Unknown control action", zap.String("action", string(req.Action)))
		reply(schemas.ErrorResponse(msgUnknownAction), "unknown")
		return false
	}
}

func (d *Dispatcher) getProfile(ctx context.Context, reply func(schemas.Response, string)) {
	var once sync.Once
	done := make(chan struct{})
	finish := func(resp schemas.Response, result string) {
		once.Do(func() {
			close(done)
			reply(resp, result)
		})
	}

	off := d.target.Once(schemas.EventProfileData, func(detail interface{}) {
		p, ok := detail.(*schemas.Profile)
		if !ok || p == nil {
			finish(schemas.ErrorResponse(msgNotAvailable), "unavailable")
			return
		}
		finish(schemas.ProfileResponse(p), "ok")
	})
	d.target.Emit(schemas.EventGetProfile, nil)

	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			off()
			finish(schemas.ErrorResponse(msgNotAvailable), "timeout")
		}
	}()
}

// Do sends req and blocks until the answer arrives or ctx ends.
func (d *Dispatcher) Do(ctx context.Context, req schemas.Request) schemas.Response {
	ch := make(chan schemas.Response, 1)
	d.Handle(ctx, req, func(resp schemas.Response) { ch <- resp })
	return <-ch
}

// ResponseError converts an error response into ErrNotAvailable or a plain error.
func ResponseError(resp schemas.Response) error {
	switch resp.Error {
	case "":
		return nil
	case msgNotAvailable:
		return ErrNotAvailable
	}
	return errors.New(resp.Error)
}
