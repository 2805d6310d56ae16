package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/taleweaver/internal/logging"
	"github.com/ent0n29/taleweaver/internal/observability"
)

// UserMessage is shown to end users when every backend failed.
const UserMessage = "I'm having trouble responding right now."

// ErrEmptyReply marks a backend that answered with nothing usable.
var ErrEmptyReply = errors.New("empty reply")

// Attempt records one failed backend call.
type Attempt struct {
	Backend string
	Err     error
}

// DispatchError aggregates every failed attempt of one dispatch.
type DispatchError struct {
	Attempts []Attempt
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Backend+": "+a.Err.Error())
	}
	return "all completion backends failed: " + strings.Join(parts, "; ")
}

func (e *DispatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	return out
}

// UserMessage is the text to show the end user instead of a reply.
func (e *DispatchError) UserMessage() string { return UserMessage }

// Recorder receives per-attempt outcomes; observability.Metrics satisfies it.
type Recorder interface {
	ObserveDispatch(backend, outcome string, d time.Duration)
}

// Dispatcher walks an ordered backend list until one replies. It keeps no
// state between calls.
type Dispatcher struct {
	backends []Backend
	logger   *slog.Logger
	recorder Recorder
}

func NewDispatcher(backends []Backend, logger *slog.Logger, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		backends: backends,
		logger:   logging.OrDiscard(logger),
		recorder: recorder,
	}
}

// Backends returns the configured backend names in priority order.
func (d *Dispatcher) Backends() []string {
	out := make([]string, 0, len(d.backends))
	for _, b := range d.backends {
		out = append(out, b.Name())
	}
	return out
}

// Complete returns the first successful normalized reply. Context
// cancellation stops the walk and is returned as is; otherwise a failure of
// every backend yields *DispatchError.
func (d *Dispatcher) Complete(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "completion.dispatch",
		attribute.Int("backends", len(d.backends)),
		attribute.String("speaker", req.Speaker),
	)
	defer func() {
		span.SetAttributes(attribute.String("source", res.Source))
		observability.EndSpan(span, err)
	}()

	dispatchErr := &DispatchError{}
	for _, b := range d.backends {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		start := time.Now()
		raw, callErr := b.Complete(ctx, req)
		text := ""
		if callErr == nil {
			text = Normalize(raw, req.Speaker)
			if text == "" {
				callErr = ErrEmptyReply
			}
		}
		if callErr != nil {
			d.observe(b.Name(), "error", time.Since(start))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			d.logger.Warn("completion backend failed", "backend", b.Name(), "error", callErr)
			dispatchErr.Attempts = append(dispatchErr.Attempts, Attempt{Backend: b.Name(), Err: callErr})
			continue
		}
		d.observe(b.Name(), "ok", time.Since(start))
		return Result{Text: text, Source: b.Name()}, nil
	}
	if len(dispatchErr.Attempts) == 0 {
		dispatchErr.Attempts = append(dispatchErr.Attempts, Attempt{Backend: "none", Err: fmt.Errorf("no backends configured")})
	}
	return Result{}, dispatchErr
}

func (d *Dispatcher) observe(backend, outcome string, dur time.Duration) {
	if d.recorder != nil {
		d.recorder.ObserveDispatch(backend, outcome, dur)
	}
}

// Normalize trims a reply and drops a leading "<speaker>:" the model may echo
// from the prompt cue.
func Normalize(text, speaker string) string {
	out := strings.TrimSpace(text)
	if speaker = strings.TrimSpace(speaker); speaker != "" {
		prefix := speaker + ":"
		if len(out) >= len(prefix) && strings.EqualFold(out[:len(prefix)], prefix) {
			out = strings.TrimSpace(out[len(prefix):])
		}
	}
	return out
}
