package errs

import (
	"context"

	"carecomms/server/stream"
)

type SignalKind int

const (
	SignalError SignalKind = iota
	SignalRecovered
	SignalCleared
)

// Signal is what UI subscribers receive: either a classified error or a
// terminal recovered/cleared marker telling them to drop the banner.
type Signal struct {
	Kind  SignalKind
	Error *AppError
}

// Handler broadcasts classified failures to every UI subscriber.
type Handler struct {
	signals *stream.Broadcaster[Signal]
}

func NewHandler() *Handler {
	return &Handler{signals: stream.NewBroadcaster[Signal]()}
}

func (h *Handler) Subscribe(ctx context.Context) <-chan Signal {
	return h.signals.Subscribe(ctx)
}

// Report classifies and publishes; it returns the classification so callers
// can also propagate it.
func (h *Handler) Report(err error, opContext string) *AppError {
	app := Classify(err, opContext)
	h.signals.Publish(Signal{Kind: SignalError, Error: app})
	return app
}

func (h *Handler) Recovered() {
	h.signals.Publish(Signal{Kind: SignalRecovered})
}

func (h *Handler) Cleared() {
	h.signals.Publish(Signal{Kind: SignalCleared})
}

func (h *Handler) Close() {
	h.signals.Close()
}
