// Package gateway multiplexes one GVRET analysis client against one or two
// CANET adapter connections, translating frames in both directions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/canbridge/gvret-canet-gateway/internal/can"
	"github.com/canbridge/gvret-canet-gateway/internal/canet"
	"github.com/canbridge/gvret-canet-gateway/internal/capture"
	"github.com/canbridge/gvret-canet-gateway/internal/gvret"
	"github.com/canbridge/gvret-canet-gateway/internal/logging"
	"github.com/canbridge/gvret-canet-gateway/internal/metrics"
)

// Routing selects how client-built frames are mapped to adapter
// connections.
type Routing int

const (
	// RoutingCompat reproduces the historical behavior: the outbound bus
	// index is clamped to at least 1, so client frames always target the
	// second adapter connection and are dropped when none is configured.
	// Kept as the default until the intended mapping is confirmed with
	// real hardware; see DESIGN.md.
	RoutingCompat Routing = iota
	// RoutingDirect routes by the frame's own bus field.
	RoutingDirect
)

func (r Routing) String() string {
	if r == RoutingDirect {
		return "direct"
	}
	return "compat"
}

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrClientWrite = errors.New("client_write")
	ErrBusWrite    = errors.New("bus_write")
	ErrNoClient    = errors.New("gateway: client connection required")
	ErrNoBus       = errors.New("gateway: bus 0 connection required")
)

// Gateway owns the client stream and up to two adapter streams and runs
// the forwarding loop. All writes happen on the loop goroutine; the reader
// goroutines only decode.
type Gateway struct {
	client  io.ReadWriter
	buses   [2]io.ReadWriter // index 1 is nil when only one bus is configured
	codec   canet.Codec
	routing Routing
	start   time.Time
	logger  *slog.Logger

	cap       *capture.Writer
	capBroken bool
}

type Option func(*Gateway)

func WithClient(rw io.ReadWriter) Option { return func(g *Gateway) { g.client = rw } }

// WithBus attaches the adapter connection for bus i (0 or 1).
func WithBus(i int, rw io.ReadWriter) Option {
	return func(g *Gateway) {
		if i >= 0 && i < len(g.buses) {
			g.buses[i] = rw
		}
	}
}

func WithRouting(r Routing) Option { return func(g *Gateway) { g.routing = r } }

func WithCapture(w *capture.Writer) Option { return func(g *Gateway) { g.cap = w } }

// WithStart anchors the microsecond timestamps reported to the client.
func WithStart(t time.Time) Option { return func(g *Gateway) { g.start = t } }

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(opts ...Option) *Gateway {
	g := &Gateway{start: time.Now(), logger: logging.L()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NumBuses reports the number of attached adapter connections (1 or 2).
func (g *Gateway) NumBuses() uint8 {
	if g.buses[1] != nil {
		return 2
	}
	return 1
}

// Run multiplexes the three streams until the client disconnects, a write
// fails, or ctx is cancelled. Exactly one source is serviced per iteration
// and its output fully written before the next select, so forwarded frames
// never interleave on the wire.
func (g *Gateway) Run(ctx context.Context) error {
	if g.client == nil {
		return ErrNoClient
	}
	if g.buses[0] == nil {
		return ErrNoBus
	}

	events, clientDone := g.startClientReader(ctx)
	bus0 := g.startBusReader(ctx, 0)
	var bus1 <-chan can.Message // nil channel: the select branch never fires
	if g.buses[1] != nil {
		bus1 = g.startBusReader(ctx, 1)
	}

	g.logger.Info("gateway_running", "buses", g.NumBuses(), "routing", g.routing.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-clientDone:
			g.logger.Info("client_disconnected")
			return nil
		case ev := <-events:
			if err := g.handleClientEvent(ev); err != nil {
				return err
			}
		case msg := <-bus0:
			if err := g.forwardToClient(msg); err != nil {
				return err
			}
		case msg := <-bus1:
			if err := g.forwardToClient(msg); err != nil {
				return err
			}
		}
	}
}

// startClientReader runs the GVRET decoder in its own goroutine. Decode
// results arrive on the returned event channel; the done channel closes
// when the client stream ends.
func (g *Gateway) startClientReader(ctx context.Context) (<-chan gvret.Event, <-chan struct{}) {
	events := make(chan gvret.Event)
	done := make(chan struct{})
	dec := gvret.NewDecoder(g.client, g.NumBuses(), g.start, g.logger)
	go func() {
		defer close(done)
		for {
			ev, err := dec.Next()
			if err != nil {
				if !isClosed(err) {
					g.logger.Error("client_read_error", "error", err)
					metrics.IncError(metrics.ErrClientRead)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, done
}

// startBusReader decodes 13-byte adapter frames from bus i. Malformed
// frames are logged and skipped; the branch re-arms until the stream ends.
func (g *Gateway) startBusReader(ctx context.Context, bus int) <-chan can.Message {
	ch := make(chan can.Message)
	go func() {
		for {
			msg, err := g.codec.Decode(g.buses[bus], uint8(bus))
			if err != nil {
				if isClosed(err) {
					g.logger.Warn("bus_closed", "bus", bus)
					return
				}
				g.logger.Error("bus_read_error", "bus", bus, "error", err)
				metrics.IncError(metrics.ErrBusRead)
				continue
			}
			metrics.IncCanetRx(uint8(bus))
			g.logger.Debug("bus_frame", "bus", bus, "msg", msg.String())
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (g *Gateway) handleClientEvent(ev gvret.Event) error {
	if ev.Frame == nil {
		if _, err := g.client.Write(ev.Response); err != nil {
			metrics.IncError(metrics.ErrClientWrite)
			return fmt.Errorf("%w: %v", ErrClientWrite, err)
		}
		metrics.IncGvretTxResponse()
		return nil
	}
	msg := *ev.Frame
	bus := g.routeBus(msg)
	if int(bus) >= len(g.buses) || g.buses[bus] == nil {
		metrics.IncDropped()
		g.logger.Debug("frame_dropped_no_bus", "bus", bus, "id", fmt.Sprintf("0x%X", msg.ID()))
		return nil
	}
	if _, err := g.codec.EncodeTo(g.buses[bus], msg); err != nil {
		metrics.IncError(metrics.ErrBusWrite)
		return fmt.Errorf("%w: bus %d: %v", ErrBusWrite, bus, err)
	}
	metrics.IncCanetTx(bus)
	g.record(msg, capture.ToBus)
	return nil
}

// routeBus selects the destination adapter connection for a client frame.
func (g *Gateway) routeBus(msg can.Message) uint8 {
	bus := msg.Bus()
	if g.routing == RoutingCompat && bus < 1 {
		bus = 1
	}
	return bus
}

func (g *Gateway) forwardToClient(msg can.Message) error {
	buf := gvret.EncodeFrame(msg, time.Since(g.start))
	if buf == nil {
		return nil
	}
	if _, err := g.client.Write(buf); err != nil {
		metrics.IncError(metrics.ErrClientWrite)
		return fmt.Errorf("%w: %v", ErrClientWrite, err)
	}
	metrics.IncGvretTxFrame()
	g.record(msg, capture.ToClient)
	return nil
}

// record appends msg to the capture log when one is attached. A write
// failure disables capture for the rest of the session; it never aborts
// forwarding.
func (g *Gateway) record(msg can.Message, dir capture.Direction) {
	if g.cap == nil || g.capBroken {
		return
	}
	if err := g.cap.Append(msg, dir, time.Since(g.start)); err != nil {
		g.capBroken = true
		metrics.IncError(metrics.ErrCapture)
		g.logger.Error("capture_disabled", "error", err)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
