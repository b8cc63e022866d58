package gvret

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/canbridge/gvret-canet-gateway/internal/can"
	"github.com/canbridge/gvret-canet-gateway/internal/logging"
	"github.com/canbridge/gvret-canet-gateway/internal/metrics"
)

// ErrNotImplemented marks commands the gateway deliberately does not
// support (I/O, CAN-FD, bus setup). The decoder treats them as recoverable.
var ErrNotImplemented = errors.New("gvret: command not implemented")

// Event is the decoder's single result type: exactly one of Frame or
// Response is set. A Frame is forwarded to an adapter bus; a Response is
// written straight back to the client.
type Event struct {
	Frame    *can.Message
	Response []byte
}

// Decoder consumes the analysis-client byte stream one byte at a time,
// tracking the handshake mode and dispatching 0xF1 commands. It owns the
// Mode for its connection; nothing else mutates it.
type Decoder struct {
	r      io.Reader
	mode   Mode
	buses  uint8
	start  time.Time
	logger *slog.Logger
}

// NewDecoder wraps the client stream. buses is the number of configured
// adapter connections (1 or 2); start anchors the microsecond timestamps
// in TimeSync replies.
func NewDecoder(r io.Reader, buses uint8, start time.Time, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = logging.L()
	}
	if buses == 0 {
		buses = 1
	}
	return &Decoder{r: r, mode: ModeInit, buses: buses, start: start, logger: logger}
}

// Mode returns the current handshake mode.
func (d *Decoder) Mode() Mode { return d.mode }

// Next blocks until one full decoder cycle completes and returns its Event.
// Stray bytes are skipped (resynchronization); the binary handshake marker
// is consumed at most once. A truncated command is logged and abandoned
// without corrupting subsequent parsing; only errors on the outer byte read
// (EOF, closed connection) are returned.
func (d *Decoder) Next() (Event, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(d.r, b[:]); err != nil {
			return Event{}, err
		}
		switch {
		case b[0] == BinaryMarker && d.mode == ModeInit:
			d.mode = ModeBinary
			d.logger.Info("handshake_complete")
			continue
		case b[0] != CommandMarker:
			continue
		}
		ev, err := d.dispatch()
		if err != nil {
			d.logger.Error("command_aborted", "error", err)
			metrics.IncError(metrics.ErrClientRead)
			continue
		}
		return ev, nil
	}
}

func (d *Decoder) dispatch() (Event, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return Event{}, fmt.Errorf("read command: %w", err)
	}
	cmd := commandOf(b[0])
	metrics.IncGvretRxCommand()
	d.logger.Debug("command", "cmd", cmd.String())
	switch cmd {
	case BuildCanFrame:
		msg, err := d.readFrame()
		if err != nil {
			return Event{}, err
		}
		metrics.IncGvretRxFrame()
		return Event{Frame: &msg}, nil
	case TimeSync:
		return Event{Response: timeSyncReply(time.Since(d.start))}, nil
	case GetCanBusParams:
		return Event{Response: canBusParamsReply(d.buses > 1)}, nil
	case GetDevInfo:
		return Event{Response: devInfoReply()}, nil
	case KeepAlive:
		return Event{Response: keepAliveReply()}, nil
	case GetNumBuses:
		return Event{Response: numBusesReply(d.buses)}, nil
	case GetExtBuses:
		return Event{Response: extBusesReply()}, nil
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrNotImplemented, cmd)
	}
}

// readFrame parses the BuildCanFrame body: a 6-byte header followed by up
// to 8 payload bytes. Header bytes 0-3 hold the identifier little-endian
// with bit 31 marking an extended ID, byte 4 the bus index (low 2 bits),
// byte 5 the DLC (low nibble, capped at 8).
func (d *Decoder) readFrame() (can.Message, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return can.Message{}, fmt.Errorf("read frame header: %w", err)
	}
	dlc := hdr[5] & 0x0F
	if dlc > can.MaxDLC {
		dlc = can.MaxDLC
	}
	data := make([]byte, dlc)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return can.Message{}, fmt.Errorf("read frame payload: %w", err)
	}
	id := binary.LittleEndian.Uint32(hdr[0:4])
	extID := id > can.StdIDMask
	if extID {
		id &^= 1 << 31
	}
	bus := hdr[4] & 0x03
	msg, err := can.NewData(bus, id, extID, data)
	if err != nil {
		metrics.IncMalformed()
		return can.Message{}, fmt.Errorf("build frame: %w", err)
	}
	return msg, nil
}
