// Package canet implements the fixed-length binary framing spoken by
// CANET-style CAN-to-Ethernet adapters: 13 bytes per frame, one TCP (or
// serial) connection per physical CAN bus.
package canet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/canbridge/gvret-canet-gateway/internal/can"
	"github.com/canbridge/gvret-canet-gateway/internal/metrics"
)

// FrameLen is the fixed adapter wire frame size.
const FrameLen = 13

// Byte 0 layout: bit 7 extended-ID flag, bit 6 remote flag, bits 3-0 DLC.
const (
	flagExtID  = 0x80
	flagRemote = 0x40
	dlcMask    = 0x0F
)

// ErrMalformedFrame is returned when a decoded frame violates the CAN
// invariants (DLC above 8 or an out-of-range identifier).
var ErrMalformedFrame = errors.New("canet: malformed frame")

// Codec encodes/decodes adapter frames. Stateless and safe for concurrent
// use; the bus tag is supplied per call because the wire format carries
// none.
type Codec struct{}

// Decode reads exactly one 13-byte frame from r and tags it with bus, the
// index of the physical connection it arrived on.
func (Codec) Decode(r io.Reader, bus uint8) (can.Message, error) {
	var buf [FrameLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return can.Message{}, err
	}
	extID := buf[0]&flagExtID != 0
	dlc := buf[0] & dlcMask
	id := binary.BigEndian.Uint32(buf[1:5])
	if dlc > can.MaxDLC {
		metrics.IncMalformed()
		return can.Message{}, fmt.Errorf("%w: dlc %d", ErrMalformedFrame, dlc)
	}
	var (
		msg can.Message
		err error
	)
	if buf[0]&flagRemote != 0 {
		msg, err = can.NewRemote(bus, id, extID, dlc)
	} else {
		msg, err = can.NewData(bus, id, extID, buf[5:5+int(dlc)])
	}
	if err != nil {
		metrics.IncMalformed()
		return can.Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}

// Encode packs msg into the 13-byte wire layout. The payload region is
// zero-padded past the DLC; remote frames carry the DLC but no payload.
func (Codec) Encode(msg can.Message) [FrameLen]byte {
	var buf [FrameLen]byte
	buf[0] = msg.DLC() & dlcMask
	if msg.ExtID() {
		buf[0] |= flagExtID
	}
	if msg.IsRemote() {
		buf[0] |= flagRemote
	}
	binary.BigEndian.PutUint32(buf[1:5], msg.ID())
	copy(buf[5:], msg.Data())
	return buf
}

// EncodeTo writes the wire representation of msg to w.
func (c Codec) EncodeTo(w io.Writer, msg can.Message) (int, error) {
	buf := c.Encode(msg)
	n, err := w.Write(buf[:])
	if err != nil {
		return n, fmt.Errorf("canet encode: %w", err)
	}
	return n, nil
}

// FrameDecoder is the per-bus decode capability the gateway consumes.
type FrameDecoder interface {
	Decode(r io.Reader, bus uint8) (can.Message, error)
}

var _ FrameDecoder = Codec{}
