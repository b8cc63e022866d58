// Package capture appends forwarded CAN traffic to a CBOR stream file so
// sessions can be replayed or post-processed offline.
package capture

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/canbridge/gvret-canet-gateway/internal/can"
	"github.com/canbridge/gvret-canet-gateway/internal/metrics"
)

// Direction of a captured frame relative to the gateway.
type Direction string

const (
	ToBus    Direction = "to_bus"
	ToClient Direction = "to_client"
)

// Record is one captured frame, encoded as one CBOR map per forwarded
// frame.
type Record struct {
	Micros uint32    `cbor:"ts"`
	Dir    Direction `cbor:"dir"`
	Bus    uint8     `cbor:"bus"`
	ID     uint32    `cbor:"id"`
	Ext    bool      `cbor:"ext"`
	RTR    bool      `cbor:"rtr"`
	DLC    uint8     `cbor:"dlc"`
	Data   []byte    `cbor:"data,omitempty"`
}

// Writer appends frame records to a capture stream. Not safe for
// concurrent use; the gateway loop is its only caller.
type Writer struct {
	c   io.Closer
	enc *cbor.Encoder
}

// Open creates or appends to the capture file at path.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture open: %w", err)
	}
	return NewWriter(f), nil
}

// NewWriter wraps an already-open stream. The stream is closed by Close
// if it implements io.Closer.
func NewWriter(w io.Writer) *Writer {
	cw := &Writer{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	return cw
}

// Append records one forwarded frame.
func (w *Writer) Append(msg can.Message, dir Direction, elapsed time.Duration) error {
	rec := Record{
		Micros: uint32(elapsed.Microseconds()),
		Dir:    dir,
		Bus:    msg.Bus(),
		ID:     msg.ID(),
		Ext:    msg.ExtID(),
		RTR:    msg.IsRemote(),
		DLC:    msg.DLC(),
		Data:   msg.Data(),
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture encode: %w", err)
	}
	metrics.IncCaptured()
	return nil
}

// Close releases the underlying stream.
func (w *Writer) Close() error {
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}
