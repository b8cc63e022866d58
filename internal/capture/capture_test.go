package capture

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/canbridge/gvret-canet-gateway/internal/can"
)

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	data, err := can.NewData(0, 0x123, false, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	rem, err := can.NewRemote(1, 0x1ABCDE, true, 4)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	if err := w.Append(data, ToClient, 10*time.Microsecond); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append(rem, ToBus, 20*time.Microsecond); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec := cbor.NewDecoder(&buf)
	var first, second Record
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	var extra Record
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Fatalf("want EOF after two records, got %v", err)
	}

	if first.Micros != 10 || first.Dir != ToClient || first.ID != 0x123 || first.Ext || first.RTR {
		t.Fatalf("first record = %+v", first)
	}
	if !bytes.Equal(first.Data, []byte{1, 2, 3}) {
		t.Fatalf("first data = % X", first.Data)
	}
	if second.Dir != ToBus || second.ID != 0x1ABCDE || !second.Ext || !second.RTR || second.DLC != 4 {
		t.Fatalf("second record = %+v", second)
	}
	if second.Data != nil {
		t.Fatalf("remote record carries data: % X", second.Data)
	}
}

func TestOpenAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	msg, err := can.NewData(0, 0x55, false, []byte{0xFE})
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	for i := 0; i < 2; i++ {
		w, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := w.Append(msg, ToBus, time.Duration(i)*time.Microsecond); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	// Reopening must append, not truncate.
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	defer f.Close()
	dec := cbor.NewDecoder(f)
	var n int
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("decode: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("records = %d, want 2", n)
	}
}
