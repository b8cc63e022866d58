package can

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewDataIDBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		id    uint32
		extID bool
		ok    bool
	}{
		{"std_max", StdIDMask, false, true},
		{"std_over", StdIDMask + 1, false, false},
		{"ext_max", ExtIDMask, true, true},
		{"ext_over", ExtIDMask + 1, true, false},
		{"zero_std", 0, false, true},
		{"zero_ext", 0, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewData(0, tc.id, tc.extID, nil)
			if tc.ok && err != nil {
				t.Fatalf("NewData(0x%X, ext=%t): unexpected error %v", tc.id, tc.extID, err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrIDTooLong) {
					t.Fatalf("NewData(0x%X, ext=%t): want ErrIDTooLong, got %v", tc.id, tc.extID, err)
				}
			}
			// Remote construction follows the same ID rules.
			_, err = NewRemote(0, tc.id, tc.extID, 0)
			if tc.ok != (err == nil) {
				t.Fatalf("NewRemote(0x%X, ext=%t): ok=%t, err=%v", tc.id, tc.extID, tc.ok, err)
			}
		})
	}
}

func TestNewDataLengths(t *testing.T) {
	for n := 0; n <= MaxDLC; n++ {
		msg, err := NewData(1, 0x123, false, make([]byte, n))
		if err != nil {
			t.Fatalf("len %d: unexpected error %v", n, err)
		}
		if int(msg.DLC()) != n {
			t.Fatalf("len %d: dlc = %d", n, msg.DLC())
		}
	}
	if _, err := NewData(1, 0x123, false, make([]byte, MaxDLC+1)); !errors.Is(err, ErrDataTooLong) {
		t.Fatalf("len 9: want ErrDataTooLong, got %v", err)
	}
	if _, err := NewRemote(1, 0x123, false, MaxDLC+1); !errors.Is(err, ErrDataTooLong) {
		t.Fatalf("remote dlc 9: want ErrDataTooLong, got %v", err)
	}
}

func TestMessageAccessors(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	msg, err := NewData(1, 0x1ABCDE, true, payload)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	if msg.Bus() != 1 || msg.ID() != 0x1ABCDE || !msg.ExtID() || msg.IsRemote() {
		t.Fatalf("accessors mismatch: %s", msg)
	}
	if !bytes.Equal(msg.Data(), payload) {
		t.Fatalf("data = % X", msg.Data())
	}
	// The constructor copies; mutating the source must not leak in.
	payload[0] = 0x00
	if msg.Data()[0] != 0xAA {
		t.Fatalf("payload not copied")
	}

	rem, err := NewRemote(0, 0x7FF, false, 4)
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	if !rem.IsRemote() || rem.DLC() != 4 {
		t.Fatalf("remote accessors mismatch: %s", rem)
	}
	if rem.Data() != nil {
		t.Fatalf("remote frame must have nil payload")
	}
}
