package canet

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// DefaultBaud is used for serial endpoints that do not specify one.
const DefaultBaud = 115200

const serialScheme = "serial:"

// Dial opens an adapter endpoint. "host:port" dials TCP;
// "serial:<device>" or "serial:<device>?baud=N" opens a serial port
// carrying the same 13-byte framing (CANET-232 style adapters).
func Dial(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	if strings.HasPrefix(addr, serialScheme) {
		return openSerial(strings.TrimPrefix(addr, serialScheme))
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("canet dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	return conn, nil
}

func openSerial(spec string) (io.ReadWriteCloser, error) {
	dev := spec
	baud := DefaultBaud
	if i := strings.IndexByte(spec, '?'); i >= 0 {
		dev = spec[:i]
		q, err := url.ParseQuery(spec[i+1:])
		if err != nil {
			return nil, fmt.Errorf("canet serial options: %w", err)
		}
		if v := q.Get("baud"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("canet serial: invalid baud %q", v)
			}
			baud = n
		}
	}
	if dev == "" {
		return nil, fmt.Errorf("canet serial: empty device")
	}
	port, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("canet serial open %s: %w", dev, err)
	}
	return port, nil
}
