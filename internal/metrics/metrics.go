package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canbridge/gvret-canet-gateway/internal/logging"
)

// Prometheus collectors
var (
	GvretRxCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gvret_rx_commands_total",
		Help: "Total GVRET commands received from the analysis client.",
	})
	GvretRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gvret_rx_frames_total",
		Help: "Total CAN frames built from client BuildCanFrame commands.",
	})
	GvretTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gvret_tx_frames_total",
		Help: "Total CAN frames forwarded to the analysis client.",
	})
	GvretTxResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gvret_tx_responses_total",
		Help: "Total command responses written back to the analysis client.",
	})
	CanetRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canet_rx_frames_total",
		Help: "Total adapter frames decoded, per bus.",
	}, []string{"bus"})
	CanetTxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canet_tx_frames_total",
		Help: "Total adapter frames written, per bus.",
	}, []string{"bus"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid id range, invalid DLC).",
	})
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropped_frames_total",
		Help: "Total frames dropped because the routed bus connection is absent.",
	})
	CaptureRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_records_total",
		Help: "Total frames appended to the capture log.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrClientRead  = "client_read"
	ErrClientWrite = "client_write"
	ErrBusRead     = "bus_read"
	ErrBusWrite    = "bus_write"
	ErrDial        = "dial"
	ErrCapture     = "capture"
)

// Local mirrored counters for periodic logging without scraping Prometheus
// in-process.
var (
	localGvretRxCmd  uint64
	localGvretRxFr   uint64
	localGvretTxFr   uint64
	localGvretTxResp uint64
	localCanetRx     uint64
	localCanetTx     uint64
	localMalformed   uint64
	localDropped     uint64
	localCaptured    uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	GvretRxCommands  uint64
	GvretRxFrames    uint64
	GvretTxFrames    uint64
	GvretTxResponses uint64
	CanetRx          uint64
	CanetTx          uint64
	Malformed        uint64
	Dropped          uint64
	Captured         uint64
	Errors           uint64
}

func Snap() Snapshot {
	return Snapshot{
		GvretRxCommands:  atomic.LoadUint64(&localGvretRxCmd),
		GvretRxFrames:    atomic.LoadUint64(&localGvretRxFr),
		GvretTxFrames:    atomic.LoadUint64(&localGvretTxFr),
		GvretTxResponses: atomic.LoadUint64(&localGvretTxResp),
		CanetRx:          atomic.LoadUint64(&localCanetRx),
		CanetTx:          atomic.LoadUint64(&localCanetTx),
		Malformed:        atomic.LoadUint64(&localMalformed),
		Dropped:          atomic.LoadUint64(&localDropped),
		Captured:         atomic.LoadUint64(&localCaptured),
		Errors:           atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncGvretRxCommand() {
	GvretRxCommands.Inc()
	atomic.AddUint64(&localGvretRxCmd, 1)
}

func IncGvretRxFrame() {
	GvretRxFrames.Inc()
	atomic.AddUint64(&localGvretRxFr, 1)
}

func IncGvretTxFrame() {
	GvretTxFrames.Inc()
	atomic.AddUint64(&localGvretTxFr, 1)
}

func IncGvretTxResponse() {
	GvretTxResponses.Inc()
	atomic.AddUint64(&localGvretTxResp, 1)
}

func IncCanetRx(bus uint8) {
	CanetRxFrames.WithLabelValues(strconv.Itoa(int(bus))).Inc()
	atomic.AddUint64(&localCanetRx, 1)
}

func IncCanetTx(bus uint8) {
	CanetTxFrames.WithLabelValues(strconv.Itoa(int(bus))).Inc()
	atomic.AddUint64(&localCanetTx, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncDropped() {
	DroppedFrames.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncCaptured() {
	CaptureRecords.Inc()
	atomic.AddUint64(&localCaptured, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers the error label
// series so the first error does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrClientRead, ErrClientWrite,
		ErrBusRead, ErrBusWrite,
		ErrDial, ErrCapture,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// SetReadinessFunc registers the function backing /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: treat as ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
