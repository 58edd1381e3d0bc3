package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-mcp25xx/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SPITransfers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spi_transactions_total",
		Help: "Total chip-select framed SPI transactions issued to the controller.",
	})
	ChipRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chip_rx_frames_total",
		Help: "Total CAN frames read from controller receive FIFOs.",
	})
	ChipTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chip_tx_frames_total",
		Help: "Total CAN frames queued into controller transmit FIFOs.",
	})
	ChipFIFOFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chip_tx_fifo_full_total",
		Help: "Total transmit attempts rejected because the FIFO (or all TX buffers) was full.",
	})
	ChipBusErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chip_bus_errors_total",
		Help: "Total CAN bus error interrupts observed and cleared.",
	})
	ChipRxErrorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chip_rx_error_counter",
		Help: "Last sampled receive error counter (REC).",
	})
	ChipTxErrorCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chip_tx_error_counter",
		Help: "Last sampled transmit error counter (TEC).",
	})
	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tx_retries_total",
		Help: "Total transmit retries after the controller reported a full queue.",
	})
	TxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tx_dropped_total",
		Help: "Total frames dropped after exhausting transmit retries.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames mirrored to the SocketCAN interface.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface for transmission.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to TCP clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued frames among clients since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in last sample.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date", "chip"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSPI            = "spi"
	ErrSPICRC         = "spi_crc"
	ErrChipRead       = "chip_read"
	ErrChipWrite      = "chip_write"
	ErrChipOverflow   = "chip_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrIRQ            = "irq"
)

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

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSPI         uint64
	localChipRx      uint64
	localChipTx      uint64
	localFIFOFull    uint64
	localBusErrors   uint64
	localREC         uint64
	localTEC         uint64
	localTxRetry     uint64
	localTxDrop      uint64
	localSocketCANTx uint64
	localSocketCANRx uint64
	localTCPRx       uint64
	localTCPTx       uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubReject   uint64
	localErrors      uint64
	localHubClients  uint64
	localFanout      uint64
	localMalformed   uint64
	localQDMax       uint64
	localQDAvg       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SPITransfers  uint64
	ChipRx        uint64
	ChipTx        uint64
	FIFOFull      uint64
	BusErrors     uint64
	REC           uint64
	TEC           uint64
	TxRetries     uint64
	TxDropped     uint64
	SocketCANTx   uint64
	SocketCANRx   uint64
	TCPRx         uint64
	TCPTx         uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	return Snapshot{
		SPITransfers:  atomic.LoadUint64(&localSPI),
		ChipRx:        atomic.LoadUint64(&localChipRx),
		ChipTx:        atomic.LoadUint64(&localChipTx),
		FIFOFull:      atomic.LoadUint64(&localFIFOFull),
		BusErrors:     atomic.LoadUint64(&localBusErrors),
		REC:           atomic.LoadUint64(&localREC),
		TEC:           atomic.LoadUint64(&localTEC),
		TxRetries:     atomic.LoadUint64(&localTxRetry),
		TxDropped:     atomic.LoadUint64(&localTxDrop),
		SocketCANTx:   atomic.LoadUint64(&localSocketCANTx),
		SocketCANRx:   atomic.LoadUint64(&localSocketCANRx),
		TCPRx:         atomic.LoadUint64(&localTCPRx),
		TCPTx:         atomic.LoadUint64(&localTCPTx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		Errors:        atomic.LoadUint64(&localErrors),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		Malformed:     atomic.LoadUint64(&localMalformed),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSPITransfer() {
	SPITransfers.Inc()
	atomic.AddUint64(&localSPI, 1)
}

func IncChipRx() {
	ChipRxFrames.Inc()
	atomic.AddUint64(&localChipRx, 1)
}

func IncChipTx() {
	ChipTxFrames.Inc()
	atomic.AddUint64(&localChipTx, 1)
}

func IncFIFOFull() {
	ChipFIFOFull.Inc()
	atomic.AddUint64(&localFIFOFull, 1)
}

func IncBusError() {
	ChipBusErrors.Inc()
	atomic.AddUint64(&localBusErrors, 1)
}

// SetErrorCounters records the controller's REC/TEC sample.
func SetErrorCounters(rec, tec uint8) {
	ChipRxErrorCount.Set(float64(rec))
	ChipTxErrorCount.Set(float64(tec))
	atomic.StoreUint64(&localREC, uint64(rec))
	atomic.StoreUint64(&localTEC, uint64(tec))
}

func IncTxRetry() {
	TxRetries.Inc()
	atomic.AddUint64(&localTxRetry, 1)
}

func IncTxDropped() {
	TxDropped.Inc()
	atomic.AddUint64(&localTxDrop, 1)
}

// IncSocketCANTx increments SocketCAN mirror counters.
func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date, chip string) {
	BuildInfo.WithLabelValues(version, commit, date, chip).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSPI, ErrSPICRC, ErrChipRead, ErrChipWrite, ErrChipOverflow,
		ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver, ErrIRQ,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
