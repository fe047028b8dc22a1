// Package sysmetrics implements component H: the broker-wide counters
// (bytes/messages in and out, connected and maximum client counts) and
// the ticker that republishes them as the six retained $SYS/broker/...
// topics (§6), plus an optional /metrics HTTP surface backed by
// prometheus/client_golang.
package sysmetrics

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pyr33x/mqttd/internal/logger"
)

// Counters holds the broker's global counters/gauges. The authoritative
// values are plain atomics (read by the $SYS ticker without touching
// prometheus internals); NewCounters additionally exposes each one to
// a prometheus.Registerer via CounterFunc/GaugeFunc, so /metrics and
// the $SYS topics always agree. Satisfies both session.Metrics
// (AddBytesIn/AddBytesOut) and router.Metrics (AddMsgIn/AddMsgOut)
// structurally.
type Counters struct {
	bytesIn  uint64 // atomic
	bytesOut uint64 // atomic
	msgsIn   uint64 // atomic
	msgsOut  uint64 // atomic

	clientsConnected int64 // atomic
	clientsMaximum   int64 // atomic, high-water mark
}

// NewCounters registers the broker's series against reg (pass
// prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to fold into the process-wide default).
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{}
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "mqttd", Subsystem: "broker", Name: "bytes_received_total"},
			func() float64 { return float64(atomic.LoadUint64(&c.bytesIn)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "mqttd", Subsystem: "broker", Name: "bytes_sent_total"},
			func() float64 { return float64(atomic.LoadUint64(&c.bytesOut)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "mqttd", Subsystem: "broker", Name: "messages_received_total"},
			func() float64 { return float64(atomic.LoadUint64(&c.msgsIn)) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "mqttd", Subsystem: "broker", Name: "messages_sent_total"},
			func() float64 { return float64(atomic.LoadUint64(&c.msgsOut)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "mqttd", Subsystem: "broker", Name: "clients_connected"},
			func() float64 { return float64(atomic.LoadInt64(&c.clientsConnected)) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "mqttd", Subsystem: "broker", Name: "clients_maximum"},
			func() float64 { return float64(atomic.LoadInt64(&c.clientsMaximum)) }),
	)
	return c
}

func (c *Counters) AddBytesIn(n int)  { atomic.AddUint64(&c.bytesIn, uint64(n)) }
func (c *Counters) AddBytesOut(n int) { atomic.AddUint64(&c.bytesOut, uint64(n)) }
func (c *Counters) AddMsgIn()         { atomic.AddUint64(&c.msgsIn, 1) }
func (c *Counters) AddMsgOut()        { atomic.AddUint64(&c.msgsOut, 1) }

// SetClientsConnected records the current connected-client count and
// advances the high-water mark if exceeded.
func (c *Counters) SetClientsConnected(n int) {
	atomic.StoreInt64(&c.clientsConnected, int64(n))
	for {
		cur := atomic.LoadInt64(&c.clientsMaximum)
		if int64(n) <= cur || atomic.CompareAndSwapInt64(&c.clientsMaximum, cur, int64(n)) {
			return
		}
	}
}

func (c *Counters) snapshot() (bytesIn, bytesOut, msgsIn, msgsOut uint64, connected, maximum int64) {
	bytesIn = atomic.LoadUint64(&c.bytesIn)
	bytesOut = atomic.LoadUint64(&c.bytesOut)
	msgsIn = atomic.LoadUint64(&c.msgsIn)
	msgsOut = atomic.LoadUint64(&c.msgsOut)
	connected = atomic.LoadInt64(&c.clientsConnected)
	maximum = atomic.LoadInt64(&c.clientsMaximum)
	return
}

// BrokerPublisher is the subset of router.Router the ticker needs —
// defined locally so this package never imports internal/router.
type BrokerPublisher interface {
	PublishSys(topic string, payload []byte)
}

// Publisher is the $SYS ticker (§6's six topics), firing every
// interval until Stop is called.
type Publisher struct {
	counters *Counters
	out      BrokerPublisher
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisher builds a Publisher; call Start to begin ticking.
func NewPublisher(counters *Counters, out BrokerPublisher, interval time.Duration, log *logger.Logger) *Publisher {
	return &Publisher{counters: counters, out: out, interval: interval, log: log, done: make(chan struct{})}
}

// Start begins the ticker goroutine; it runs until the context passed
// to Start is canceled, or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(ctx)
}

func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	bytesIn, bytesOut, msgsIn, msgsOut, connected, maximum := p.counters.snapshot()

	p.out.PublishSys("$SYS/broker/bytes/received", decimalASCII(bytesIn))
	p.out.PublishSys("$SYS/broker/bytes/sent", decimalASCII(bytesOut))
	p.out.PublishSys("$SYS/broker/messages/received", decimalASCII(msgsIn))
	p.out.PublishSys("$SYS/broker/messages/sent", decimalASCII(msgsOut))
	p.out.PublishSys("$SYS/broker/clients/connected", decimalASCIISigned(connected))
	p.out.PublishSys("$SYS/broker/clients/maximum", decimalASCIISigned(maximum))

	if p.log != nil {
		p.log.Debug("published $SYS topics", logger.Int("clients_connected", int(connected)))
	}
}

func decimalASCII(n uint64) []byte {
	return []byte(strconv.FormatUint(n, 10))
}

func decimalASCIISigned(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

// ServeMetrics starts a /metrics HTTP listener on addr (expected to be
// loopback-only per operator configuration) serving reg's families via
// promhttp; it returns immediately, running the server in its own
// goroutine, and logs (rather than panics) if the listener fails.
func ServeMetrics(addr string, reg *prometheus.Registry, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "metrics server stopped")
		}
	}()
	return srv
}
