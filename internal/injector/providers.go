package injector

import (
	"github.com/google/wire"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/replicate/internal/config"
	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/observability/metrics"
	"github.com/zeusync/replicate/internal/core/replication"
	"github.com/zeusync/replicate/internal/core/schema"
	"github.com/zeusync/replicate/internal/core/store"
	"github.com/zeusync/replicate/internal/core/store/memory"
	"github.com/zeusync/replicate/internal/core/transport"
	"github.com/zeusync/replicate/internal/core/transport/quic"
	"github.com/zeusync/replicate/internal/core/transport/websocket"
	"github.com/zeusync/replicate/internal/demo"
)

var ErrUnknownTransport = errors.New("injector: unknown transport")

// App is everything a replicator process runs.
type App struct {
	Config     config.Config
	Logger     log.Log
	Store      *memory.Store
	Registry   *schema.Registry
	Metrics    *prometheus.Registry
	Transport  transport.Transport
	Replicator *replication.Replicator
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideStore,
	wire.Bind(new(store.Store), new(*memory.Store)),
	demo.Registry,
	ProvidePrometheus,
	ProvideMetrics,
	ProvideTransport,
	ProvideReplicator,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.New(log.ParseLevel(cfg.Log.Level))
}

func ProvideStore() *memory.Store {
	return memory.New()
}

func ProvidePrometheus() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func ProvideTransport(cfg config.Config, logger log.Log) (transport.Transport, error) {
	switch cfg.Replicator.Transport {
	case config.TransportWebSocket:
		return websocket.New(cfg.WebSocket, logger), nil
	case config.TransportQUIC:
		return quic.New(cfg.QUIC, logger), nil
	default:
		return nil, errors.Wrapf(ErrUnknownTransport, "%q", cfg.Replicator.Transport)
	}
}

func ProvideReplicator(
	cfg config.Config,
	st store.Store,
	registry *schema.Registry,
	tr transport.Transport,
	m *metrics.Metrics,
	logger log.Log,
) *replication.Replicator {
	return replication.New(st, registry,
		replication.WithLogger(logger),
		replication.WithMetrics(m),
		replication.WithScratchSize(cfg.Replicator.ScratchSize),
	).AddTransport(tr)
}
