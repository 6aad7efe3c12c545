// Package websocket carries replication packets as binary WebSocket frames.
//
// The client passes its auth token and schema fingerprint as the auth and
// schema query parameters of the upgrade request. The server answers 412
// when the fingerprints differ and 401 when verification fails.
package websocket

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/transport"
)

const (
	DefaultPort          = 17923
	DefaultMaxPacketSize = 1200
	DefaultPath          = "/replicate"
)

var (
	ErrUnauthorized   = errors.New("websocket: auth token rejected")
	ErrSchemaMismatch = errors.New("websocket: schema fingerprint mismatch")
)

var (
	_ transport.Transport   = (*Transport)(nil)
	_ transport.SchemaAware = (*Transport)(nil)
)

type Config struct {
	Host          string              `yaml:"host" toml:"host"`
	Port          int                 `yaml:"port" toml:"port"`
	Path          string              `yaml:"path" toml:"path"`
	MaxPacketSize int                 `yaml:"max_packet_size" toml:"max_packet_size"`
	WriteTimeout  time.Duration       `yaml:"write_timeout" toml:"write_timeout"`
	Reconnect     transport.Reconnect `yaml:"reconnect" toml:"reconnect"`
}

func DefaultConfig() Config {
	return Config{
		Host:          "localhost",
		Port:          DefaultPort,
		Path:          DefaultPath,
		MaxPacketSize: DefaultMaxPacketSize,
		WriteTimeout:  5 * time.Second,
		Reconnect:     transport.DefaultReconnect(),
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func formatFingerprint(fp uint64) string { return strconv.FormatUint(fp, 16) }

// Transport is a WebSocket server, client, or both.
type Transport struct {
	cfg      Config
	logger   log.Log
	upgrader websocket.Upgrader

	mu          sync.Mutex
	fingerprint uint64
	verify      transport.VerifyFunc
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
	stopping    bool
	live        map[*channel]struct{}
	backlog     transport.Backlog
	wg          sync.WaitGroup
}

func New(cfg Config, logger log.Log) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger.With(log.String("transport", "websocket")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.MaxPacketSize,
			WriteBufferSize: cfg.MaxPacketSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		live: make(map[*channel]struct{}),
	}
}

func (t *Transport) MaxPacketSize() int { return t.cfg.MaxPacketSize }

func (t *Transport) SetSchemaFingerprint(fp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fingerprint = fp
}

// Addr is the bound listen address once the server has started.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) StartServer(_ context.Context, verify transport.VerifyFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.server != nil {
		return transport.ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", t.cfg.Addr())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", t.cfg.Addr())
	}

	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, t.handleUpgrade)
	t.verify = verify
	t.listener = ln
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	srv := t.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("WebSocket server error", log.Error(err))
		}
	}()

	t.logger.Info("WebSocket server started", log.String("address", ln.Addr().String()))
	return nil
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("auth")

	t.mu.Lock()
	fp, verify := t.fingerprint, t.verify
	t.mu.Unlock()

	if q.Get("schema") != formatFingerprint(fp) {
		t.logger.Warn("Refused client with different schema",
			log.String("remote", r.RemoteAddr),
			log.String("schema", q.Get("schema")),
		)
		http.Error(w, ErrSchemaMismatch.Error(), http.StatusPreconditionFailed)
		return
	}
	if verify != nil {
		ok, err := verify(r.Context(), token)
		if err != nil {
			t.logger.Warn("Auth token verification failed", log.String("remote", r.RemoteAddr), log.Error(err))
		}
		if err != nil || !ok {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("WebSocket upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
		return
	}
	t.register(newChannel(conn, token, t.cfg))
	t.logger.Debug("Client connected", log.String("remote", r.RemoteAddr))
}

// register tracks ch until its read pump exits and queues it for
// AcceptConnection.
func (t *Transport) register(ch *channel) {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		_ = ch.Close()
		return
	}
	t.live[ch] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		ch.readPump()

		t.mu.Lock()
		delete(t.live, ch)
		t.mu.Unlock()
	}()
	t.backlog.Push(ch)
}

// StartClient dials the server once and keeps redialing with backoff after
// the link drops, until Stop. Rejections by the server are not retried.
func (t *Transport) StartClient(ctx context.Context, authToken string) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return transport.ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.mu.Unlock()

	ch, err := t.dial(ctx, authToken)
	if err != nil {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
		cancel()

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	t.wg.Add(1)
	go t.maintain(runCtx, authToken, ch)
	return nil
}

func (t *Transport) dial(ctx context.Context, authToken string) (*channel, error) {
	t.mu.Lock()
	fp := t.fingerprint
	t.mu.Unlock()

	u := url.URL{
		Scheme: "ws",
		Host:   t.cfg.Addr(),
		Path:   t.cfg.Path,
		RawQuery: url.Values{
			"auth":   {authToken},
			"schema": {formatFingerprint(fp)},
		}.Encode(),
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   t.cfg.MaxPacketSize,
		WriteBufferSize:  t.cfg.MaxPacketSize,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, backoff.Permanent(ErrUnauthorized)
			case http.StatusPreconditionFailed:
				return nil, backoff.Permanent(ErrSchemaMismatch)
			}
		}
		return nil, errors.Wrapf(err, "dial %s", u.Host)
	}

	ch := newChannel(conn, transport.ServerToken, t.cfg)
	t.register(ch)
	return ch, nil
}

// maintain waits for ch to drop and redials until ctx is cancelled.
func (t *Transport) maintain(ctx context.Context, authToken string, ch *channel) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.done:
		}
		t.logger.Info("Link to server lost, reconnecting")

		var next *channel
		err := backoff.RetryNotify(func() error {
			var err error
			next, err = t.dial(ctx, authToken)
			return err
		}, backoff.WithContext(t.cfg.Reconnect.BackOff(), ctx), func(err error, wait time.Duration) {
			t.logger.Warn("Reconnect failed", log.Duration("retry_in", wait), log.Error(err))
		})
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Error("Giving up reconnecting", log.Error(err))
			}
			return
		}
		t.logger.Info("Reconnected to server")
		ch = next
	}
}

// Stop shuts down the server and the reconnect loop and closes every link.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	srv, cancel := t.server, t.cancel
	t.server, t.listener, t.cancel = nil, nil, nil
	t.stopping = true
	live := make([]*channel, 0, len(t.live))
	for ch := range t.live {
		live = append(live, ch)
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, ch := range live {
		_ = ch.Close()
	}
	t.wg.Wait()
	t.backlog.Drain()

	t.mu.Lock()
	t.stopping = false
	t.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "failed to shutdown HTTP server")
	}
	return nil
}

func (t *Transport) AcceptConnection() transport.Channel {
	return t.backlog.Pop()
}
