// Package quic carries replication packets over one bidirectional QUIC
// stream per connection, each packet framed by a little-endian uint32 length.
//
// The client opens the stream with a hello frame holding its schema
// fingerprint and auth token. The server answers with a single zero byte
// frame, or closes the connection with codeSchemaMismatch or
// codeUnauthorized.
package quic

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/replicate/internal/core/observability/log"
	"github.com/zeusync/replicate/internal/core/transport"
)

const (
	DefaultPort          = 17924
	DefaultMaxPacketSize = 1200
)

const (
	codeClosed quic.ApplicationErrorCode = iota
	codeUnauthorized
	codeSchemaMismatch
	codeBadHello
)

var (
	ErrUnauthorized   = errors.New("quic: auth token rejected")
	ErrSchemaMismatch = errors.New("quic: schema fingerprint mismatch")
)

var (
	_ transport.Transport   = (*Transport)(nil)
	_ transport.SchemaAware = (*Transport)(nil)
)

type Config struct {
	Host             string              `yaml:"host" toml:"host"`
	Port             int                 `yaml:"port" toml:"port"`
	MaxPacketSize    int                 `yaml:"max_packet_size" toml:"max_packet_size"`
	IdleTimeout      time.Duration       `yaml:"idle_timeout" toml:"idle_timeout"`
	HandshakeTimeout time.Duration       `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout     time.Duration       `yaml:"write_timeout" toml:"write_timeout"`
	Reconnect        transport.Reconnect `yaml:"reconnect" toml:"reconnect"`
}

func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		Port:             DefaultPort,
		MaxPacketSize:    DefaultMaxPacketSize,
		IdleTimeout:      30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		Reconnect:        transport.DefaultReconnect(),
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        c.IdleTimeout,
		KeepAlivePeriod:       c.IdleTimeout / 2,
		HandshakeIdleTimeout:  c.HandshakeTimeout,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

// Transport is a QUIC server, client, or both.
type Transport struct {
	cfg    Config
	logger log.Log

	mu          sync.Mutex
	fingerprint uint64
	verify      transport.VerifyFunc
	listener    *quic.Listener
	cancel      context.CancelFunc
	stopping    bool
	live        map[*channel]struct{}
	backlog     transport.Backlog
	wg          sync.WaitGroup
}

func New(cfg Config, logger log.Log) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger.With(log.String("transport", "quic")),
		live:   make(map[*channel]struct{}),
	}
}

func (t *Transport) MaxPacketSize() int { return t.cfg.MaxPacketSize }

func (t *Transport) SetSchemaFingerprint(fp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fingerprint = fp
}

// Addr is the bound UDP address once the server has started.
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

	if t.listener != nil {
		return transport.ErrAlreadyStarted
	}
	tlsConf, err := selfSignedTLS(t.cfg.Host)
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(t.cfg.Addr(), tlsConf, t.cfg.quicConfig())
	if err != nil {
		return errors.Wrapf(err, "listen on %s", t.cfg.Addr())
	}
	t.listener = ln
	t.verify = verify

	t.wg.Add(1)
	go t.acceptLoop(ln)

	t.logger.Info("QUIC server started", log.String("address", ln.Addr().String()))
	return nil
}

func (t *Transport) acceptLoop(ln *quic.Listener) {
	defer t.wg.Done()

	for {
		conn, err := ln.Accept(context.Background())
		if err != nil {
			if !errors.Is(err, quic.ErrServerClosed) {
				t.logger.Error("QUIC accept failed", log.Error(err))
			}
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handshake(conn)
		}()
	}
}

// handshake reads the hello frame and admits or refuses the client.
func (t *Transport) handshake(conn *quic.Conn) {
	remote := log.String("remote", conn.RemoteAddr().String())
	ctx, cancel := context.WithTimeout(conn.Context(), t.cfg.HandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		t.logger.Warn("Client opened no stream", remote, log.Error(err))
		_ = conn.CloseWithError(codeBadHello, "no stream")
		return
	}
	_ = stream.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	p, err := readFrame(stream, t.cfg.MaxPacketSize)
	if err == nil {
		_ = stream.SetReadDeadline(time.Time{})
	}
	var h hello
	if err == nil {
		h, err = parseHello(p)
	}
	if err != nil {
		t.logger.Warn("Bad hello frame", remote, log.Error(err))
		_ = conn.CloseWithError(codeBadHello, "bad hello")
		return
	}

	t.mu.Lock()
	fp, verify := t.fingerprint, t.verify
	t.mu.Unlock()

	if h.fingerprint != fp {
		t.logger.Warn("Refused client with different schema", remote, log.Uint64("schema", h.fingerprint))
		_ = conn.CloseWithError(codeSchemaMismatch, "schema mismatch")
		return
	}
	if verify != nil {
		ok, err := verify(ctx, h.token)
		if err != nil {
			t.logger.Warn("Auth token verification failed", remote, log.Error(err))
		}
		if err != nil || !ok {
			_ = conn.CloseWithError(codeUnauthorized, "unauthorized")
			return
		}
	}

	if _, err := stream.Write(appendFrame(nil, nil)); err != nil {
		t.logger.Warn("Failed to acknowledge hello", remote, log.Error(err))
		_ = conn.CloseWithError(codeClosed, "")
		return
	}
	t.register(newChannel(conn, stream, h.token, t.cfg))
	t.logger.Debug("Client connected", remote)
}

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

	conn, err := quic.DialAddr(ctx, t.cfg.Addr(), clientTLS(), t.cfg.quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", t.cfg.Addr())
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeClosed, "")
		return nil, errors.Wrap(err, "open stream")
	}

	_ = stream.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	_, err = stream.Write(appendFrame(nil, hello{fingerprint: fp, token: authToken}.marshal()))
	if err == nil {
		_, err = readFrame(stream, 0)
	}
	if err != nil {
		_ = conn.CloseWithError(codeClosed, "")
		var appErr *quic.ApplicationError
		if errors.As(err, &appErr) && appErr.Remote {
			switch appErr.ErrorCode {
			case codeUnauthorized:
				return nil, backoff.Permanent(ErrUnauthorized)
			case codeSchemaMismatch:
				return nil, backoff.Permanent(ErrSchemaMismatch)
			}
		}
		return nil, errors.Wrap(err, "handshake")
	}
	_ = stream.SetDeadline(time.Time{})

	ch := newChannel(conn, stream, transport.ServerToken, t.cfg)
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

// Stop closes the listener and the reconnect loop and every link.
func (t *Transport) Stop(context.Context) error {
	t.mu.Lock()
	ln, cancel := t.listener, t.cancel
	t.listener, t.cancel = nil, nil
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
	if ln != nil {
		err = ln.Close()
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
		return errors.Wrap(err, "failed to close QUIC listener")
	}
	return nil
}

func (t *Transport) AcceptConnection() transport.Channel {
	return t.backlog.Pop()
}
