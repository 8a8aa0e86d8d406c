package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/principal"
	ed25519 "github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/poe/internal/telemetry"
	"github.com/storacha/poe/pkg/dispatch"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/metrics"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/registry"
)

var log = logging.Logger("server")

const shutdownTimeout = 5 * time.Second

type config struct {
	id       principal.Signer
	registry *registry.Registry
	app      *dispatch.App
	journal  *events.Journal
	bus      *events.Bus
	auth     origin.Authenticator
	metrics  *metrics.Metrics
}

type Option func(*config)

// WithIdentity specifies the server DID.
func WithIdentity(s principal.Signer) Option {
	return func(c *config) {
		c.id = s
	}
}

// WithRegistry configures the registry served for lookups and bearer token
// requests.
func WithRegistry(reg *registry.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithApp configures the transaction dispatcher. When not set, one is
// created over the registry.
func WithApp(app *dispatch.App) Option {
	return func(c *config) {
		c.app = app
	}
}

// WithJournal enables the event journal endpoint.
func WithJournal(j *events.Journal) Option {
	return func(c *config) {
		c.journal = j
	}
}

// WithBus enables streaming of events as they are committed.
func WithBus(b *events.Bus) Option {
	return func(c *config) {
		c.bus = b
	}
}

// WithMetrics enables the Prometheus metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithAuthenticator sets the authenticator used to verify bearer tokens
// before they reach the registry.
func WithAuthenticator(auth origin.Authenticator) Option {
	return func(c *config) {
		c.auth = auth
	}
}

// ListenAndServe creates a new registry HTTP server, and starts it up. The
// server is shut down gracefully when the context is canceled.
func ListenAndServe(ctx context.Context, addr string, opts ...Option) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewServer(opts...),
	}

	errs := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs <- srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Listening on %s", addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errs
}

// NewServer creates a new registry node server.
func NewServer(opts ...Option) *http.ServeMux {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}

	if c.id == nil {
		log.Warn("Generating a server identity as one has not been set!")
		id, err := ed25519.Generate()
		if err != nil {
			panic(err)
		}
		c.id = id
	}
	if c.registry == nil {
		panic("server requires a registry")
	}
	if c.app == nil {
		c.app = dispatch.NewApp(c.registry)
	}
	if c.auth == nil {
		c.auth = origin.NewAuthenticator(origin.WithAudience(c.id.DID()))
	}
	log.Infof("Server ID: %s", c.id.DID())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", getRootHandler(c.id))
	mux.Handle("POST /tx", telemetry.NewErrorReportingHandler(postTxHandler(c.app)))
	mux.Handle("POST /tx/check", telemetry.NewErrorReportingHandler(checkTxHandler(c.app)))
	mux.Handle("GET /claim/{fingerprint}", telemetry.NewErrorReportingHandler(getClaimHandler(c.registry)))
	mux.Handle("PUT /claim/{fingerprint}", telemetry.NewErrorReportingHandler(putClaimHandler(c.registry, c.auth)))
	mux.Handle("DELETE /claim/{fingerprint}", telemetry.NewErrorReportingHandler(deleteClaimHandler(c.registry, c.auth)))
	mux.Handle("POST /claim/{fingerprint}/transfer", telemetry.NewErrorReportingHandler(transferClaimHandler(c.registry, c.auth)))
	if c.journal != nil {
		mux.Handle("GET /events", telemetry.NewErrorReportingHandler(getEventsHandler(c.journal)))
	}
	if c.bus != nil {
		mux.Handle("GET /events/stream", telemetry.NewErrorReportingHandler(streamEventsHandler(c.bus)))
	}
	if c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics.Handler())
	}
	return mux
}
