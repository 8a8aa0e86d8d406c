package registry

import (
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/resolver"
)

// Config holds the registry policies.
type Config struct {
	// MaxClaimLength is the maximum fingerprint length accepted by create.
	// Zero means fingerprints are unbounded.
	MaxClaimLength int
}

type options struct {
	config   Config
	auth     origin.Authenticator
	blocks   chain.Source
	resolver resolver.Resolver
	sink     events.Sink
}

type Option func(*options) error

// WithLogLevel changes the log level for the registry subsystem.
func WithLogLevel(level string) Option {
	return func(o *options) error {
		return logging.SetLogLevel("registry", level)
	}
}

func WithConfig(cfg Config) Option {
	return func(o *options) error {
		if cfg.MaxClaimLength < 0 {
			return errors.New("max claim length cannot be negative")
		}
		o.config = cfg
		return nil
	}
}

// WithMaxClaimLength bounds the length of newly created claims.
func WithMaxClaimLength(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("max claim length cannot be negative")
		}
		o.config.MaxClaimLength = n
		return nil
	}
}

func WithAuthenticator(auth origin.Authenticator) Option {
	return func(o *options) error {
		o.auth = auth
		return nil
	}
}

func WithBlockSource(src chain.Source) Option {
	return func(o *options) error {
		o.blocks = src
		return nil
	}
}

// WithResolver sets the policy used to resolve transfer destinations.
func WithResolver(r resolver.Resolver) Option {
	return func(o *options) error {
		o.resolver = r
		return nil
	}
}

func WithEventSink(s events.Sink) Option {
	return func(o *options) error {
		o.sink = s
		return nil
	}
}
