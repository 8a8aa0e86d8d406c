// Package resolver turns destination descriptors supplied with a transfer
// into concrete identities.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/storacha/go-ucanto/did"
)

// ErrInvalidDestination is returned when a destination cannot be resolved.
var ErrInvalidDestination = errors.New("invalid destination")

// Destination describes the target identity of a transfer. Depending on the
// resolver it is a DID or an alias.
type Destination string

// Resolver resolves destination descriptors to identities. A descriptor that
// does not name an identity yields an error matching [ErrInvalidDestination];
// any other error is a failure of the resolver itself.
type Resolver interface {
	Resolve(ctx context.Context, dest Destination) (did.DID, error)
}

// Direct treats the descriptor as the identity itself.
type Direct struct {
	// RequireKey rejects identities that are not did:key.
	RequireKey bool
}

var _ Resolver = Direct{}

func (d Direct) Resolve(_ context.Context, dest Destination) (did.DID, error) {
	if dest == "" {
		return did.Undef, fmt.Errorf("%w: empty destination", ErrInvalidDestination)
	}
	id, err := did.Parse(string(dest))
	if err != nil {
		return did.Undef, fmt.Errorf("%w: %s", ErrInvalidDestination, err)
	}
	if d.RequireKey && !strings.HasPrefix(id.String(), "did:key:") {
		return did.Undef, fmt.Errorf("%w: %s is not a did:key", ErrInvalidDestination, id)
	}
	return id, nil
}

// Mapping resolves aliases from a table. Descriptors that are not in the
// table are passed to the fallback resolver, if one is set.
type Mapping struct {
	mutex    sync.RWMutex
	aliases  map[string]did.DID
	fallback Resolver
}

var _ Resolver = (*Mapping)(nil)

type Option func(*Mapping)

// WithFallback sets the resolver used for descriptors with no alias.
func WithFallback(r Resolver) Option {
	return func(m *Mapping) {
		m.fallback = r
	}
}

func NewMapping(aliases map[string]did.DID, opts ...Option) *Mapping {
	m := &Mapping{aliases: make(map[string]did.DID, len(aliases))}
	for k, v := range aliases {
		m.aliases[k] = v
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put adds or replaces an alias.
func (m *Mapping) Put(alias string, id did.DID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.aliases[alias] = id
}

func (m *Mapping) Resolve(ctx context.Context, dest Destination) (did.DID, error) {
	m.mutex.RLock()
	id, ok := m.aliases[string(dest)]
	m.mutex.RUnlock()
	if ok {
		return id, nil
	}
	if m.fallback != nil {
		return m.fallback.Resolve(ctx, dest)
	}
	return did.Undef, fmt.Errorf("%w: unknown alias %q", ErrInvalidDestination, dest)
}

// ParseAliases parses an alias table whose values are DID strings.
func ParseAliases(table map[string]string) (map[string]did.DID, error) {
	aliases := make(map[string]did.DID, len(table))
	for alias, value := range table {
		id, err := did.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("parsing DID for alias %q: %w", alias, err)
		}
		aliases[alias] = id
	}
	return aliases, nil
}
