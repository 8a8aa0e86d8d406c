// Package events defines the events deposited by the claim registry and the
// sinks that receive them.
package events

import (
	"context"
	"fmt"

	"github.com/storacha/go-ucanto/did"
)

type Kind string

const (
	KindClaimCreated     Kind = "ClaimCreated"
	KindClaimRevoked     Kind = "ClaimRevoked"
	KindClaimTransferred Kind = "ClaimTransferred"
)

// Event is deposited once for every successful registry operation.
type Event interface {
	Kind() Kind
	Claim() []byte
}

type ClaimCreated struct {
	Owner       did.DID
	Fingerprint []byte
}

type ClaimRevoked struct {
	Owner       did.DID
	Fingerprint []byte
}

type ClaimTransferred struct {
	From        did.DID
	To          did.DID
	Fingerprint []byte
}

func (e ClaimCreated) Kind() Kind     { return KindClaimCreated }
func (e ClaimCreated) Claim() []byte  { return e.Fingerprint }
func (e ClaimRevoked) Kind() Kind     { return KindClaimRevoked }
func (e ClaimRevoked) Claim() []byte  { return e.Fingerprint }
func (e ClaimTransferred) Kind() Kind { return KindClaimTransferred }

func (e ClaimTransferred) Claim() []byte { return e.Fingerprint }

func (e ClaimCreated) String() string {
	return fmt.Sprintf("%s(%s, %x)", e.Kind(), e.Owner, e.Fingerprint)
}

func (e ClaimRevoked) String() string {
	return fmt.Sprintf("%s(%s, %x)", e.Kind(), e.Owner, e.Fingerprint)
}

func (e ClaimTransferred) String() string {
	return fmt.Sprintf("%s(%s, %s, %x)", e.Kind(), e.From, e.To, e.Fingerprint)
}

//go:generate mockgen -destination=../../internal/mocks/sink.go -package=mocks github.com/storacha/poe/pkg/events Sink

// Sink receives events after the operation that produced them has been
// committed.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to a [Sink].
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
