package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/verifier"
	"github.com/storacha/poe/internal/telemetry"
	"github.com/storacha/poe/pkg/build"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/dispatch"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/registry"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

// maxTxSize bounds the size of a submitted transaction envelope.
const maxTxSize = 64 << 10

const streamBuffer = 64

// ClaimResponse is the JSON representation of a claim.
type ClaimResponse struct {
	Fingerprint  string            `json:"fingerprint"`
	Owner        string            `json:"owner"`
	RegisteredAt chain.BlockNumber `json:"registered_at"`
}

// EventResponse is the JSON representation of a journaled event.
type EventResponse struct {
	Seq         events.Seq  `json:"seq,omitempty"`
	Kind        events.Kind `json:"kind"`
	Fingerprint string      `json:"fingerprint"`
	Owner       string      `json:"owner,omitempty"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
}

// ErrorResponse is returned by the bearer token claim endpoints when the
// registry rejects an operation.
type ErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// TransferRequest is the body of a bearer token transfer.
type TransferRequest struct {
	To string `json:"to"`
}

// getRootHandler displays version info when a GET request is sent to "/".
func getRootHandler(id principal.Signer) func(http.ResponseWriter, *http.Request) {
	peerID, err := toPeerID(id.DID())
	if err != nil {
		log.Warnf("deriving peer ID: %s", err)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fmt.Sprintf("📜 poe %s\n", build.Version)))
		w.Write([]byte("- https://github.com/storacha/poe\n"))
		w.Write([]byte(fmt.Sprintf("- %s\n", id.DID())))
		if peerID != "" {
			w.Write([]byte(fmt.Sprintf("- %s\n", peerID)))
		}
	}
}

func toPeerID(id did.DID) (peer.ID, error) {
	vfr, err := verifier.Decode(id.Bytes())
	if err != nil {
		return "", err
	}
	pub, err := crypto.UnmarshalEd25519PublicKey(vfr.Raw())
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(pub)
}

func postTxHandler(app *dispatch.App) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize))
		if err != nil {
			return telemetry.NewHTTPError(fmt.Errorf("reading body: %w", err), http.StatusBadRequest)
		}
		res := app.DeliverTx(r.Context(), raw)
		return writeJSON(w, statusForCode(res.Code), res)
	}
}

func checkTxHandler(app *dispatch.App) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize))
		if err != nil {
			return telemetry.NewHTTPError(fmt.Errorf("reading body: %w", err), http.StatusBadRequest)
		}
		res := app.CheckTx(r.Context(), raw)
		return writeJSON(w, statusForCode(res.Code), res)
	}
}

func getClaimHandler(reg *registry.Registry) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		fp, err := claim.ParseFingerprint(r.PathValue("fingerprint"))
		if err != nil {
			return telemetry.NewHTTPError(fmt.Errorf("invalid fingerprint: %w", err), http.StatusBadRequest)
		}

		c, err := reg.Claim(r.Context(), fp)
		if err != nil {
			if errors.Is(err, registry.ErrClaimNotFound) || errors.Is(err, registry.ErrEmptyClaim) {
				return telemetry.NewHTTPError(fmt.Errorf("not found: %s", r.PathValue("fingerprint")), http.StatusNotFound)
			}
			return telemetry.NewHTTPError(fmt.Errorf("getting claim: %w", err), http.StatusInternalServerError)
		}

		return writeClaim(w, c, http.StatusOK)
	}
}

func putClaimHandler(reg *registry.Registry, auth origin.Authenticator) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, fp, err := bearerRequest(r, auth)
		if err != nil {
			return err
		}
		c, err := reg.Create(r.Context(), caller, fp)
		if err != nil {
			return registryError(w, err)
		}
		return writeClaim(w, c, http.StatusCreated)
	}
}

func deleteClaimHandler(reg *registry.Registry, auth origin.Authenticator) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, fp, err := bearerRequest(r, auth)
		if err != nil {
			return err
		}
		if err := reg.Revoke(r.Context(), caller, fp); err != nil {
			return registryError(w, err)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

func transferClaimHandler(reg *registry.Registry, auth origin.Authenticator) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		caller, fp, err := bearerRequest(r, auth)
		if err != nil {
			return err
		}
		var req TransferRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxTxSize)).Decode(&req); err != nil {
			return telemetry.NewHTTPError(fmt.Errorf("decoding transfer request: %w", err), http.StatusBadRequest)
		}
		c, err := reg.Transfer(r.Context(), caller, fp, resolver.Destination(req.To))
		if err != nil {
			return registryError(w, err)
		}
		return writeClaim(w, c, http.StatusOK)
	}
}

func getEventsHandler(j *events.Journal) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var since uint64
		var limit int
		var err error
		if s := r.URL.Query().Get("since"); s != "" {
			since, err = strconv.ParseUint(s, 10, 64)
			if err != nil {
				return telemetry.NewHTTPError(fmt.Errorf("invalid since: %w", err), http.StatusBadRequest)
			}
		}
		if s := r.URL.Query().Get("limit"); s != "" {
			limit, err = strconv.Atoi(s)
			if err != nil || limit < 0 {
				return telemetry.NewHTTPError(fmt.Errorf("invalid limit: %s", s), http.StatusBadRequest)
			}
		}

		records, err := j.List(r.Context(), events.Seq(since), limit)
		if err != nil {
			return telemetry.NewHTTPError(fmt.Errorf("listing events: %w", err), http.StatusInternalServerError)
		}

		out := make([]EventResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, toEventResponse(rec))
		}
		return writeJSON(w, http.StatusOK, out)
	}
}

// streamEventsHandler writes committed events as newline delimited JSON until
// the client goes away. Streamed events carry no sequence number.
func streamEventsHandler(bus *events.Bus) telemetry.ErrorReturningHTTPHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		var kinds []events.Kind
		for _, k := range r.URL.Query()["kind"] {
			kinds = append(kinds, events.Kind(k))
		}

		sub := bus.Subscribe(streamBuffer, kinds...)
		defer bus.Unsubscribe(sub)

		rc := http.NewResponseController(w)
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		if err := rc.Flush(); err != nil {
			log.Warnf("flushing event stream: %s", err)
		}

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return nil
			case e, ok := <-sub:
				if !ok {
					return nil
				}
				if err := enc.Encode(toEventResponse(events.Record{Event: e})); err != nil {
					log.Debugf("writing event stream: %s", err)
					return nil
				}
				if err := rc.Flush(); err != nil {
					return nil
				}
			}
		}
	}
}

func toEventResponse(rec events.Record) EventResponse {
	res := EventResponse{
		Seq:         rec.Seq,
		Kind:        rec.Event.Kind(),
		Fingerprint: claim.FormatFingerprint(rec.Event.Claim()),
	}
	switch e := rec.Event.(type) {
	case events.ClaimCreated:
		res.Owner = e.Owner.String()
	case events.ClaimRevoked:
		res.Owner = e.Owner.String()
	case events.ClaimTransferred:
		res.From = e.From.String()
		res.To = e.To.String()
	}
	return res
}

func bearerRequest(r *http.Request, auth origin.Authenticator) (did.DID, []byte, error) {
	fp, err := claim.ParseFingerprint(r.PathValue("fingerprint"))
	if err != nil {
		return did.Undef, nil, telemetry.NewHTTPError(fmt.Errorf("invalid fingerprint: %w", err), http.StatusBadRequest)
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return did.Undef, nil, telemetry.NewHTTPError(errors.New("missing bearer token"), http.StatusUnauthorized)
	}
	caller, err := auth.Authenticate(r.Context(), origin.Bearer{Token: token})
	if err != nil {
		return did.Undef, nil, telemetry.NewHTTPError(err, http.StatusUnauthorized)
	}
	return caller, fp, nil
}

func writeClaim(w http.ResponseWriter, c claim.Claim, status int) error {
	return writeJSON(w, status, ClaimResponse{
		Fingerprint:  claim.FormatFingerprint(c.Fingerprint),
		Owner:        c.Owner.String(),
		RegisteredAt: c.RegisteredAt,
	})
}

func registryError(w http.ResponseWriter, err error) error {
	name := registry.ErrorName(err)
	if name == "" {
		return telemetry.NewHTTPError(err, http.StatusInternalServerError)
	}
	return writeJSON(w, statusForName(name), ErrorResponse{Name: name, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("writing response: %s", err)
	}
	return nil
}

func statusForCode(code uint32) int {
	switch code {
	case dispatch.CodeOK:
		return http.StatusOK
	case dispatch.CodeEncodingError, dispatch.CodeInvalidTx, dispatch.CodeEmptyClaim:
		return http.StatusBadRequest
	case dispatch.CodeUnauthenticated:
		return http.StatusUnauthorized
	case dispatch.CodeNotClaimOwner:
		return http.StatusForbidden
	case dispatch.CodeClaimNotFound:
		return http.StatusNotFound
	case dispatch.CodeClaimAlreadyExists:
		return http.StatusConflict
	case dispatch.CodeClaimTooLarge:
		return http.StatusRequestEntityTooLarge
	case dispatch.CodeInvalidDestination:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func statusForName(name string) int {
	switch name {
	case "EmptyClaim":
		return http.StatusBadRequest
	case "Unauthenticated":
		return http.StatusUnauthorized
	case "NotClaimOwner":
		return http.StatusForbidden
	case "ClaimNotFound":
		return http.StatusNotFound
	case "ClaimAlreadyExists":
		return http.StatusConflict
	case "ClaimTooLarge":
		return http.StatusRequestEntityTooLarge
	case "InvalidDestination":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
