// Package client talks to a registry node over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/poe/pkg/dispatch"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/registry"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/server"
	"github.com/storacha/poe/pkg/store"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

const txPath = "/tx"
const checkPath = "/tx/check"
const claimPath = "/claim"
const transferPath = "/transfer"
const eventsPath = "/events"
const streamPath = "/events/stream"

const defaultTokenTTL = 5 * time.Minute

type ErrFailedResponse struct {
	StatusCode int
	Body       string
}

func errFromResponse(res *http.Response) ErrFailedResponse {
	err := ErrFailedResponse{StatusCode: res.StatusCode}

	message, merr := io.ReadAll(res.Body)
	if merr != nil {
		err.Body = merr.Error()
	} else {
		err.Body = string(message)
	}
	return err
}

func (e ErrFailedResponse) Error() string {
	return fmt.Sprintf("http request failed, status: %d %s, message: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// registryErrors maps error names returned by the node back to the registry
// sentinels so callers can use errors.Is.
var registryErrors = map[string]error{
	"ClaimAlreadyExists": registry.ErrClaimAlreadyExists,
	"ClaimNotFound":      registry.ErrClaimNotFound,
	"NotClaimOwner":      registry.ErrNotClaimOwner,
	"InvalidDestination": registry.ErrInvalidDestination,
	"Unauthenticated":    registry.ErrUnauthenticated,
	"ClaimTooLarge":      registry.ErrClaimTooLarge,
	"EmptyClaim":         registry.ErrEmptyClaim,
}

// ResultError converts a rejected transaction result into an error. It
// returns nil for a successful result.
func ResultError(res dispatch.Result) error {
	if res.IsOK() {
		return nil
	}
	if sentinel, ok := registryErrors[res.Name]; ok {
		return fmt.Errorf("%w: %s", sentinel, res.Log)
	}
	return fmt.Errorf("transaction rejected (code %d): %s", res.Code, res.Log)
}

type Config struct {
	// ID signs transactions and bearer tokens.
	ID principal.Signer
	// NodeURL is the URL of the registry node.
	NodeURL url.URL
	// Audience is the DID of the node, set as the audience of bearer tokens.
	Audience string
	// TokenTTL is the lifetime of bearer tokens. Defaults to five minutes.
	TokenTTL time.Duration
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

type Client struct {
	cfg    Config
	client *http.Client
	nonce  atomic.Uint64
}

func New(cfg Config) *Client {
	c := &Client{cfg: cfg, client: cfg.HTTPClient}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.cfg.TokenTTL == 0 {
		c.cfg.TokenTTL = defaultTokenTTL
	}
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c
}

// Submit delivers a signed transaction envelope to the node.
func (c *Client) Submit(ctx context.Context, stx []byte) (dispatch.Result, error) {
	return c.postTx(ctx, c.cfg.NodeURL.JoinPath(txPath).String(), stx)
}

// Check validates a signed transaction envelope without applying it.
func (c *Client) Check(ctx context.Context, stx []byte) (dispatch.Result, error) {
	return c.postTx(ctx, c.cfg.NodeURL.JoinPath(checkPath).String(), stx)
}

// Create submits a transaction claiming the fingerprint for the client
// identity.
func (c *Client) Create(ctx context.Context, fingerprint []byte) (dispatch.Result, error) {
	return c.signAndSubmit(ctx, dispatch.Tx{Op: dispatch.OpCreate, Claim: fingerprint})
}

// Revoke submits a transaction removing a claim owned by the client
// identity.
func (c *Client) Revoke(ctx context.Context, fingerprint []byte) (dispatch.Result, error) {
	return c.signAndSubmit(ctx, dispatch.Tx{Op: dispatch.OpRevoke, Claim: fingerprint})
}

// Transfer submits a transaction handing a claim owned by the client
// identity to the destination.
func (c *Client) Transfer(ctx context.Context, fingerprint []byte, dest resolver.Destination) (dispatch.Result, error) {
	return c.signAndSubmit(ctx, dispatch.Tx{Op: dispatch.OpTransfer, Claim: fingerprint, Dest: string(dest)})
}

// Claim fetches the current claim on a fingerprint. It returns
// store.ErrNotFound if the fingerprint is unclaimed.
func (c *Client) Claim(ctx context.Context, fingerprint []byte) (server.ClaimResponse, error) {
	url := c.claimURL(fingerprint).String()
	var res server.ClaimResponse
	err := c.getJsonResponse(ctx, url, &res)
	var ferr ErrFailedResponse
	if errors.As(err, &ferr) && ferr.StatusCode == http.StatusNotFound {
		return server.ClaimResponse{}, store.ErrNotFound
	}
	return res, err
}

// Events lists journaled events with a sequence number greater than since.
// A limit of 0 returns all of them.
func (c *Client) Events(ctx context.Context, since uint64, limit int) ([]server.EventResponse, error) {
	url := c.cfg.NodeURL.JoinPath(eventsPath)
	query := url.Query()
	query.Add("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Add("limit", strconv.Itoa(limit))
	}
	url.RawQuery = query.Encode()
	var records []server.EventResponse
	err := c.getJsonResponse(ctx, url.String(), &records)
	return records, err
}

// Stream follows events as the node commits them, calling fn for each one
// until the context is canceled, the node closes the stream or fn returns an
// error. Kinds restricts the stream to the given event kinds.
func (c *Client) Stream(ctx context.Context, fn func(server.EventResponse) error, kinds ...events.Kind) error {
	url := c.cfg.NodeURL.JoinPath(streamPath)
	query := url.Query()
	for _, k := range kinds {
		query.Add("kind", string(k))
	}
	url.RawQuery = query.Encode()

	res, err := c.sendRequest(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errFromResponse(res)
	}

	dec := json.NewDecoder(res.Body)
	for {
		var e server.EventResponse
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("decoding event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// PutClaim claims a fingerprint using a bearer token instead of a signed
// transaction.
func (c *Client) PutClaim(ctx context.Context, fingerprint []byte) (server.ClaimResponse, error) {
	res, err := c.sendAuthorized(ctx, http.MethodPut, c.claimURL(fingerprint).String(), nil)
	if err != nil {
		return server.ClaimResponse{}, err
	}
	var cr server.ClaimResponse
	err = decodeResponse(res, &cr)
	return cr, err
}

// DeleteClaim revokes a claim using a bearer token.
func (c *Client) DeleteClaim(ctx context.Context, fingerprint []byte) error {
	res, err := c.sendAuthorized(ctx, http.MethodDelete, c.claimURL(fingerprint).String(), nil)
	if err != nil {
		return err
	}
	return decodeResponse(res, nil)
}

// TransferClaim transfers a claim using a bearer token.
func (c *Client) TransferClaim(ctx context.Context, fingerprint []byte, dest resolver.Destination) (server.ClaimResponse, error) {
	body, err := json.Marshal(server.TransferRequest{To: string(dest)})
	if err != nil {
		return server.ClaimResponse{}, fmt.Errorf("encoding transfer request: %w", err)
	}
	url := c.claimURL(fingerprint).JoinPath(transferPath).String()
	res, err := c.sendAuthorized(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return server.ClaimResponse{}, err
	}
	var cr server.ClaimResponse
	err = decodeResponse(res, &cr)
	return cr, err
}

func (c *Client) claimURL(fingerprint []byte) *url.URL {
	return c.cfg.NodeURL.JoinPath(claimPath, claim.FormatFingerprint(fingerprint))
}

func (c *Client) signAndSubmit(ctx context.Context, tx dispatch.Tx) (dispatch.Result, error) {
	if c.cfg.ID == nil {
		return dispatch.Result{}, errors.New("missing client identity")
	}
	tx.Nonce = c.nonce.Add(1)
	stx, err := dispatch.Sign(c.cfg.ID, tx)
	if err != nil {
		return dispatch.Result{}, err
	}
	return c.Submit(ctx, stx)
}

func (c *Client) postTx(ctx context.Context, url string, stx []byte) (dispatch.Result, error) {
	res, err := c.sendRequest(ctx, http.MethodPost, url, bytes.NewReader(stx))
	if err != nil {
		return dispatch.Result{}, err
	}
	defer res.Body.Close()
	// rejected transactions still carry a result body
	if res.Header.Get("Content-Type") != "application/json" {
		return dispatch.Result{}, errFromResponse(res)
	}
	var result dispatch.Result
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return dispatch.Result{}, fmt.Errorf("decoding tx result: %w", err)
	}
	return result, nil
}

func (c *Client) sendAuthorized(ctx context.Context, method string, url string, body io.Reader) (*http.Response, error) {
	if c.cfg.ID == nil {
		return nil, errors.New("missing client identity")
	}
	token, err := origin.NewBearerToken(c.cfg.ID, c.cfg.Audience, c.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("generating http request: %w", err)
	}
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to node: %w", err)
	}
	return res, nil
}

func (c *Client) sendRequest(ctx context.Context, method string, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("generating http request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to node: %w", err)
	}
	return res, nil
}

func (c *Client) getJsonResponse(ctx context.Context, url string, target interface{}) error {
	res, err := c.sendRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errFromResponse(res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("unmarshalling JSON response to target: %w", err)
	}
	return nil
}

// decodeResponse reads the response of a bearer token request. Registry
// rejections are returned as errors matching the registry sentinels.
func decodeResponse(res *http.Response, target interface{}) error {
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if res.Header.Get("Content-Type") == "application/json" {
			var eres server.ErrorResponse
			if err := json.NewDecoder(res.Body).Decode(&eres); err == nil {
				if sentinel, ok := registryErrors[eres.Name]; ok {
					return fmt.Errorf("%w: %s", sentinel, eres.Message)
				}
				return fmt.Errorf("%s: %s", eres.Name, eres.Message)
			}
		}
		if res.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", registry.ErrUnauthenticated, errFromResponse(res).Body)
		}
		return errFromResponse(res)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(target); err != nil {
		return fmt.Errorf("unmarshalling JSON response to target: %w", err)
	}
	return nil
}
