package claim

import (
	"bytes"
	"fmt"

	"github.com/ipld/go-ipld-prime/codec"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/bindnode"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/poe/pkg/chain"
	cdm "github.com/storacha/poe/pkg/store/claimstore/datamodel"
)

type Claim struct {
	// Fingerprint is the opaque content fingerprint that is claimed.
	Fingerprint []byte
	// Owner is the identity that currently holds the claim.
	Owner did.DID
	// RegisteredAt is the block at which the current owner's registration
	// took effect. It is reset when the claim is transferred.
	RegisteredAt chain.BlockNumber
}

func (c Claim) ToIPLD() (datamodel.Node, error) {
	md := &cdm.ClaimModel{
		Fingerprint:  c.Fingerprint,
		Owner:        c.Owner.Bytes(),
		RegisteredAt: int64(c.RegisteredAt),
	}
	return ipld.WrapWithRecovery(md, cdm.ClaimType())
}

func Encode(c Claim, enc codec.Encoder) ([]byte, error) {
	n, err := c.ToIPLD()
	if err != nil {
		return nil, fmt.Errorf("encoding to IPLD: %w", err)
	}

	if enc == nil {
		enc = dagcbor.Encode
	}

	buf := bytes.NewBuffer([]byte{})
	err = enc(n, buf)
	if err != nil {
		return nil, fmt.Errorf("encoding to data format: %w", err)
	}

	return buf.Bytes(), nil
}

func Decode(data []byte, dec codec.Decoder) (Claim, error) {
	if dec == nil {
		dec = dagcbor.Decode
	}

	nb := bindnode.Prototype((*cdm.ClaimModel)(nil), cdm.ClaimType()).NewBuilder()

	err := dec(nb, bytes.NewBuffer(data))
	if err != nil {
		return Claim{}, fmt.Errorf("decoding from data format: %w", err)
	}

	nd := nb.Build()
	model := bindnode.Unwrap(nd).(*cdm.ClaimModel)

	owner, err := did.Decode(model.Owner)
	if err != nil {
		return Claim{}, fmt.Errorf("decoding owner DID: %w", err)
	}

	if model.RegisteredAt < 0 {
		return Claim{}, fmt.Errorf("negative registration block: %d", model.RegisteredAt)
	}

	return Claim{
		Fingerprint:  model.Fingerprint,
		Owner:        owner,
		RegisteredAt: chain.BlockNumber(model.RegisteredAt),
	}, nil
}
