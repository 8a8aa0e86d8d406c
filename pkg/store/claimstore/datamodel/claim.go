package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed claim.ipldsch
var claimSchema []byte

var claimTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(claimSchema)
	if err != nil {
		panic(fmt.Errorf("loading claim schema: %w", err))
	}
	claimTS = ts
}

func ClaimType() schema.Type {
	return claimTS.TypeByName("Claim")
}

type ClaimModel struct {
	Fingerprint  []byte
	Owner        []byte
	RegisteredAt int64
}
