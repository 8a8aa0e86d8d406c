package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed journal.ipldsch
var journalSchema []byte

var journalTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(journalSchema)
	if err != nil {
		panic(fmt.Errorf("loading journal schema: %w", err))
	}
	journalTS = ts
}

func EntryType() schema.Type {
	return journalTS.TypeByName("Entry")
}

type EntryModel struct {
	Seq         int64
	Kind        string
	Fingerprint []byte
	From        []byte
	To          *[]byte
}
