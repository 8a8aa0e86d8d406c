package enum

// inspiration: https://github.com/zarldev/goenums

import (
	"fmt"
	"path/filepath"
	"strings"
)

type KeyFormat struct {
	keyFormat
}

type keyFormat int

const (
	unknown keyFormat = iota
	json
	pem
)

var (
	strKeyFormatMap = map[keyFormat]string{
		json: "JSON",
		pem:  "PEM",
	}

	typeKeyFormatMap = map[string]keyFormat{
		"JSON": json,
		"PEM":  pem,
	}
)

func (t keyFormat) String() string {
	return strKeyFormatMap[t]
}

// Ext is the file extension, without a dot, of key files in this format.
func (t keyFormat) Ext() string {
	return strings.ToLower(strKeyFormatMap[t])
}

func (t keyFormat) IsValid() bool {
	_, ok := strKeyFormatMap[t]
	return ok
}

// ParseKeyFormat parses a format name. Names are case insensitive.
func ParseKeyFormat(a any) KeyFormat {
	switch v := a.(type) {
	case KeyFormat:
		return v
	case string:
		return KeyFormat{stringToKeyFormat(v)}
	case fmt.Stringer:
		return KeyFormat{stringToKeyFormat(v.String())}
	}
	return KeyFormat{unknown}
}

// KeyFormatFromPath infers the format of a key file from its extension.
func KeyFormatFromPath(path string) (KeyFormat, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	typ := ParseKeyFormat(ext)
	if !typ.IsValid() {
		return KeyFormats.UNKNOWN, fmt.Errorf("unsupported file type: %q, expected .json or .pem", ext)
	}
	return typ, nil
}

func stringToKeyFormat(s string) keyFormat {
	if v, ok := typeKeyFormatMap[strings.ToUpper(s)]; ok {
		return v
	}
	return unknown
}

type keyFormatContainer struct {
	UNKNOWN KeyFormat
	JSON    KeyFormat
	PEM     KeyFormat
}

var KeyFormats = keyFormatContainer{
	UNKNOWN: KeyFormat{unknown},
	JSON:    KeyFormat{json},
	PEM:     KeyFormat{pem},
}

func (c keyFormatContainer) All() []KeyFormat {
	return []KeyFormat{
		c.JSON,
		c.PEM,
	}
}

// Names lists the names of all valid formats, for flag usage strings.
func (c keyFormatContainer) Names() []string {
	var names []string
	for _, f := range c.All() {
		names = append(names, f.String())
	}
	return names
}

func (t KeyFormat) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *KeyFormat) UnmarshalJSON(b []byte) error {
	*t = ParseKeyFormat(strings.Trim(string(b), `"`))
	return nil
}
