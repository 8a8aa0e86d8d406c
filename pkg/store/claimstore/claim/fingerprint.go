package claim

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
)

// FormatFingerprint encodes a fingerprint as a base58btc multibase string.
func FormatFingerprint(fp []byte) string {
	s, _ := multibase.Encode(multibase.Base58BTC, fp)
	return s
}

// ParseFingerprint decodes a fingerprint from either a multibase string or a
// 0x prefixed hex string.
func ParseFingerprint(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty fingerprint")
	}
	if strings.HasPrefix(s, "0x") {
		fp, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("decoding hex fingerprint: %w", err)
		}
		return fp, nil
	}
	_, fp, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding multibase fingerprint: %w", err)
	}
	return fp, nil
}
