package cmd

import (
	"bytes"
	crypto_ed25519 "crypto/ed25519"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/storacha/go-ucanto/principal"
	ed25519 "github.com/storacha/go-ucanto/principal/ed25519/signer"

	"github.com/storacha/poe/cmd/enum"
)

type jsonKey struct {
	DID string `json:"did"`
	Key string `json:"key"`
}

// CreateSignerKeyPair generates a new ed25519 identity and encodes its
// private key in the given format.
func CreateSignerKeyPair(format enum.KeyFormat) (principal.Signer, []byte, error) {
	signer, err := ed25519.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 key: %w", err)
	}

	switch format {
	case enum.KeyFormats.JSON:
		key, err := ed25519.Format(signer)
		if err != nil {
			return nil, nil, fmt.Errorf("formatting ed25519 key: %w", err)
		}
		out, err := json.Marshal(jsonKey{DID: signer.DID().String(), Key: key})
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling JSON: %w", err)
		}
		return signer, out, nil

	case enum.KeyFormats.PEM:
		privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(crypto_ed25519.PrivateKey(signer.Raw()))
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling ed25519 private key: %w", err)
		}
		buffer := new(bytes.Buffer)
		if err := pem.Encode(buffer, &pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes}); err != nil {
			return nil, nil, fmt.Errorf("encoding ed25519 private key: %w", err)
		}
		return signer, buffer.Bytes(), nil
	}

	return nil, nil, fmt.Errorf("unsupported key format: %s", format)
}

// PrincipalSignerFromFile reads an identity from a .json or .pem key file.
func PrincipalSignerFromFile(path string) (principal.Signer, error) {
	typ, err := enum.KeyFormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	switch typ {
	case enum.KeyFormats.PEM:
		return readPrivateKeyFromPEM(f)
	case enum.KeyFormats.JSON:
		return readPrivateKeyFromJSON(f)
	}
	return nil, fmt.Errorf("unsupported key format: %s", typ)
}

func readPrivateKeyFromJSON(f io.Reader) (principal.Signer, error) {
	jsonData, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	var key jsonKey
	if err := json.Unmarshal(jsonData, &key); err != nil {
		return nil, fmt.Errorf("unmarshaling private key file to json: %w", err)
	}

	return ed25519.Parse(key.Key)
}

func readPrivateKeyFromPEM(f io.Reader) (principal.Signer, error) {
	pemData, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	var privateKey *crypto_ed25519.PrivateKey
	rest := pemData

	// Loop until no more blocks
	for {
		block, remaining := pem.Decode(rest)
		if block == nil {
			break
		}
		rest = remaining

		if block.Type == "PRIVATE KEY" {
			parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
			}

			key, ok := parsedKey.(crypto_ed25519.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("the parsed key is not an ED25519 private key")
			}
			privateKey = &key
			break
		}
	}

	if privateKey == nil {
		return nil, fmt.Errorf("could not find a PRIVATE KEY block in the PEM file")
	}
	return ed25519.FromRaw(*privateKey)
}
