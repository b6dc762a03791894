package rawmime

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/lattiq/multimailer/internal/core"
)

var signedHeaders = []string{
	"From", "Reply-To", "To", "Cc", "Subject", "Date",
	"Message-ID", "MIME-Version", "Content-Type",
}

// NewSignOptions loads the private key named by cfg.
func NewSignOptions(cfg core.DKIMConfig) (*dkim.SignOptions, error) {
	b, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read dkim key: %w", err)
	}
	signer, err := parsePrivateKey(b)
	if err != nil {
		return nil, err
	}
	return &dkim.SignOptions{
		Domain:     cfg.Domain,
		Selector:   cfg.Selector,
		Signer:     signer,
		Hash:       crypto.SHA256,
		HeaderKeys: signedHeaders,
	}, nil
}

// Sign prepends a DKIM-Signature header to raw.
func Sign(raw []byte, opts *dkim.SignOptions) ([]byte, error) {
	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(raw), opts); err != nil {
		return nil, fmt.Errorf("dkim sign: %w", err)
	}
	return out.Bytes(), nil
}

func parsePrivateKey(b []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in dkim key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported dkim key type %T", k)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q in dkim key", block.Type)
	}
}
