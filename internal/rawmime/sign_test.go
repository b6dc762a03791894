package rawmime

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/multimailer/internal/core"
)

func TestSign(t *testing.T) {
	t.Parallel()

	pubKey, privKey, err := ed25519.GenerateKey(rand.New(rand.NewSource(0)))
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(privKey)
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "dkim.pem")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	opts, err := NewSignOptions(core.DKIMConfig{Domain: "example.com", Selector: "mail", PrivateKeyFile: keyFile})
	require.NoError(t, err)

	m := baseMessage()
	m.ContentType = core.ContentTypeHTML
	m.Body = "<p>signed</p>"
	m.Attachments = []core.Attachment{pdfAttachment()}
	raw, err := Compose(m, Options{})
	require.NoError(t, err)

	signed, err := Sign(raw, opts)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(signed, []byte("DKIM-Signature:")))

	v, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			return []string{fmt.Sprintf("v=DKIM1; k=ed25519; p=%s", base64.StdEncoding.EncodeToString(pubKey))}, nil
		},
	})
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.NoError(t, v[0].Err)
	assert.Equal(t, "example.com", v[0].Domain)
}

func TestNewSignOptions_BadKey(t *testing.T) {
	t.Parallel()

	keyFile := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte("not pem"), 0o600))

	_, err := NewSignOptions(core.DKIMConfig{Domain: "example.com", Selector: "s", PrivateKeyFile: keyFile})
	require.Error(t, err)

	_, err = NewSignOptions(core.DKIMConfig{Domain: "example.com", Selector: "s", PrivateKeyFile: keyFile + ".missing"})
	require.Error(t, err)
}
