package mailgun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/multimailer/internal/core"
)

type captured struct {
	path   string
	user   string
	form   url.Values
	files  map[string][]string
	bodies map[string]string
}

func newAPI(t *testing.T, status int) (string, func() *captured) {
	t.Helper()
	var (
		mu  sync.Mutex
		got *captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := &captured{path: r.URL.Path, files: map[string][]string{}, bodies: map[string]string{}}
		c.user, _, _ = r.BasicAuth()
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.form = r.Form
		if r.MultipartForm != nil {
			for field, headers := range r.MultipartForm.File {
				for _, fh := range headers {
					c.files[field] = append(c.files[field], fh.Filename)
					f, err := fh.Open()
					if err == nil {
						b, _ := io.ReadAll(f)
						_ = f.Close()
						c.bodies[fh.Filename] = string(b)
					}
				}
			}
		}
		mu.Lock()
		got = c
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = fmt.Fprint(w, `{"id":"<20240102.1@mg.example.com>","message":"Queued. Thank you."}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"message":"Invalid private key"}`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v3", func() *captured {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func newDriver(t *testing.T, base string) *Driver {
	t.Helper()
	d, err := New(context.Background(), core.DriverConfig{
		Driver: core.DriverMailgun,
		APIKey: "key-123",
		Domain: "mg.example.com",
		URL:    base,
		Sender: &core.AddressConfig{Email: "noreply@mg.example.com"},
		Options: core.Options{
			Tags:  []string{"welcome"},
			Track: &core.Tracking{Opens: true},
		},
	}, core.Environment{})
	require.NoError(t, err)
	return d
}

func TestDriver_Send(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.png")
	require.NoError(t, os.WriteFile(logo, []byte("\x89PNG"), 0o600))

	base, got := newAPI(t, http.StatusOK)
	d := newDriver(t, base)
	require.True(t, d.AddRecipient(core.Address{Email: "a@example.com", Name: "A"}))
	require.True(t, d.AddRecipient(core.Address{Email: "b@example.com"}))
	require.True(t, d.AddCC(core.Address{Email: "cc@example.com"}))
	require.True(t, d.AddBCC(core.Address{Email: "bcc@example.com"}))
	d.SetSubject("Welcome")
	d.SetContentType("text/html")
	d.SetMessage(`<p>Hi</p><img src="cid:brand">`)
	require.True(t, d.AddAttachment(core.NewAttachment(core.FromString("a,b"), "data.csv")))
	require.True(t, d.SetEmbeddedImage("brand", logo, ""))

	require.True(t, d.Send(context.Background()))
	assert.Equal(t, "<20240102.1@mg.example.com>", d.MessageID())

	c := got()
	require.NotNil(t, c)
	assert.True(t, strings.HasSuffix(c.path, "/mg.example.com/messages"), c.path)
	assert.Equal(t, "api", c.user)
	assert.Equal(t, "noreply@mg.example.com", c.form.Get("from"))
	assert.Equal(t, []string{`"A" <a@example.com>`, "b@example.com"}, c.form["to"])
	assert.Equal(t, "cc@example.com", c.form.Get("cc"))
	assert.Equal(t, "bcc@example.com", c.form.Get("bcc"))
	assert.Equal(t, "Welcome", c.form.Get("subject"))
	assert.Equal(t, `<p>Hi</p><img src="cid:logo.png">`, c.form.Get("html"))
	assert.Equal(t, "Hi", c.form.Get("text"))
	assert.Equal(t, "noreply@mg.example.com", c.form.Get("h:Reply-To"))
	assert.Equal(t, "welcome", c.form.Get("o:tag"))
	assert.NotEmpty(t, c.form.Get("o:tracking-opens"))

	assert.Equal(t, []string{"data.csv"}, c.files["attachment"])
	assert.Equal(t, []string{"logo.png"}, c.files["inline"])
	assert.Equal(t, "a,b", c.bodies["data.csv"])
}

func TestDriver_SendUnauthorized(t *testing.T) {
	t.Parallel()

	base, _ := newAPI(t, http.StatusUnauthorized)
	d := newDriver(t, base)
	d.AddRecipient(core.Address{Email: "a@example.com"})
	d.SetMessage("hi")

	assert.False(t, d.Send(context.Background()))
	err := d.LastError()
	require.NotNil(t, err)
	assert.Equal(t, http.StatusUnauthorized, err.Code)
	assert.ErrorIs(t, err, core.ErrTransport)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg *mailgun.Message) (string, string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.String(1), args.Error(2)
}

func TestDriver_SendClientError(t *testing.T) {
	t.Parallel()

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return("", "", errors.New("connection reset"))

	d, err := NewWithClient(sender, core.DriverConfig{
		Driver: core.DriverMailgun,
		Sender: &core.AddressConfig{Email: "noreply@mg.example.com"},
	}, core.Environment{})
	require.NoError(t, err)
	d.AddRecipient(core.Address{Email: "a@example.com"})
	d.SetMessage("hi")

	assert.False(t, d.Send(context.Background()))
	assert.Equal(t, "connection reset", d.LastError().Message)
	assert.Equal(t, 0, d.LastError().Code)
	sender.AssertExpectations(t)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), core.DriverConfig{Driver: core.DriverMailgun, APIKey: "k"}, core.Environment{})
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.Contains(t, err.Error(), "domain is required")
}
