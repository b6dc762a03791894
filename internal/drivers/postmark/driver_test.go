package postmark

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/multimailer/internal/core"
)

func newDriver(t *testing.T, url string) *Driver {
	t.Helper()
	d, err := New(context.Background(), core.DriverConfig{
		Driver: core.DriverPostmark,
		URL:    url,
		APIKey: "server-token",
		Sender: &core.AddressConfig{Email: "noreply@example.com"},
		Options: core.Options{
			Tags:  []string{"welcome"},
			Track: &core.Tracking{Opens: true, Clicks: true},
		},
	}, core.Environment{UserAgent: "multimailer-test"})
	require.NoError(t, err)
	return d
}

func TestDriver_Send(t *testing.T) {
	t.Parallel()

	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "multimailer-test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"ErrorCode":0,"Message":"OK","MessageID":"b7bc2f4a"}`)
	}))
	t.Cleanup(srv.Close)

	d := newDriver(t, srv.URL)
	require.True(t, d.AddRecipient(core.Address{Email: "first@example.com"}))
	require.True(t, d.AddRecipient(core.Address{Email: "second@example.com", Name: "Second"}))
	require.True(t, d.AddCC(core.Address{Email: "cc@example.com"}))
	require.True(t, d.AddBCC(core.Address{Email: "bcc@example.com"}))
	d.SetSubject("Welcome")
	d.SetContentType("text/html")
	d.SetMessage("<p>Hello</p>")
	require.True(t, d.AddAttachment(core.NewAttachment(core.FromString("a,b\n"), "report.csv")))

	require.True(t, d.Send(context.Background()))
	assert.Nil(t, d.LastError())
	assert.Equal(t, "b7bc2f4a", d.MessageID())

	assert.Equal(t, "noreply@example.com", got.From)
	assert.Equal(t, "first@example.com", got.To)
	assert.Equal(t, `"Second" <second@example.com>, cc@example.com`, got.Cc)
	assert.Equal(t, "bcc@example.com", got.Bcc)
	assert.Equal(t, "noreply@example.com", got.ReplyTo)
	assert.Equal(t, "<p>Hello</p>", got.HTMLBody)
	assert.Empty(t, got.TextBody)
	assert.Equal(t, "welcome", got.Tag)
	assert.True(t, got.TrackOpens)
	assert.Equal(t, "HtmlAndText", got.TrackLinks)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "report.csv", got.Attachments[0].Name)
	assert.Equal(t, "YSxiCg==", got.Attachments[0].Content)
	assert.Equal(t, "application/octet-stream", got.Attachments[0].ContentType)
}

func TestDriver_SendMixedIncludesText(t *testing.T) {
	t.Parallel()

	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"ErrorCode":0,"MessageID":"1"}`)
	}))
	t.Cleanup(srv.Close)

	d := newDriver(t, srv.URL)
	d.AddRecipient(core.Address{Email: "user@example.com"})
	d.SetContentType("multipart/mixed")
	d.SetMessage("<p>Hello &amp; welcome</p>")

	require.True(t, d.Send(context.Background()))
	assert.Equal(t, "<p>Hello &amp; welcome</p>", got.HTMLBody)
	assert.Equal(t, "Hello & welcome", got.TextBody)
}

func TestDriver_SendAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = fmt.Fprint(w, `{"ErrorCode":300,"Message":"Invalid 'From' address."}`)
	}))
	t.Cleanup(srv.Close)

	d := newDriver(t, srv.URL)
	d.AddRecipient(core.Address{Email: "user@example.com"})
	d.SetMessage("hi")

	assert.False(t, d.Send(context.Background()))
	err := d.LastError()
	require.NotNil(t, err)
	assert.Equal(t, 300, err.Code)
	assert.Equal(t, "Invalid 'From' address.", err.Message)
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestDriver_SendStatusWithoutBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	d := newDriver(t, srv.URL)
	d.AddRecipient(core.Address{Email: "user@example.com"})
	d.SetMessage("hi")

	assert.False(t, d.Send(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, d.LastError().Code)
}

func TestDriver_TooManyRecipients(t *testing.T) {
	t.Parallel()

	d := newDriver(t, "http://127.0.0.1:1")
	for i := range maxRecipients + 1 {
		require.True(t, d.AddRecipient(core.Address{Email: fmt.Sprintf("user%d@example.com", i)}))
	}
	d.SetMessage("hi")

	assert.False(t, d.Send(context.Background()))
	assert.ErrorIs(t, d.LastError(), core.ErrValidation)
}

func TestDriver_EmbeddedImageUnsupported(t *testing.T) {
	t.Parallel()

	d := newDriver(t, "http://127.0.0.1:1")
	assert.False(t, d.SetEmbeddedImage("logo", "logo.png", ""))
	assert.ErrorIs(t, d.LastError(), core.ErrUnsupported)
}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), core.DriverConfig{Driver: core.DriverPostmark}, core.Environment{})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
