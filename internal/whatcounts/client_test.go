package whatcounts

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/multimailer/internal/core"
)

type recorder struct {
	mu    sync.Mutex
	forms []url.Values
}

func (r *recorder) add(v url.Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms = append(r.forms, v)
}

func (r *recorder) all() []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.forms...)
}

func newServer(t *testing.T, reply func(cmd string) string) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		rec.add(r.PostForm)
		_, _ = fmt.Fprint(w, reply(r.PostForm.Get("cmd")))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "realm", "secret", srv.Client(), "multimailer-test"), rec
}

func TestClient_ListByName(t *testing.T) {
	t.Parallel()

	c, rec := newServer(t, func(string) string {
		return "\"101\",\"Newsletter Weekly\",\"weekly digest\"\n\"102\",\"Alerts\",\"\"\n"
	})

	l, err := c.ListByName(context.Background(), "newsletter")
	require.NoError(t, err)
	assert.Equal(t, List{ID: "101", Name: "Newsletter Weekly", Description: "weekly digest"}, l)

	forms := rec.all()
	require.Len(t, forms, 1)
	assert.Equal(t, "show_lists", forms[0].Get("cmd"))
	assert.Equal(t, "realm", forms[0].Get("realm"))
	assert.Equal(t, "secret", forms[0].Get("pwd"))
	assert.Equal(t, "csv", forms[0].Get("output_format"))

	_, err = c.ListByName(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrListNotFound)
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	c, rec := newServer(t, func(string) string { return "SUCCESS: message queued" })

	err := c.Send(context.Background(), SendRequest{
		ListID:   "101",
		To:       "user@example.com",
		Format:   FormatHTML,
		ErrorsTo: "bounce@example.com",
		From:     `"Example" <noreply@example.com>`,
		Subject:  "Hello & welcome",
		HTMLBody: "<p>Hi</p>",
	})
	require.NoError(t, err)

	f := rec.all()[0]
	assert.Equal(t, "send", f.Get("cmd"))
	assert.Equal(t, "101", f.Get("list_id"))
	assert.Equal(t, "2", f.Get("format"))
	assert.Equal(t, "Hello & welcome", f.Get("subject"))
	assert.Equal(t, "<p>Hi</p>", f.Get("html_body"))
	assert.False(t, f.Has("reply_to"))
}

func TestClient_SendFailure(t *testing.T) {
	t.Parallel()

	c, _ := newServer(t, func(string) string { return "FAILURE: invalid list\nmore" })

	err := c.Send(context.Background(), SendRequest{ListID: "1", To: "user@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Contains(t, err.Error(), "FAILURE: invalid list")
	assert.NotContains(t, err.Error(), "more")
}

func TestClient_HTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "realm", "secret", nil, "")
	err := c.Send(context.Background(), SendRequest{ListID: "1", To: "user@example.com"})

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusBadGateway, e.Code)
}

func TestClient_SubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	c, rec := newServer(t, func(cmd string) string {
		if cmd == "sub" {
			return "SUCCESS: Total Records Processed 2, Total Subscriptions 2, Records Added 0"
		}
		return "SUCCESS: 1 record unsubscribed"
	})

	n, err := c.Subscribe(context.Background(), "101", []Record{
		{"email": "user@example.com", "first": "Ada", "last": "Lovelace"},
	}, FormatHTML, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Unsubscribe(context.Background(), "101", "user@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	forms := rec.all()
	require.Len(t, forms, 2)
	assert.Equal(t, "email,first,last^user@example.com,Ada,Lovelace", forms[0].Get("data"))
	assert.Equal(t, "1", forms[0].Get("force_sub"))
	assert.Equal(t, "2", forms[0].Get("format"))
	assert.Equal(t, "email^user@example.com", forms[1].Get("data"))
	assert.Equal(t, "0", forms[1].Get("optout"))
}

func TestCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, count(processedPattern, "SUCCESS: Total Records Processed 1, Total Subscriptions 1, Records Added 0"))
	assert.Equal(t, 0, count(processedPattern, "SUCCESS: 4 records unsubscribed"))
	assert.Equal(t, 4, count(totalPattern, "SUCCESS: 4 records unsubscribed"))
	assert.Equal(t, 0, count(totalPattern, "FAILURE"))
}

func TestFormatFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatPlain, FormatFor(""))
	assert.Equal(t, FormatPlain, FormatFor("text/plain"))
	assert.Equal(t, FormatHTML, FormatFor("TEXT/HTML; charset=utf-8"))
	assert.Equal(t, FormatMultipart, FormatFor("multipart/mixed"))
}
