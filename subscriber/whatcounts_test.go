package subscriber

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

type fakeRealm struct {
	mu    sync.Mutex
	forms []url.Values
	fail  string
}

func (f *fakeRealm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	fail := f.fail
	f.mu.Unlock()

	cmd := r.PostForm.Get("cmd")
	switch {
	case cmd == "show_lists":
		_, _ = fmt.Fprint(w, "\"77\",\"Customers\",\"\"\n")
	case cmd == fail:
		_, _ = fmt.Fprint(w, "FAILURE: realm is locked")
	case cmd == "sub":
		_, _ = fmt.Fprint(w, "SUCCESS: Total Records Processed 1, Total Subscriptions 1, Records Added 1")
	default:
		_, _ = fmt.Fprint(w, "SUCCESS: 1 records processed")
	}
}

func (f *fakeRealm) recorded() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.forms...)
}

func newWhatCounts(t *testing.T, f *fakeRealm) *WhatCounts {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	s, err := NewWhatCounts(context.Background(), core.DriverConfig{
		Driver:      core.DriverWhatCounts,
		URL:         srv.URL,
		Credentials: &core.Credentials{Username: "realm", Password: "secret"},
		MailingList: "customers",
	}, core.Environment{HTTPClient: srv.Client()})
	require.NoError(t, err)
	return s
}

func TestWhatCounts_Subscribe(t *testing.T) {
	t.Parallel()

	f := &fakeRealm{}
	s := newWhatCounts(t, f)
	require.True(t, s.SetSubscriber("jane@example.com", Attributes{
		FirstName:  "Jane",
		LastName:   "Doe",
		PostalCode: "12345",
	}))
	s.SetContentType("multipart/mixed")

	require.True(t, s.Subscribe(context.Background(), true), "%v", s.LastError())

	forms := f.recorded()
	require.Len(t, forms, 2)
	sub := forms[1]
	assert.Equal(t, "sub", sub.Get("cmd"))
	assert.Equal(t, "77", sub.Get("list_id"))
	assert.Equal(t, "99", sub.Get("format"))
	assert.Equal(t, "1", sub.Get("force_sub"))
	assert.Equal(t, "email,first,last,zip^jane@example.com,Jane,Doe,12345", sub.Get("data"))
}

func TestWhatCounts_Unsubscribe(t *testing.T) {
	t.Parallel()

	f := &fakeRealm{}
	s := newWhatCounts(t, f)
	require.True(t, s.SetSubscriber("jane@example.com", Attributes{}))

	require.True(t, s.Unsubscribe(context.Background(), true))

	forms := f.recorded()
	require.Len(t, forms, 3)
	assert.Equal(t, "unsub", forms[1].Get("cmd"))
	assert.Equal(t, "email^jane@example.com", forms[1].Get("data"))
	assert.Equal(t, "delete", forms[2].Get("cmd"))
}

func TestWhatCounts_Rejected(t *testing.T) {
	t.Parallel()

	f := &fakeRealm{fail: "sub"}
	s := newWhatCounts(t, f)
	require.True(t, s.SetSubscriber("jane@example.com", Attributes{}))

	assert.False(t, s.Subscribe(context.Background(), false))
	e := s.LastError()
	require.NotNil(t, e)
	assert.ErrorIs(t, e, core.ErrTransport)
	assert.Contains(t, e.Message, "realm is locked")
}

func TestWhatCounts_UnknownList(t *testing.T) {
	t.Parallel()

	f := &fakeRealm{}
	s := newWhatCounts(t, f)
	s.SetMailingList("prospects")
	require.True(t, s.SetSubscriber("jane@example.com", Attributes{}))

	assert.False(t, s.Subscribe(context.Background(), false))
	assert.ErrorIs(t, s.LastError(), core.ErrConfiguration)
}

func TestNew_Registry(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), core.DriverConfig{Driver: core.DriverMailChimp, APIKey: "k-us1"}, core.Environment{})
	require.NoError(t, err)
	assert.Equal(t, core.DriverMailChimp, s.Kind())

	_, err = New(context.Background(), core.DriverConfig{Driver: core.DriverWhatCounts}, core.Environment{})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = New(context.Background(), core.DriverConfig{Driver: core.DriverSMTP}, core.Environment{})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
