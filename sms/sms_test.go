package sms

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"

	"github.com/mhale/smtpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/multimailer/internal/core"
	"github.com/lattiq/multimailer/internal/drivers/smtp"
)

type inbox struct {
	mu   sync.Mutex
	from []string
	to   [][]string
	data [][]byte
}

func startRelay(t *testing.T) (*inbox, *net.TCPAddr) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	box := &inbox{}
	srv := &smtpd.Server{
		Appname:  "smstest",
		Hostname: "mx.test",
		Handler: func(_ net.Addr, from string, to []string, data []byte) error {
			box.mu.Lock()
			defer box.mu.Unlock()
			box.from = append(box.from, from)
			box.to = append(box.to, to)
			box.data = append(box.data, data)
			return nil
		},
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return box, ln.Addr().(*net.TCPAddr)
}

func relayFactory(addr *net.TCPAddr) MailerFactory {
	return func(ctx context.Context) (Mailer, error) {
		d, err := smtp.New(ctx, core.DriverConfig{
			Driver: core.DriverSMTP,
			Host:   addr.IP.String(),
			Port:   addr.Port,
			TLS:    core.TLSNone,
		}, core.Environment{})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}

func TestCarrier_Address(t *testing.T) {
	t.Parallel()

	a, err := Verizon.Address("(555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, "5551234567@vtext.com", a.Email)

	a, err = TMobile.Address("+1 555.987.6543")
	require.NoError(t, err)
	assert.Equal(t, "15559876543@tmomail.net", a.Email)

	_, err = Carrier("pager").Address("5551234567")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = ATT.Address("call me")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCarrier_Gateways(t *testing.T) {
	t.Parallel()

	for c, want := range map[Carrier]string{
		Alltel:   "message.alltel.com",
		ATT:      "txt.att.net",
		Boost:    "myboostmobile.com",
		Cingular: "mobile.mycingular.com",
		Nextel:   "messaging.nextel.com",
		Sprint:   "messaging.sprintpcs.com",
		TMobile:  "tmomail.net",
		Verizon:  "vtext.com",
		Virgin:   "vmobl.com",
	} {
		got, ok := c.Gateway()
		assert.True(t, ok, c)
		assert.Equal(t, want, got)
	}
}

func TestService_Send(t *testing.T) {
	t.Parallel()

	box, addr := startRelay(t)
	svc := NewService(relayFactory(addr), WithSender("555-000-1111", Sprint), WithSubject("Alert"))

	require.NoError(t, svc.Send(context.Background(), "555-123-4567", Verizon, "Disk is 91% full"))
	require.NoError(t, svc.Send(context.Background(), "5559876543", ATT, "Disk is fine"))

	box.mu.Lock()
	defer box.mu.Unlock()
	require.Len(t, box.to, 2)
	assert.Equal(t, "5550001111@messaging.sprintpcs.com", box.from[0])
	assert.Equal(t, []string{"5551234567@vtext.com"}, box.to[0])
	assert.Equal(t, []string{"5559876543@txt.att.net"}, box.to[1])
	assert.True(t, bytes.Contains(box.data[0], []byte("Subject: Alert")))
	assert.True(t, bytes.Contains(box.data[0], []byte("Disk is 91% full")))
}

func TestService_SendValidation(t *testing.T) {
	t.Parallel()

	calls := 0
	svc := NewService(func(context.Context) (Mailer, error) {
		calls++
		return nil, assert.AnError
	})

	assert.ErrorIs(t, svc.Send(context.Background(), "", Verizon, "hi"), core.ErrValidation)
	assert.ErrorIs(t, svc.Send(context.Background(), "5551234567", Carrier("pager"), "hi"), core.ErrValidation)
	assert.Zero(t, calls)

	assert.ErrorIs(t, svc.Send(context.Background(), "5551234567", Verizon, "hi"), assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestService_SendFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	svc := NewService(relayFactory(addr), WithSender("5550001111", Sprint))
	err = svc.Send(context.Background(), "5551234567", Verizon, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransport)
}
