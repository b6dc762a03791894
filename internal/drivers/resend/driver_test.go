package resend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/resend/resend-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/multimailer/internal/core"
)

type mockEmails struct {
	mock.Mock
}

func (m *mockEmails) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	args := m.Called(ctx, params)
	resp, _ := args.Get(0).(*resend.SendEmailResponse)
	return resp, args.Error(1)
}

func newDriver(t *testing.T, client Client) *Driver {
	t.Helper()
	d, err := NewWithClient(client, core.DriverConfig{
		Driver:  core.DriverResend,
		Sender:  &core.AddressConfig{Email: "noreply@example.com", Name: "Example"},
		Options: core.Options{Tags: []string{"password reset"}},
	}, core.Environment{})
	require.NoError(t, err)
	return d
}

func TestDriver_Send(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logo := filepath.Join(dir, "logo.gif")
	require.NoError(t, os.WriteFile(logo, []byte("GIF89a"), 0o600))

	client := &mockEmails{}
	client.On("SendWithContext", mock.Anything, mock.MatchedBy(func(r *resend.SendEmailRequest) bool {
		return r.From == `"Example" <noreply@example.com>` &&
			assert.ObjectsAreEqual([]string{"to@example.com"}, r.To) &&
			assert.ObjectsAreEqual([]string{"cc@example.com"}, r.Cc) &&
			assert.ObjectsAreEqual([]string{"bcc@example.com"}, r.Bcc) &&
			r.Subject == "Reset" &&
			r.ReplyTo == `"Example" <noreply@example.com>` &&
			r.Html == `<p>Reset <img src="cid:logo"></p>` &&
			r.Text == "Reset" &&
			len(r.Attachments) == 2 &&
			r.Attachments[0].Filename == "token.txt" &&
			string(r.Attachments[0].Content) == "abc" &&
			r.Attachments[0].ContentId == "" &&
			r.Attachments[1].ContentId == "logo" &&
			r.Attachments[1].ContentType == "image/gif" &&
			assert.ObjectsAreEqual([]resend.Tag{{Name: "password_reset", Value: "true"}}, r.Tags)
	})).Return(&resend.SendEmailResponse{Id: "re_123"}, nil)

	d := newDriver(t, client)
	require.True(t, d.AddRecipient(core.Address{Email: "to@example.com"}))
	require.True(t, d.AddCC(core.Address{Email: "cc@example.com"}))
	require.True(t, d.AddBCC(core.Address{Email: "bcc@example.com"}))
	d.SetSubject("Reset")
	d.SetContentType("text/html")
	d.SetMessage(`<p>Reset <img src="cid:logo"></p>`)
	require.True(t, d.AddAttachment(core.NewAttachment(core.FromString("abc"), "token.txt")))
	require.True(t, d.SetEmbeddedImage("<logo>", logo, ""))

	require.True(t, d.Send(context.Background()))
	assert.Equal(t, "re_123", d.MessageID())
	client.AssertExpectations(t)
}

func TestDriver_SendError(t *testing.T) {
	t.Parallel()

	client := &mockEmails{}
	client.On("SendWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("validation_error: invalid from"))

	d := newDriver(t, client)
	d.AddRecipient(core.Address{Email: "to@example.com"})
	d.SetMessage("plain")

	assert.False(t, d.Send(context.Background()))
	assert.ErrorIs(t, d.LastError(), core.ErrTransport)
	assert.Equal(t, "validation_error: invalid from", d.LastError().Message)
}

func TestDriver_SendTwice(t *testing.T) {
	t.Parallel()

	client := &mockEmails{}
	client.On("SendWithContext", mock.Anything, mock.Anything).Return(&resend.SendEmailResponse{Id: "re_1"}, nil).Once()

	d := newDriver(t, client)
	d.AddRecipient(core.Address{Email: "to@example.com"})
	d.SetMessage("plain")

	require.True(t, d.Send(context.Background()))
	assert.False(t, d.Send(context.Background()))
	assert.ErrorIs(t, d.LastError(), core.ErrComposition)
	client.AssertNumberOfCalls(t, "SendWithContext", 1)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), core.DriverConfig{Driver: core.DriverResend}, core.Environment{})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	d, err := New(context.Background(), core.DriverConfig{
		Driver: core.DriverResend,
		APIKey: "re_key",
		URL:    "http://localhost:9000/",
	}, core.Environment{UserAgent: "multimailer-test"})
	require.NoError(t, err)
	assert.Equal(t, core.DriverResend, d.Kind())
}
