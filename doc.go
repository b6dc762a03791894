// Package mailer sends one message through an ordered chain of delivery
// backends, falling back to the next backend when one fails.
//
// Every backend (a Driver) accumulates the same message: recipients, sender,
// subject, body and attachments. A Client wraps several drivers and
// broadcasts each mutator to all of them, so that any one of them can deliver
// the message. Send then tries the drivers in order and stops at the first
// that accepts it.
//
// # Basic Usage
//
//	client, err := mailer.New(ctx, []mailer.DriverConfig{
//		{Driver: mailer.DriverSMTP, Host: "localhost", Port: 25},
//		{Driver: mailer.DriverSES, Region: "us-east-1"},
//	}, mailer.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//
//	client.SetSender(mailer.MustAddress("noreply@example.com", "Example"))
//	client.AddRecipient(mailer.MustAddress("user@example.com", ""))
//	client.SetSubject("Welcome")
//	client.SetContentType(mailer.ContentTypeHTML)
//	client.SetMessage("<h1>Welcome!</h1>")
//
//	if !client.Send(ctx) {
//		return client.LastError()
//	}
//
// Mutators return false when any driver rejected the change. A driver that
// cannot take an attachment fails AddAttachment while the others keep it,
// so the result of a mutator does not decide whether Send can succeed.
//
// # Drivers
//
//   - ses: Amazon SES, raw MIME with optional DKIM signing
//   - smtp: any SMTP relay
//   - postmark, sendgrid, mailgun, resend: provider HTTP APIs
//   - mailchimp: Mailchimp STS
//   - whatcounts: WhatCounts one-off list sends
//
// # Errors
//
// Operations report failure with a bool and record an *Error readable with
// LastError. Errors carry a Kind and compare with errors.Is against the Err*
// sentinels.
package mailer
