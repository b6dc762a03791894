// Package rawmime builds RFC 2822 messages for backends that only accept a
// fully formed message.
package rawmime

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/lattiq/multimailer/internal/core"
)

const crlf = "\r\n"

// Options tunes header generation.
type Options struct {
	// Now supplies the Date header. Defaults to time.Now.
	Now func() time.Time

	// Locale is emitted as Accept-Language and Content-Language.
	// Defaults to en-US.
	Locale language.Tag

	// OmitBcc drops the Bcc header. SMTP delivers Bcc copies through the
	// envelope only.
	OmitBcc bool

	// Boundary returns a fresh token for each multipart boundary.
	// Defaults to a random UUID.
	Boundary func() string
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) locale() string {
	if o.Locale == language.Und {
		return language.AmericanEnglish.String()
	}
	return o.Locale.String()
}

func (o Options) token() string {
	if o.Boundary != nil {
		return o.Boundary()
	}
	return uuid.NewString()
}

func (o Options) boundary(prefix string) string {
	return prefix + "-" + o.token()
}

// Compose renders m as a raw message. Only text/html bodies get a
// multipart/alternative with a plain text fallback; every other body is a
// single text/plain part. multipart/mixed always produces a mixed wrapper,
// even without attachments.
//
// It fails with a KindComposition error
// when m lacks a sender, recipients or a body, or carries a content type
// other than text/plain, text/html or multipart/mixed.
func Compose(m *core.Message, opts Options) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeaders(&buf, m, opts)

	html := m.EffectiveContentType() == core.ContentTypeHTML
	if m.HasParts() || m.EffectiveContentType() == core.ContentTypeMixed {
		mixed := opts.boundary("mixed")
		writeHeader(&buf, "Content-Type", `multipart/mixed;`+crlf+"\t"+`boundary="`+mixed+`"`)
		buf.WriteString(crlf)

		buf.WriteString("--" + mixed + crlf)
		if html {
			writeAlternative(&buf, m, opts.boundary("alt"))
		} else {
			writeTextPart(&buf, core.ContentTypePlain, m.Body)
		}

		for _, a := range m.Attachments {
			buf.WriteString(crlf + "--" + mixed + crlf)
			writeAttachment(&buf, a)
		}
		for _, img := range m.Images {
			buf.WriteString(crlf + "--" + mixed + crlf)
			writeInline(&buf, img)
		}
		buf.WriteString(crlf + "--" + mixed + "--" + crlf)
		return buf.Bytes(), nil
	}

	ct := core.ContentTypePlain
	if html {
		ct = core.ContentTypeHTML
	}
	writeTextPart(&buf, ct, m.Body)
	return buf.Bytes(), nil
}

// PlainText returns the alt body, or the body with markup stripped when the
// message is HTML.
func PlainText(m *core.Message) string {
	if m.AltBody != "" {
		return m.AltBody
	}
	if m.IsHTML() {
		return StripTags(m.Body)
	}
	return m.Body
}

func writeHeaders(buf *bytes.Buffer, m *core.Message, opts Options) {
	writeHeader(buf, "MIME-Version", "1.0")
	writeHeader(buf, "Subject", encodeHeader(m.EffectiveSubject()))
	writeHeader(buf, "From", m.Sender.Header())
	if r := m.EffectiveReplyTo(); !r.IsZero() {
		writeHeader(buf, "Reply-To", r.Header())
	}
	writeHeader(buf, "To", joinAddresses(m.To))
	if len(m.CC) > 0 {
		writeHeader(buf, "Cc", joinAddresses(m.CC))
	}
	if len(m.BCC) > 0 && !opts.OmitBcc {
		writeHeader(buf, "Bcc", joinAddresses(m.BCC))
	}
	writeHeader(buf, "Date", opts.now().Format(time.RFC1123Z))
	writeHeader(buf, "Message-ID", messageID(opts.token(), m.Sender))
	writeHeader(buf, "Accept-Language", opts.locale())
	writeHeader(buf, "Content-Language", opts.locale())
}

func writeAlternative(buf *bytes.Buffer, m *core.Message, alt string) {
	writeHeader(buf, "Content-Type", `multipart/alternative;`+crlf+"\t"+`boundary="`+alt+`"`)
	buf.WriteString(crlf)

	buf.WriteString("--" + alt + crlf)
	writeTextPart(buf, core.ContentTypeHTML, m.Body)
	buf.WriteString(crlf + "--" + alt + crlf)
	writeTextPart(buf, core.ContentTypePlain, PlainText(m))
	buf.WriteString(crlf + "--" + alt + "--" + crlf)
}

// writeTextPart writes part headers, the blank separator and the body.
// ASCII bodies go out as 7bit; anything else is quoted-printable UTF-8.
func writeTextPart(buf *bytes.Buffer, contentType, body string) {
	body = normalizeNewlines(body)
	if core.IsASCII(body) {
		writeHeader(buf, "Content-Type", contentType+`; charset="us-ascii"`)
		writeHeader(buf, "Content-Transfer-Encoding", "7bit")
		buf.WriteString(crlf)
		buf.WriteString(body)
		return
	}

	writeHeader(buf, "Content-Type", contentType+`; charset="utf-8"`)
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString(crlf)
	qp := quotedprintable.NewWriter(buf)
	_, _ = qp.Write([]byte(body))
	_ = qp.Close()
}

func writeAttachment(buf *bytes.Buffer, a core.Attachment) {
	name := quoteParam(a.Name)
	writeHeader(buf, "Content-Type", a.ContentType+`; name="`+name+`"`)
	writeHeader(buf, "Content-Transfer-Encoding", a.Encoding)
	writeHeader(buf, "Content-Disposition", `attachment; filename="`+name+`"`)
	buf.WriteString(crlf)
	buf.WriteString(strings.TrimSuffix(a.Encoded(), crlf))
}

func writeInline(buf *bytes.Buffer, img core.EmbeddedImage) {
	name := quoteParam(img.Name)
	writeHeader(buf, "Content-Type", img.ContentType+`; name="`+name+`"`)
	writeHeader(buf, "Content-Transfer-Encoding", img.Encoding)
	writeHeader(buf, "Content-ID", "<"+img.ContentID+">")
	writeHeader(buf, "Content-Disposition", `inline; filename="`+name+`"`)
	buf.WriteString(crlf)
	buf.WriteString(strings.TrimSuffix(img.Encoded(), crlf))
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString(crlf)
}

func joinAddresses(list []core.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = a.Header()
	}
	return strings.Join(parts, ", ")
}

func encodeHeader(s string) string {
	if core.IsASCII(s) {
		return s
	}
	return mime.QEncoding.Encode("UTF-8", s)
}

func quoteParam(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "").Replace(s)
	if !core.IsASCII(s) {
		return mime.QEncoding.Encode("UTF-8", s)
	}
	return s
}

func messageID(token string, sender core.Address) string {
	domain := "localhost"
	if i := strings.LastIndexByte(sender.Email, '@'); i >= 0 {
		domain = sender.Email[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", token, domain)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", crlf)
}
