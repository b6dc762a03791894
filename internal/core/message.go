package core

import (
	"mime"
	"strings"

	"github.com/samber/lo"
)

// DefaultSubject replaces an empty subject.
const DefaultSubject = "(no subject)"

// Content types accepted by SetContentType.
const (
	ContentTypePlain = "text/plain"
	ContentTypeHTML  = "text/html"
	ContentTypeMixed = "multipart/mixed"
)

// Tracking toggles provider side open and click tracking.
type Tracking struct {
	Opens  bool `json:"opens" yaml:"opens"`
	Clicks bool `json:"clicks" yaml:"clicks"`
}

// Options are provider hints applied with SetOptions.
type Options struct {
	Tags  []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Track *Tracking `json:"track,omitempty" yaml:"track,omitempty"`
}

// Merge returns o updated with n. Tags from n come first; tracking is
// replaced when n sets it.
func (o Options) Merge(n Options) Options {
	out := Options{
		Tags:  lo.Uniq(append(append([]string(nil), n.Tags...), o.Tags...)),
		Track: o.Track,
	}
	if n.Track != nil {
		t := *n.Track
		out.Track = &t
	}
	if len(out.Tags) == 0 {
		out.Tags = nil
	}
	return out
}

// Tracking returns the effective tracking flags.
func (o Options) Tracking() Tracking {
	if o.Track == nil {
		return Tracking{}
	}
	return *o.Track
}

// Message is the state a driver accumulates across mutator calls.
type Message struct {
	Sender      Address
	ReplyTo     Address
	To          []Address
	CC          []Address
	BCC         []Address
	Subject     string
	ContentType string
	Body        string
	AltBody     string
	Attachments []Attachment
	Images      []EmbeddedImage
}

// NormalizeSubject strips line terminators and substitutes DefaultSubject
// for blank input.
func NormalizeSubject(s string) string {
	s = strings.TrimSpace(lineBreaks.Replace(s))
	if s == "" {
		return DefaultSubject
	}
	return s
}

// NormalizeContentType lowercases ct and drops any parameters.
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(lineBreaks.Replace(ct))
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(ct)
}

// EffectiveSubject returns the subject, defaulted when never set.
func (m *Message) EffectiveSubject() string {
	if m.Subject == "" {
		return DefaultSubject
	}
	return m.Subject
}

// EffectiveContentType returns the content type, text/plain when unset.
func (m *Message) EffectiveContentType() string {
	if m.ContentType == "" {
		return ContentTypePlain
	}
	return m.ContentType
}

// EffectiveReplyTo returns the reply-to address, or the sender when unset.
func (m *Message) EffectiveReplyTo() Address {
	if m.ReplyTo.IsZero() {
		return m.Sender
	}
	return m.ReplyTo
}

// IsHTML reports whether the body should be treated as HTML.
func (m *Message) IsHTML() bool {
	ct := m.EffectiveContentType()
	return ct == ContentTypeHTML || ct == ContentTypeMixed
}

// Recipients returns To, Cc and Bcc addresses in that order.
func (m *Message) Recipients() []Address {
	all := make([]Address, 0, len(m.To)+len(m.CC)+len(m.BCC))
	all = append(all, m.To...)
	all = append(all, m.CC...)
	all = append(all, m.BCC...)
	return all
}

// HasParts reports whether the message carries attachments or inline images.
func (m *Message) HasParts() bool {
	return len(m.Attachments) > 0 || len(m.Images) > 0
}

// Validate checks that the message can be sent.
func (m *Message) Validate() error {
	if m.Sender.IsZero() {
		return NewError("", KindComposition, 0, "sender is required")
	}
	if len(m.To) == 0 {
		return NewError("", KindComposition, 0, "at least one recipient is required")
	}
	if strings.TrimSpace(m.Body) == "" {
		return NewError("", KindComposition, 0, "message body is required")
	}
	switch m.EffectiveContentType() {
	case ContentTypePlain, ContentTypeHTML, ContentTypeMixed:
	default:
		return NewError("", KindComposition, 0, "unsupported content type: "+m.ContentType)
	}
	return nil
}

// Addresses maps addresses to their email part.
func Addresses(list []Address) []string {
	return lo.Map(list, func(a Address, _ int) string { return a.Email })
}

// Formatted maps addresses to their display form.
func Formatted(list []Address) []string {
	return lo.Map(list, func(a Address, _ int) string { return a.String() })
}
