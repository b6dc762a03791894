package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultContentType is used when a payload's type cannot be detected.
const DefaultContentType = "application/octet-stream"

// SourceKind identifies where attachment contents were loaded from.
type SourceKind string

const (
	SourceData   SourceKind = "data"
	SourceFile   SourceKind = "file"
	SourceString SourceKind = "string"
	SourceURL    SourceKind = "url"
)

// Valid checks if the source kind is supported.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceData, SourceFile, SourceString, SourceURL:
		return true
	default:
		return false
	}
}

// HTTPDoer is the subset of *http.Client used to fetch remote content.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DataSource holds raw bytes and their resolved MIME type. It is immutable
// once constructed.
type DataSource struct {
	kind        SourceKind
	origin      string
	filename    string
	contents    []byte
	contentType string
}

// Kind returns the source kind.
func (d DataSource) Kind() SourceKind { return d.kind }

// Contents returns a copy of the raw bytes.
func (d DataSource) Contents() []byte {
	return append([]byte(nil), d.contents...)
}

// ContentType returns the resolved MIME type.
func (d DataSource) ContentType() string { return d.contentType }

// Origin returns the path or URL the source was loaded from, if any.
func (d DataSource) Origin() string { return d.origin }

// FromAttachment copies type and contents from an existing attachment.
func FromAttachment(a Attachment) DataSource {
	return DataSource{
		kind:        SourceData,
		origin:      a.Name,
		filename:    a.Name,
		contents:    append([]byte(nil), a.contents...),
		contentType: a.ContentType,
	}
}

// FromString wraps literal text.
func FromString(s string) DataSource {
	return DataSource{
		kind:        SourceString,
		contents:    []byte(s),
		contentType: DefaultContentType,
	}
}

// FromFile reads a local file. It fails if the file does not exist.
func FromFile(p string) (DataSource, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return DataSource{}, NewValidationErrorWithValue("source", "file is not readable: "+err.Error(), p)
	}
	return DataSource{
		kind:        SourceFile,
		origin:      p,
		filename:    filepath.Base(p),
		contents:    b,
		contentType: DetectContentType(p),
	}, nil
}

// FromURL downloads a remote resource. Any non-2xx response is an error.
func FromURL(ctx context.Context, client HTTPDoer, rawURL string) (DataSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return DataSource{}, NewValidationErrorWithValue("source", "invalid url", rawURL)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return DataSource{}, NewValidationErrorWithValue("source", err.Error(), rawURL)
	}
	resp, err := client.Do(req)
	if err != nil {
		return DataSource{}, WrapError("", KindTransport, 0, "failed to fetch "+rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DataSource{}, NewError("", KindTransport, resp.StatusCode, fmt.Sprintf("failed to fetch %s: %s", rawURL, resp.Status))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return DataSource{}, WrapError("", KindTransport, 0, "failed to read "+rawURL, err)
	}

	return DataSource{
		kind:        SourceURL,
		origin:      rawURL,
		filename:    path.Base(u.Path),
		contents:    b,
		contentType: DetectContentType(path.Base(u.Path)),
	}, nil
}

// LoadSource builds a DataSource for the string-addressable kinds
// (file, string and url).
func LoadSource(ctx context.Context, client HTTPDoer, kind SourceKind, source string) (DataSource, error) {
	switch kind {
	case SourceFile:
		return FromFile(source)
	case SourceString:
		return FromString(source), nil
	case SourceURL:
		return FromURL(ctx, client, source)
	case SourceData:
		return DataSource{}, NewValidationErrorWithValue("kind", "data sources must be built from an attachment", kind)
	default:
		return DataSource{}, NewValidationErrorWithValue("kind", "unknown source kind", kind)
	}
}

// Attachment is an immutable binary payload ready to be attached to a message.
type Attachment struct {
	// Name is the file name shown to recipients, without any directory part.
	Name string

	// ContentType is the MIME type of the payload.
	ContentType string

	// Encoding is the transfer encoding. Always "base64".
	Encoding string

	contents []byte
}

// NewAttachment builds an attachment from a data source. The name is reduced
// to its base name; an empty name falls back to the file name of the source.
func NewAttachment(src DataSource, name string) Attachment {
	if name == "" {
		name = src.filename
	}
	name = baseName(name)
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}

	ct := src.contentType
	if ct == "" {
		ct = DefaultContentType
	}

	return Attachment{
		Name:        name,
		ContentType: ct,
		Encoding:    "base64",
		contents:    src.contents,
	}
}

// Contents returns a copy of the raw payload.
func (a Attachment) Contents() []byte {
	return append([]byte(nil), a.contents...)
}

// Size returns the payload size in bytes.
func (a Attachment) Size() int {
	return len(a.contents)
}

// Encoded returns the base64 payload wrapped at 76 columns with CRLF line
// endings, each line terminated.
func (a Attachment) Encoded() string {
	enc := base64.StdEncoding.EncodeToString(a.contents)
	var b strings.Builder
	b.Grow(len(enc) + len(enc)/76*2 + 2)
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	b.WriteString("\r\n")
	return b.String()
}

// Base64 returns the unwrapped base64 payload, as JSON APIs expect it.
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.contents)
}

// EmbeddedImage is an inline image referenced from an HTML body as cid:ContentID.
type EmbeddedImage struct {
	ContentID string
	Attachment
}

// NewEmbeddedImage loads file and names it alias (or its base name).
func NewEmbeddedImage(contentID, file, alias string) (EmbeddedImage, error) {
	contentID = strings.Trim(strings.TrimSpace(lineBreaks.Replace(contentID)), "<>")
	if contentID == "" {
		return EmbeddedImage{}, NewValidationError("content_id", "content id is required")
	}
	src, err := FromFile(file)
	if err != nil {
		return EmbeddedImage{}, err
	}
	return EmbeddedImage{
		ContentID:  contentID,
		Attachment: NewAttachment(src, alias),
	}, nil
}

// DetectContentType resolves a MIME type from a file name extension.
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return DefaultContentType
	}

	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".ppt":
		return "application/vnd.ms-powerpoint"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".csv":
		return "text/csv"
	case ".zip":
		return "application/zip"
	}

	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return DefaultContentType
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return path.Base(name)
}
