// Package whatcounts is a small client for the WhatCounts web API, shared by
// the mail driver and the subscriber.
package whatcounts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/lattiq/multimailer/internal/core"
)

// DefaultURL is the WhatCounts API endpoint.
const DefaultURL = "https://api.whatcounts.com/bin/api_web"

const driverName = string(core.DriverWhatCounts)

// Message formats understood by cmd=send and cmd=sub.
const (
	FormatPlain     = 1
	FormatHTML      = 2
	FormatMultipart = 99
)

// ErrListNotFound is returned by ListByName when no list matches.
var ErrListNotFound = errors.New("mailing list not found")

var (
	totalPattern     = regexp.MustCompile(`(?i)([0-9]+) record`)
	processedPattern = regexp.MustCompile(`(?i)Total Records Processed ([0-9]+)`)
)

// FormatFor maps a message content type to a WhatCounts format code.
func FormatFor(contentType string) int {
	switch core.NormalizeContentType(contentType) {
	case core.ContentTypeMixed:
		return FormatMultipart
	case core.ContentTypeHTML:
		return FormatHTML
	default:
		return FormatPlain
	}
}

// List is a mailing list as returned by cmd=show_lists.
type List struct {
	ID          string
	Name        string
	Description string
}

// SendRequest carries the fields of cmd=send.
type SendRequest struct {
	ListID        string
	To            string
	Format        int
	ErrorsTo      string
	ReplyTo       string
	From          string
	Subject       string
	Body          string
	PlainTextBody string
	HTMLBody      string
}

// Record is one subscriber row. Keys are WhatCounts field names.
type Record map[string]string

// Client issues form-encoded commands against the API.
type Client struct {
	endpoint  string
	realm     string
	password  string
	userAgent string
	http      *http.Client
}

// NewClient creates a client. An empty endpoint selects DefaultURL.
func NewClient(endpoint, realm, password string, hc *http.Client, userAgent string) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		endpoint:  endpoint,
		realm:     realm,
		password:  password,
		userAgent: userAgent,
		http:      hc,
	}
}

// Lists returns every mailing list of the realm.
func (c *Client) Lists(ctx context.Context) ([]List, error) {
	resp, err := c.do(ctx, "show_lists", url.Values{
		"output_format": {"csv"},
		"header":        {"0"},
	})
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(resp))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, core.WrapError(driverName, core.KindTransport, 0, "malformed list response: "+err.Error(), err)
	}

	lists := make([]List, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		l := List{ID: strings.TrimSpace(row[0]), Name: strings.TrimSpace(row[1])}
		if len(row) > 2 {
			l.Description = strings.TrimSpace(row[2])
		}
		lists = append(lists, l)
	}
	return lists, nil
}

// ListByName returns the first list whose name contains name, ignoring case.
func (c *Client) ListByName(ctx context.Context, name string) (List, error) {
	if name == "" {
		return List{}, ErrListNotFound
	}
	lists, err := c.Lists(ctx)
	if err != nil {
		return List{}, err
	}
	needle := strings.ToLower(name)
	for _, l := range lists {
		if strings.Contains(strings.ToLower(l.Name), needle) {
			return l, nil
		}
	}
	return List{}, fmt.Errorf("%w: %s", ErrListNotFound, name)
}

// Send delivers one message to one list member.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	form := url.Values{
		"list_id":         {req.ListID},
		"to":              {req.To},
		"format":          {strconv.Itoa(req.Format)},
		"errors_to":       {req.ErrorsTo},
		"body":            {req.Body},
		"plain_text_body": {req.PlainTextBody},
		"html_body":       {req.HTMLBody},
		"from":            {req.From},
		"subject":         {req.Subject},
	}
	if req.ReplyTo != "" {
		form.Set("reply_to", req.ReplyTo)
	}

	resp, err := c.do(ctx, "send", form)
	if err != nil {
		return err
	}
	if !hasSuccess(resp) {
		return core.NewError(driverName, core.KindTransport, 0, "failed to send message to "+req.To+": "+firstLine(resp))
	}
	return nil
}

// Subscribe adds records to a list and returns the number processed.
func (c *Client) Subscribe(ctx context.Context, listID string, records []Record, format int, force bool) (int, error) {
	resp, err := c.do(ctx, "sub", url.Values{
		"list_id":   {listID},
		"format":    {strconv.Itoa(format)},
		"force_sub": {boolFlag(force)},
		"data":      {encodeRecords(records)},
	})
	if err != nil {
		return 0, err
	}
	if !strings.Contains(resp, "SUCCESS:") {
		return 0, core.NewError(driverName, core.KindTransport, 0, "subscribe rejected: "+firstLine(resp))
	}
	return count(processedPattern, resp), nil
}

// Unsubscribe removes email from a list. optOut also blocks future mail.
func (c *Client) Unsubscribe(ctx context.Context, listID, email string, optOut bool) (int, error) {
	resp, err := c.do(ctx, "unsub", url.Values{
		"list_id": {listID},
		"optout":  {boolFlag(optOut)},
		"data":    {"email^" + email},
	})
	if err != nil {
		return 0, err
	}
	if !strings.Contains(resp, "SUCCESS:") {
		return 0, core.NewError(driverName, core.KindTransport, 0, "unsubscribe rejected: "+firstLine(resp))
	}
	return count(totalPattern, resp), nil
}

// Delete removes email from the realm.
func (c *Client) Delete(ctx context.Context, email string) error {
	resp, err := c.do(ctx, "delete", url.Values{"data": {"email^" + email}})
	if err != nil {
		return err
	}
	if !strings.Contains(resp, "SUCCESS:") {
		return core.NewError(driverName, core.KindTransport, 0, "delete rejected: "+firstLine(resp))
	}
	return nil
}

func (c *Client) do(ctx context.Context, cmd string, form url.Values) (string, error) {
	form.Set("cmd", cmd)
	form.Set("realm", c.realm)
	form.Set("pwd", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", core.WrapError(driverName, core.KindConfiguration, 0, err.Error(), err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", core.WrapError(driverName, core.KindTransport, 0, cmd+" request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.WrapError(driverName, core.KindTransport, resp.StatusCode, "failed to read response: "+err.Error(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", core.NewError(driverName, core.KindTransport, resp.StatusCode, fmt.Sprintf("%s returned status %s", cmd, resp.Status))
	}
	return string(body), nil
}

// encodeRecords renders rows as "f1,f2^v1,v2^v1,v2" with the fields of the
// first record.
func encodeRecords(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	fields := make([]string, 0, len(records[0]))
	for k := range records[0] {
		fields = append(fields, k)
	}
	sortFields(fields)

	var b strings.Builder
	b.WriteString(strings.Join(fields, ","))
	for _, r := range records {
		b.WriteByte('^')
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(r[f])
		}
	}
	return b.String()
}

// sortFields orders email first, then the rest alphabetically.
func sortFields(fields []string) {
	slices.SortFunc(fields, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "email":
			return -1
		case b == "email":
			return 1
		}
		return strings.Compare(a, b)
	})
}

func hasSuccess(resp string) bool {
	return len(resp) >= 7 && strings.EqualFold(resp[:7], "SUCCESS")
}

func count(re *regexp.Regexp, resp string) int {
	m := re.FindStringSubmatch(resp)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
