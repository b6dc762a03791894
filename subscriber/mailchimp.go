package subscriber

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lattiq/multimailer/internal/core"
)

type mergeAddress struct {
	Addr1   string `json:"addr1,omitempty"`
	Addr2   string `json:"addr2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

type member struct {
	EmailAddress string         `json:"email_address,omitempty"`
	Status       string         `json:"status,omitempty"`
	StatusIfNew  string         `json:"status_if_new,omitempty"`
	EmailType    string         `json:"email_type,omitempty"`
	MergeFields  map[string]any `json:"merge_fields,omitempty"`
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// MailChimp manages members through the Mailchimp Marketing API v3.
type MailChimp struct {
	state

	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
	listID    string
	listName  string
}

// NewMailChimp requires api_key. The API host is derived from the data
// center suffix of the key ("...-us6") unless url is set.
func NewMailChimp(_ context.Context, cfg core.DriverConfig, env core.Environment) (*MailChimp, error) {
	if err := cfg.Require("api_key", cfg.APIKey); err != nil {
		return nil, err
	}
	endpoint := cfg.URL
	if endpoint == "" {
		_, dc, ok := strings.Cut(cfg.APIKey, "-")
		if !ok || dc == "" {
			return nil, core.NewConfigurationError(string(core.DriverMailChimp), "api_key has no data center suffix")
		}
		endpoint = "https://" + dc + ".api.mailchimp.com/3.0"
	}
	return &MailChimp{
		state:     newState(core.DriverMailChimp, cfg, env),
		endpoint:  strings.TrimRight(endpoint, "/"),
		apiKey:    cfg.APIKey,
		userAgent: env.UserAgent,
		client:    env.HTTP(cfg.Timeout),
	}, nil
}

// Subscribe upserts the member. New members are pending until they confirm
// unless force is set.
func (s *MailChimp) Subscribe(ctx context.Context, force bool) bool {
	if !s.ready("subscribe") {
		return false
	}
	listID, ok := s.resolveList(ctx)
	if !ok {
		return false
	}

	m := member{
		EmailAddress: s.email,
		StatusIfNew:  "pending",
		EmailType:    "text",
		MergeFields:  s.mergeFields(),
	}
	if force {
		m.StatusIfNew = "subscribed"
		m.Status = "subscribed"
	}
	if s.contentType == core.ContentTypeHTML || s.contentType == core.ContentTypeMixed {
		m.EmailType = "html"
	}

	if !s.call(ctx, http.MethodPut, s.memberPath(listID), m, nil) {
		return false
	}
	return s.done(ctx, EventSubscribed)
}

// Unsubscribe marks the member unsubscribed, or archives it when del is set.
func (s *MailChimp) Unsubscribe(ctx context.Context, del bool) bool {
	if !s.ready("unsubscribe") {
		return false
	}
	listID, ok := s.resolveList(ctx)
	if !ok {
		return false
	}

	if del {
		ok = s.call(ctx, http.MethodDelete, s.memberPath(listID), nil, nil)
	} else {
		ok = s.call(ctx, http.MethodPatch, s.memberPath(listID), member{Status: "unsubscribed"}, nil)
	}
	if !ok {
		return false
	}
	return s.done(ctx, EventUnsubscribed)
}

func (s *MailChimp) memberPath(listID string) string {
	sum := md5.Sum([]byte(strings.ToLower(s.email)))
	return "/lists/" + url.PathEscape(listID) + "/members/" + hex.EncodeToString(sum[:])
}

func (s *MailChimp) mergeFields() map[string]any {
	a := s.attrs
	f := map[string]any{}
	if a.Organization != "" {
		f["ORG"] = a.Organization
	}
	if a.FirstName != "" {
		f["FIRST_NAME"] = a.FirstName
	}
	if a.LastName != "" {
		f["LAST_NAME"] = a.LastName
	}
	if a.Phone != "" {
		f["PHONE"] = a.Phone
	}
	if a.HasAddress() {
		f["ADDRESS"] = mergeAddress{
			Addr1:   a.Address1,
			Addr2:   a.Address2,
			City:    a.City,
			State:   a.State,
			Zip:     a.PostalCode,
			Country: a.Country,
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// resolveList finds the list id for the configured name. A value that is
// already a list id matches too.
func (s *MailChimp) resolveList(ctx context.Context) (string, bool) {
	if s.listID != "" && s.listName == s.list {
		return s.listID, true
	}

	var out struct {
		Lists []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"lists"`
	}
	if !s.call(ctx, http.MethodGet, "/lists?fields=lists.id,lists.name&count=1000", nil, &out) {
		return "", false
	}
	for _, l := range out.Lists {
		if l.ID == s.list || strings.EqualFold(l.Name, s.list) {
			s.listID, s.listName = l.ID, s.list
			return l.ID, true
		}
	}
	return "", s.fail(core.KindConfiguration, 0, fmt.Sprintf("mailing list %q not found", s.list))
}

func (s *MailChimp) call(ctx context.Context, method, path string, in, out any) bool {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return s.failWith(core.KindComposition, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, body)
	if err != nil {
		return s.failWith(core.KindConfiguration, err)
	}
	req.SetBasicAuth("multimailer", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return s.failWith(core.KindTransport, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var p problem
		_ = json.Unmarshal(raw, &p)
		msg := strings.TrimSpace(p.Title + ": " + p.Detail)
		if p.Title == "" {
			msg = "unexpected status " + resp.Status
		}
		return s.fail(core.KindTransport, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return s.failWith(core.KindTransport, err)
		}
	}
	return true
}
