package subscriber

import (
	"context"
	"log/slog"

	"github.com/lattiq/multimailer/internal/core"
	wcapi "github.com/lattiq/multimailer/internal/whatcounts"
)

// WhatCounts manages list membership with the WhatCounts HTTP API.
type WhatCounts struct {
	state

	client   *wcapi.Client
	listID   string
	listName string
}

// NewWhatCounts requires credentials.
func NewWhatCounts(_ context.Context, cfg core.DriverConfig, env core.Environment) (*WhatCounts, error) {
	if cfg.Credentials == nil {
		return nil, core.NewConfigurationError(string(core.DriverWhatCounts), "credentials are required")
	}
	client := wcapi.NewClient(cfg.URL, cfg.Credentials.Username, cfg.Credentials.Password,
		env.HTTP(cfg.Timeout), env.UserAgent)
	return NewWhatCountsWithClient(client, cfg, env), nil
}

// NewWhatCountsWithClient shares an existing API client.
func NewWhatCountsWithClient(client *wcapi.Client, cfg core.DriverConfig, env core.Environment) *WhatCounts {
	return &WhatCounts{
		state:  newState(core.DriverWhatCounts, cfg, env),
		client: client,
	}
}

// Subscribe adds the subscriber with its profile fields. force bypasses the
// list's confirmation step.
func (s *WhatCounts) Subscribe(ctx context.Context, force bool) bool {
	if !s.ready("subscribe") {
		return false
	}
	listID, ok := s.resolveList(ctx)
	if !ok {
		return false
	}

	n, err := s.client.Subscribe(ctx, listID, []wcapi.Record{s.record()}, wcapi.FormatFor(s.contentType), force)
	if err != nil {
		return s.failWith(core.KindTransport, err)
	}
	s.logger.DebugContext(ctx, "subscribe processed", slog.Int("records", n))
	return s.done(ctx, EventSubscribed)
}

// Unsubscribe removes the subscriber from the list. del also removes the
// address from the realm.
func (s *WhatCounts) Unsubscribe(ctx context.Context, del bool) bool {
	if !s.ready("unsubscribe") {
		return false
	}
	listID, ok := s.resolveList(ctx)
	if !ok {
		return false
	}

	if _, err := s.client.Unsubscribe(ctx, listID, s.email, false); err != nil {
		return s.failWith(core.KindTransport, err)
	}
	if del {
		if err := s.client.Delete(ctx, s.email); err != nil {
			return s.failWith(core.KindTransport, err)
		}
	}
	return s.done(ctx, EventUnsubscribed)
}

func (s *WhatCounts) record() wcapi.Record {
	a := s.attrs
	r := wcapi.Record{"email": s.email}
	for k, v := range map[string]string{
		"first":    a.FirstName,
		"last":     a.LastName,
		"address":  a.Address1,
		"address2": a.Address2,
		"city":     a.City,
		"state":    a.State,
		"zip":      a.PostalCode,
		"country":  a.Country,
		"phone":    a.Phone,
	} {
		if v != "" {
			r[k] = v
		}
	}
	return r
}

func (s *WhatCounts) resolveList(ctx context.Context) (string, bool) {
	if s.listID != "" && s.listName == s.list {
		return s.listID, true
	}
	l, err := s.client.ListByName(ctx, s.list)
	if err != nil {
		return "", s.failWith(core.KindConfiguration, err)
	}
	s.listID, s.listName = l.ID, s.list
	return l.ID, true
}
