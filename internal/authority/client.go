// Package authority is the HTTP client for the central authority that
// owns the canonical rule set and event history. The core treats these
// calls as opaque: any transport or server failure is a signal to fall
// back to the offline path, never a hard stop.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapgate/tapgate/internal/tapgate/types"
)

const defaultTimeout = 5 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Wire shapes. The authority speaks JSON; timestamps are RFC3339.

type validateResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

type ruleDTO struct {
	HolderID       int64  `json:"holder_id"`
	ControlPointID int64  `json:"control_point_id"`
	AllowedDays    []int  `json:"allowed_days"`
	StartMinutes   int    `json:"start_minutes"`
	EndMinutes     int    `json:"end_minutes"`
	SyncedAt       string `json:"synced_at,omitempty"`
}

type rulesResponse struct {
	Rules []ruleDTO `json:"rules"`
}

type eventDTO struct {
	ID             int64  `json:"id,omitempty"`
	UID            string `json:"uid"`
	HolderID       int64  `json:"holder_id"`
	ControlPointID int64  `json:"control_point_id"`
	OccurredAt     string `json:"occurred_at"`
	Granted        bool   `json:"granted"`
	Reason         string `json:"reason"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

type pushResponse struct {
	ID int64 `json:"id"`
}

// Validate asks the authority for an online decision.
func (c *Client) Validate(ctx context.Context, holderID, controlPointID int64) (types.Decision, error) {
	q := url.Values{}
	q.Set("holder", strconv.FormatInt(holderID, 10))
	q.Set("controlPoint", strconv.FormatInt(controlPointID, 10))

	var resp validateResponse
	if err := c.get(ctx, "/validate?"+q.Encode(), &resp); err != nil {
		return types.Decision{}, err
	}
	return types.Decision{Granted: resp.Granted, Reason: resp.Reason}, nil
}

// FetchRules pulls the holder's rule projection for the offline cache.
func (c *Client) FetchRules(ctx context.Context, holderID int64) ([]types.CachedRule, error) {
	q := url.Values{}
	q.Set("holder", strconv.FormatInt(holderID, 10))

	var resp rulesResponse
	if err := c.get(ctx, "/access-rules?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]types.CachedRule, 0, len(resp.Rules))
	for _, r := range resp.Rules {
		out = append(out, types.CachedRule{
			HolderID:       r.HolderID,
			ControlPointID: r.ControlPointID,
			AllowedDays:    types.NewDaySet(r.AllowedDays...),
			Start:          r.StartMinutes,
			End:            r.EndMinutes,
			LastSyncedAt:   now,
		})
	}
	return out, nil
}

// FetchEvents pulls the holder's authoritative event history.
func (c *Client) FetchEvents(ctx context.Context, holderID int64) ([]types.AccessEvent, error) {
	q := url.Values{}
	q.Set("holder", strconv.FormatInt(holderID, 10))

	var resp eventsResponse
	if err := c.get(ctx, "/access-events?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]types.AccessEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		occurred, err := time.Parse(time.RFC3339, e.OccurredAt)
		if err != nil {
			c.logger.Warn().Str("uid", e.UID).Str("occurred_at", e.OccurredAt).
				Msg("authority event with unparseable timestamp skipped")
			continue
		}
		backendID := e.ID
		out = append(out, types.AccessEvent{
			UID:            e.UID,
			BackendID:      &backendID,
			HolderID:       e.HolderID,
			ControlPointID: e.ControlPointID,
			OccurredAt:     occurred.UTC(),
			Granted:        e.Granted,
			Reason:         e.Reason,
			Synced:         true,
		})
	}
	return out, nil
}

// PushEvent submits one locally recorded event. The authority
// deduplicates on the event uid, so resubmitting after a race returns
// the already-assigned id instead of creating a second row.
func (c *Client) PushEvent(ctx context.Context, ev types.AccessEvent) (int64, error) {
	body := eventDTO{
		UID:            ev.UID,
		HolderID:       ev.HolderID,
		ControlPointID: ev.ControlPointID,
		OccurredAt:     ev.OccurredAt.UTC().Format(time.RFC3339),
		Granted:        ev.Granted,
		Reason:         ev.Reason,
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("authority: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/access-events", bytes.NewReader(buf))
	if err != nil {
		return 0, fmt.Errorf("authority: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("authority: push event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("authority: push event: status %d", resp.StatusCode)
	}

	var out pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return 0, fmt.Errorf("authority: decode push response: %w", err)
	}
	return out.ID, nil
}

// Ping probes reachability. Used by the connectivity monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("authority: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authority: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority: ping: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("authority: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authority: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority: %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("authority: %s: decode: %w", path, err)
	}
	return nil
}
