// Package signals collects external events about dormant leads and scores how
// relevant each one is for a reactivation attempt.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leadpilot/internal/apperr"
	"github.com/leadpilot/pkg/models"
)

// Target is what collectors search for
type Target struct {
	LeadID   string
	Name     string
	Company  string
	Email    string
	Industry string
}

// Domain returns the company domain of the lead's email, if any
func (t Target) Domain() string {
	at := strings.LastIndex(t.Email, "@")
	if at < 0 || at == len(t.Email)-1 {
		return ""
	}
	return strings.ToLower(t.Email[at+1:])
}

// Collector is one signal source. Collectors return raw signals; scoring
// happens in the Detector.
type Collector interface {
	Name() string
	Collect(ctx context.Context, t Target) ([]models.Signal, error)
}

// HTTPCollector queries a JSON search endpoint. News, intent beacons and
// LinkedIn activity all share the same response shape and differ only in
// the query they send and the default signal type.
type HTTPCollector struct {
	name     string
	endpoint string
	apiKey   string
	kind     models.SignalType
	query    func(Target) url.Values
	client   *http.Client
}

type searchResponse struct {
	Items []struct {
		Type        string    `json:"type"`
		Title       string    `json:"title"`
		Summary     string    `json:"summary"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"published_at"`
	} `json:"items"`
}

// NewNewsCollector searches company news
func NewNewsCollector(endpoint, apiKey string, client *http.Client) *HTTPCollector {
	return newHTTPCollector("news", endpoint, apiKey, models.SignalNews, client, func(t Target) url.Values {
		q := url.Values{}
		q.Set("q", firstNonEmpty(t.Company, t.Name))
		return q
	})
}

// NewBeaconCollector asks the intent beacon service for recent visits from the
// lead's company domain
func NewBeaconCollector(endpoint, apiKey string, client *http.Client) *HTTPCollector {
	return newHTTPCollector("beacon", endpoint, apiKey, models.SignalIntent, client, func(t Target) url.Values {
		q := url.Values{}
		q.Set("domain", t.Domain())
		q.Set("company", t.Company)
		return q
	})
}

// NewLinkedInCollector looks up job changes and posts of the contact
func NewLinkedInCollector(endpoint, apiKey string, client *http.Client) *HTTPCollector {
	return newHTTPCollector("linkedin", endpoint, apiKey, models.SignalJobChange, client, func(t Target) url.Values {
		q := url.Values{}
		q.Set("name", t.Name)
		q.Set("company", t.Company)
		return q
	})
}

func newHTTPCollector(name, endpoint, apiKey string, kind models.SignalType, client *http.Client, query func(Target) url.Values) *HTTPCollector {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCollector{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		kind:     kind,
		query:    query,
		client:   client,
	}
}

func (c *HTTPCollector) Name() string { return c.name }

func (c *HTTPCollector) Collect(ctx context.Context, t Target) ([]models.Signal, error) {
	op := "signals." + c.name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+c.query(t).Encode(), nil)
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.External(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External(op, fmt.Errorf("%s returned %d", c.name, resp.StatusCode))
	}
	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&body); err != nil {
		return nil, apperr.External(op, fmt.Errorf("decode response: %w", err))
	}

	out := make([]models.Signal, 0, len(body.Items))
	for _, it := range body.Items {
		kind := models.SignalType(it.Type)
		if _, ok := typeWeights[kind]; !ok {
			kind = c.kind
		}
		out = append(out, models.Signal{
			Type:       kind,
			Source:     c.name,
			Title:      it.Title,
			Summary:    it.Summary,
			URL:        it.URL,
			DetectedAt: it.PublishedAt,
		})
	}
	return out, nil
}

// StaticCollector returns a fixed set of signals. It backs manual imports and
// tests.
type StaticCollector struct {
	ID      string
	Signals []models.Signal
	Err     error
}

func (s StaticCollector) Name() string { return s.ID }

func (s StaticCollector) Collect(ctx context.Context, _ Target) ([]models.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Signals, s.Err
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
