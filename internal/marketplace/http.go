package marketplace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/dutchgtr/bricktrack/internal/resilience"
)

// HTTPAdapter talks to a JSON marketplace API:
//
//	GET {base}/api/search?q=...&page=...   -> {"listings":[...]} or [...]
//	GET {base}/api/listings/{id}           -> {"listing":{...}} or {...}
//
// Requests are rate limited and retried on transient failures.
type HTTPAdapter struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
}

func NewHTTPAdapter(opts Options) (*HTTPAdapter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, eris.New("marketplace: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, eris.Wrap(err, "marketplace: invalid base URL")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	rps := opts.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "bricktrack/1.0"
	}

	retry := resilience.FromRetryConfig(opts.MaxAttempts, opts.InitialBackoffMs, opts.MaxBackoffMs, 0, -1)
	retry.OnRetry = resilience.RetryLogger("marketplace", "fetch")

	return &HTTPAdapter{
		baseURL:   base,
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		retry:     retry,
		breaker:   resilience.NewCircuitBreaker(resilience.FromCircuitConfig(opts.BreakerThreshold, opts.BreakerResetSecs)),
	}, nil
}

func (a *HTTPAdapter) Search(ctx context.Context, params SearchParams) ([]Summary, error) {
	u, err := url.Parse(a.baseURL + "/api/search")
	if err != nil {
		return nil, eris.Wrap(err, "marketplace: build search URL")
	}
	q := u.Query()
	q.Set("q", strings.TrimSpace(params.Keywords))
	if params.Page > 0 {
		q.Set("page", strconv.Itoa(params.Page))
	}
	u.RawQuery = q.Encode()

	body, err := a.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	// Accept both object-wrapped and bare-array payloads.
	var wrapped struct {
		Listings []Summary `json:"listings"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Listings != nil {
		return dedupeSummaries(wrapped.Listings), nil
	}
	var arr []Summary
	if err := json.Unmarshal(body, &arr); err != nil {
		return nil, eris.Wrap(err, "marketplace: parse search payload")
	}
	return dedupeSummaries(arr), nil
}

func (a *HTTPAdapter) Fetch(ctx context.Context, externalID string) (Details, error) {
	id := strings.TrimSpace(externalID)
	if id == "" {
		return Details{}, eris.New("marketplace: listing id is required")
	}

	body, err := a.get(ctx, a.baseURL+"/api/listings/"+url.PathEscape(id))
	if err != nil {
		return Details{}, err
	}

	// Accept both object-wrapped and bare-object payloads.
	var wrapped struct {
		Listing Details `json:"listing"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Listing.ExternalID != "" {
		return normalize(wrapped.Listing), nil
	}
	var d Details
	if err := json.Unmarshal(body, &d); err != nil {
		return Details{}, eris.Wrap(err, "marketplace: parse listing payload")
	}
	if d.ExternalID == "" {
		d.ExternalID = id
	}
	return normalize(d), nil
}

// get fetches a URL through the circuit breaker; each attempt inside the
// retry loop is rate limited.
func (a *HTTPAdapter) get(ctx context.Context, u string) ([]byte, error) {
	return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) ([]byte, error) {
		return a.doGet(ctx, u)
	})
}

func (a *HTTPAdapter) doGet(ctx context.Context, u string) ([]byte, error) {
	return resilience.DoVal(ctx, a.retry, func(ctx context.Context) ([]byte, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "marketplace: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, eris.Wrap(err, "marketplace: build request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", a.userAgent)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "marketplace: request failed")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "marketplace: read response")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := eris.Errorf("marketplace: http status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return body, nil
	})
}

func dedupeSummaries(in []Summary) []Summary {
	out := make([]Summary, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		id := strings.TrimSpace(s.ExternalID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.ExternalID = id
		s.Title = strings.TrimSpace(s.Title)
		s.URL = strings.TrimSpace(s.URL)
		out = append(out, s)
	}
	return out
}

func normalize(d Details) Details {
	d.ExternalID = strings.TrimSpace(d.ExternalID)
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.URL = strings.TrimSpace(d.URL)
	return d
}
