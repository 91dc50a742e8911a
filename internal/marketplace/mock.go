package marketplace

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MockAdapter synthesizes deterministic listings without network calls. It
// backs offline demos and lets the capture and enrich stages run end to end
// in development.
type MockAdapter struct {
	baseURL string
	pages   int
	perPage int
	seed    int64
}

func NewMockAdapter(seed int64) *MockAdapter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockAdapter{
		baseURL: "https://example-marketplace.invalid",
		pages:   3,
		perPage: 12,
		seed:    seed,
	}
}

func (m *MockAdapter) Search(ctx context.Context, params SearchParams) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page := params.Page
	if page <= 0 {
		page = 1
	}
	if page > m.pages {
		return nil, nil
	}
	keywords := strings.TrimSpace(params.Keywords)
	if keywords == "" {
		keywords = "example"
	}

	// Deterministic per query and page, so re-running a capture job yields
	// the same external ids and the materialize upsert converges.
	r := rand.New(rand.NewSource(int64(fnv64(keywords+"|"+strconv.Itoa(page))) ^ m.seed))

	out := make([]Summary, 0, m.perPage)
	for i := 0; i < m.perPage; i++ {
		id := fmt.Sprintf("%d%08d", page, i+1)
		out = append(out, Summary{
			ExternalID: id,
			Title:      fmt.Sprintf("%s lot %d, set %d", keywords, i+1, 10000+r.Intn(60000)),
			Price:      1000 + i*25 + r.Intn(50),
			URL:        m.baseURL + "/listings/" + url.PathEscape(id),
		})
	}
	return out, nil
}

func (m *MockAdapter) Fetch(ctx context.Context, externalID string) (Details, error) {
	if err := ctx.Err(); err != nil {
		return Details{}, err
	}
	id := strings.TrimSpace(externalID)
	if id == "" {
		return Details{}, fmt.Errorf("marketplace: listing id is required")
	}

	r := rand.New(rand.NewSource(int64(fnv64(id)) ^ m.seed))
	return Details{
		ExternalID:  id,
		Title:       "Synthetic listing " + id,
		Description: fmt.Sprintf("Synthetic description mentioning set %d, approx %d pieces.", 10000+r.Intn(60000), 100+r.Intn(3000)),
		Price:       1000 + r.Intn(500),
		URL:         m.baseURL + "/listings/" + url.PathEscape(id),
	}, nil
}

func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
