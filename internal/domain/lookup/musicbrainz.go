package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultMusicBrainzBaseURL = "https://musicbrainz.org/ws/2"

// MusicBrainzResolver resolves ISWCs through the MusicBrainz work search API.
type MusicBrainzResolver struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewMusicBrainzResolver creates a resolver. userAgent is required by the
// MusicBrainz API terms; requests without one get throttled aggressively.
func NewMusicBrainzResolver(userAgent string) *MusicBrainzResolver {
	return &MusicBrainzResolver{
		baseURL:   defaultMusicBrainzBaseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type workSearchResponse struct {
	Works []struct {
		Title string   `json:"title"`
		ISWCs []string `json:"iswcs"`
		Score int      `json:"score"`
	} `json:"works"`
}

// ResolveISWC searches for a work by title and artist and returns the ISWC of
// the best match. A result without an ISWC counts as no match.
func (r *MusicBrainzResolver) ResolveISWC(ctx context.Context, title, artist string) (string, error) {
	query := fmt.Sprintf("work:%q", title)
	if artist != "" {
		query += fmt.Sprintf(" AND artist:%q", artist)
	}

	endpoint := fmt.Sprintf("%s/work?query=%s&fmt=json&limit=5", r.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var result workSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode registry response: %w", err)
	}

	for _, work := range result.Works {
		if len(work.ISWCs) > 0 {
			return work.ISWCs[0], nil
		}
	}
	return "", ErrNoMatch
}
