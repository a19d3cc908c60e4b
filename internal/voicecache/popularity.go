package voicecache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duskcast/streamcore/internal/models"
	"github.com/duskcast/streamcore/pkg/httpclient"
)

// HTTPPopularityChecker calls the external popular_tracks_service over
// HTTP, through a circuit-breaker-guarded client so a flaky or slow
// popularity service degrades to the non-popular default instead of
// blocking voice admission.
type HTTPPopularityChecker struct {
	client  *httpclient.Client
	baseURL string
}

// NewHTTPPopularityChecker creates an HTTPPopularityChecker. baseURL is the
// popular_tracks_service root; requests are issued against
// baseURL + "/tracks/{track_id}/popular".
func NewHTTPPopularityChecker(client *httpclient.Client, baseURL string) *HTTPPopularityChecker {
	return &HTTPPopularityChecker{client: client, baseURL: baseURL}
}

type popularityResponse struct {
	Popular bool `json:"popular"`
}

// IsPopular reports whether the popularity service flags track as popular.
// A request failure or any status other than 200 is treated as not-popular rather
// than propagated, since an outage of this service should degrade the
// voice-cache budget, not break playback.
func (c *HTTPPopularityChecker) IsPopular(ctx context.Context, trackID models.ULID, creatorID models.ULID) (bool, error) {
	url := fmt.Sprintf("%s/tracks/%s/popular?creator_id=%s", c.baseURL, trackID.String(), creatorID.String())
	resp, err := c.client.Get(ctx, url)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var body popularityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil
	}
	return body.Popular, nil
}

// StaticPopularityChecker always returns a fixed verdict. Used when no
// popular_tracks_service endpoint is configured.
type StaticPopularityChecker struct{ Popular bool }

// IsPopular returns the fixed verdict.
func (c StaticPopularityChecker) IsPopular(ctx context.Context, trackID models.ULID, creatorID models.ULID) (bool, error) {
	return c.Popular, nil
}
