package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// UpdateDataSource returns signed price update payloads for push feeds
type UpdateDataSource interface {
	LatestUpdates(ctx context.Context, feedIDs []string) ([][]byte, error)
}

// HermesClient fetches price updates from a Hermes price service
type HermesClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

func NewHermesClient(baseURL string) *HermesClient {
	return &HermesClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
}

type hermesUpdateResponse struct {
	Binary struct {
		Encoding string   `json:"encoding"`
		Data     []string `json:"data"`
	} `json:"binary"`
}

// LatestUpdates requests the latest update data for feedIDs (hex, with or without 0x)
func (c *HermesClient) LatestUpdates(ctx context.Context, feedIDs []string) ([][]byte, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, id := range feedIDs {
		q.Add("ids[]", id)
	}
	q.Set("encoding", "base64")
	endpoint := c.baseURL + "/v2/updates/price/latest?" + q.Encode()

	var body hermesUpdateResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("hermes returned %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("hermes returned %s: %s", resp.Status, msg))
		}
		return json.NewDecoder(resp.Body).Decode(&body)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to fetch price updates: %w", err)
	}

	out := make([][]byte, 0, len(body.Binary.Data))
	for _, chunk := range body.Binary.Data {
		raw, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to decode price update: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}
