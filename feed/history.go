// feed/history.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kfowler/airband/radio"
)

// HistoryQuery selects past transmissions from the backend's REST API.
type HistoryQuery struct {
	Hours   int
	Limit   int
	Status  string
	Channel string
}

// HistoryResult is the backend's response shape.
type HistoryResult struct {
	Transmissions []radio.FeedMessage `json:"transmissions"`
	Total         int                 `json:"total"`
}

// HistoryClient fetches past transmissions over REST. Each request is
// independently cancellable through its context; the client itself keeps no
// state between calls.
type HistoryClient struct {
	baseURL string
	client  *http.Client
}

func NewHistoryClient(baseURL string, timeout time.Duration) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HistoryClient) Recent(ctx context.Context, q HistoryQuery) (*HistoryResult, error) {
	vals := url.Values{}
	vals.Set("hours", strconv.Itoa(q.Hours))
	vals.Set("limit", strconv.Itoa(q.Limit))
	if q.Status != "" {
		vals.Set("status", q.Status)
	}
	if q.Channel != "" {
		vals.Set("channel", q.Channel)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		h.baseURL+"/api/transmissions?"+vals.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: %s", resp.Status)
	}

	var result HistoryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &result, nil
}
