// Package opentdb fetches question batches from the Open Trivia Database.
package opentdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/foxseedlab/trivia/internal/question"
)

// Response codes documented by opentdb.com.
const (
	responseSuccess       = 0
	responseNoResults     = 1
	responseInvalidParam  = 2
	responseTokenNotFound = 3
	responseTokenEmpty    = 4
	responseRateLimit     = 5
)

type apiResponse struct {
	ResponseCode int                 `json:"response_code"`
	Results      []question.Question `json:"results"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) question.Provider {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Fetch(ctx context.Context, amount int) (question.Batch, error) {
	if !question.ValidAmount(amount) {
		return nil, question.ErrInvalidAmount
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse question api url: %w", err)
	}
	q := u.Query()
	q.Set("amount", strconv.Itoa(amount))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", question.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: question api returned status %d", question.ErrUnavailable, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode question api response: %w", question.ErrUnavailable, err)
	}

	switch body.ResponseCode {
	case responseSuccess:
	case responseNoResults, responseInvalidParam:
		return nil, fmt.Errorf("%w: question api response code %d", question.ErrInvalidAmount, body.ResponseCode)
	default:
		return nil, fmt.Errorf("%w: question api response code %d", question.ErrUnavailable, body.ResponseCode)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("%w: question api returned no questions", question.ErrUnavailable)
	}
	return question.Batch(body.Results), nil
}
