package feed

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"order-scheduler/internal/engine"
	"order-scheduler/pkg/utils"
)

// ratesResponse is the body of GET {baseURL}/rates?tick=N.
// A null or missing rates field is a degraded tick.
type ratesResponse struct {
	Tick  int64             `json:"tick"`
	Rates engine.RateUpdate `json:"rates"`
	Done  bool              `json:"done"`
}

// Client polls a remote rate service, one request per tick
type Client struct {
	client *resty.Client
	tick   int64
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{client: client}
}

// Next fetches the rates for the following tick
func (c *Client) Next(ctx context.Context) (engine.RateUpdate, error) {
	tick := c.tick + 1

	var result ratesResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("tick", strconv.FormatInt(tick, 10)).
		SetResult(&result).
		Get("/rates")
	if err != nil {
		return nil, errors.Wrapf(err, "fetch rates for tick %d", tick)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusGone:
		return nil, ErrExhausted
	default:
		return nil, errors.Errorf("fetch rates for tick %d: status %d: %s", tick, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if result.Done {
		return nil, ErrExhausted
	}

	c.tick = tick
	if result.Rates == nil {
		utils.Logger.WithFields(logrus.Fields{"tick": tick}).Debug("rate feed returned no rates")
	}
	return result.Rates, nil
}
