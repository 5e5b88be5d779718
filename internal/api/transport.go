package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/andygrunwald/fuelprices/internal/useragent"
)

const (
	defaultRetryCount       = 3
	defaultRetryWaitTime    = 1 * time.Second
	defaultRetryMaxWaitTime = 10 * time.Second
)

// NewHTTPClient creates a resty client with retries and a browser-like User-Agent.
// Providers may override the User-Agent through headers.
func NewHTTPClient(timeout time.Duration, headers map[string]string, logger zerolog.Logger) *resty.Client {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", useragent.Random()).
		SetHeaders(headers).
		SetRetryCount(defaultRetryCount).
		SetRetryWaitTime(defaultRetryWaitTime).
		SetRetryMaxWaitTime(defaultRetryMaxWaitTime).
		AddRetryConditions(retryCondition).
		AddRetryHooks(func(r *resty.Response, err error) {
			if err != nil {
				logger.Debug().
					Err(err).
					Str("url", r.Request.URL).
					Int("attempt", r.Request.Attempt).
					Msg("retrying request after error")
				return
			}
			logger.Debug().
				Str("url", r.Request.URL).
				Int("attempt", r.Request.Attempt).
				Int("status", r.StatusCode()).
				Msg("retrying request after status code")
		})

	return client
}

// retryCondition retries network errors, 5xx, 429 and 408.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return !isCanceled(err)
	}
	switch code := r.StatusCode(); {
	case code >= 500:
		return true
	case code == 429, code == 408:
		return true
	default:
		return false
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || IsTimeout(err)
}

// Get performs a GET request and returns the body of a successful response.
// Non-2xx responses become an UpdateFailedError; timeouts wrap ErrTimeout.
func Get(ctx context.Context, client *resty.Client, provider, url string, headers map[string]string) ([]byte, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(url)
	if err != nil {
		if IsTimeout(err) {
			return nil, fmt.Errorf("%s: %w: %w", provider, ErrTimeout, err)
		}
		return nil, err
	}

	if err := ClassifyStatus(provider, resp.StatusCode(), resp.String(), resp.Header()); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}
