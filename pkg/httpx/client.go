package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestJSON performs an HTTP request with retry for transient failures.
// Retries apply to transport errors and 5xx responses only.
func RequestJSON(ctx context.Context, client *http.Client, method, endpoint string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
	return doWithRetry(client, retries, retryDelay, build)
}

// PostForm sends a www-form-urlencoded request (OAuth token endpoints).
func PostForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, retries int, retryDelay time.Duration) (int, []byte, error) {
	encoded := form.Encode()
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
	return doWithRetry(client, retries, retryDelay, build)
}

// doWithRetry runs the request up to retries+1 times. A fresh request is
// built per attempt so body readers are never reused.
func doWithRetry(client *http.Client, retries int, retryDelay time.Duration, build func() (*http.Request, error)) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}
		req, err := build()
		if err != nil {
			return 0, nil, err
		}
		status, body, err := doOnce(client, req)
		if err != nil {
			lastErr = err
			if attempt == retries {
				return 0, nil, err
			}
			continue
		}
		if status >= 500 && attempt < retries {
			continue
		}
		return status, body, nil
	}
	return 0, nil, lastErr
}

func doOnce(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
