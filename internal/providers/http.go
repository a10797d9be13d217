package providers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// browserUA keeps the quote hosts from rejecting plain Go clients.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// fetch performs a GET with browser headers and returns the body. Non-2xx
// responses become *StatusError so callers can detect ban statuses.
func fetch(client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// fetchGBK is fetch plus GBK-to-UTF-8 decoding; the sina and tencent quote
// hosts still serve GBK bodies.
func fetchGBK(client *http.Client, url string, headers map[string]string) (string, error) {
	body, err := fetch(client, url, headers)
	if err != nil {
		return "", err
	}
	decoded, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), body)
	if err != nil {
		// Some endpoints already answer UTF-8; fall back to the raw body.
		return string(body), nil
	}
	return string(decoded), nil
}
