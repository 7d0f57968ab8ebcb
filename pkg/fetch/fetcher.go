package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

const acceptHeader = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"

// Fetcher retrieves page bodies with a single attempt per call
// A failure is final for that call; nothing is retried
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64 // 0 = unlimited
	log          *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, userAgent string, maxBodyBytes int64, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:       client,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// Fetch GETs rawURL and returns the body as text
// Any completed exchange returns its body, whatever the status, so error pages reach the content policy;
// only transport, redirect-limit and body failures are errors. Transport failures are returned without
// the *url.Error envelope so diagnostics stay short
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	reqLog := f.log.WithField("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		reqLog.Debugf("Fetch failed: %v", err)
		return "", err
	}
	defer resp.Body.Close()

	resLog := reqLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "final_url": resp.Request.URL.String()})
	if statusErr := StatusError(resp); statusErr != nil {
		resLog.WithField("error_type", utils.CategorizeError(statusErr)).Infof("Non-2xx response, passing body on: %v", statusErr)
	}

	var reader io.Reader = resp.Body
	if f.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		return "", fmt.Errorf("%w: body exceeds %d bytes", utils.ErrResponseBodyRead, f.maxBodyBytes)
	}

	resLog.Debugf("Fetched %d bytes", len(body))
	return string(body), nil
}

// StatusError classifies a non-2xx response as utils.ErrClientHTTPError, utils.ErrServerHTTPError
// or utils.ErrOtherHTTPError; it returns nil for 2xx
func StatusError(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: status %s", utils.ErrClientHTTPError, resp.Status)
	case code >= 500:
		return fmt.Errorf("%w: status %s", utils.ErrServerHTTPError, resp.Status)
	default:
		return fmt.Errorf("%w: status %s", utils.ErrOtherHTTPError, resp.Status)
	}
}
