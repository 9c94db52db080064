package binarystore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// uploadAttempts and uploadRetryGap implement spec.md §4.4 step 5 / §5's
// retry policy: "Compile upload to binary store: <=3 attempts, ~1s gap, on
// HTTP and network errors only."
const (
	uploadAttempts = 3
	uploadRetryGap = time.Second
)

// Client is an HTTP-backed BinaryStore, used by C4 (the compile worker) to
// upload freshly compiled binaries via the same `PUT /binaries/:id` surface
// exposed by the API server, since C4 and C5 may run on different hosts
// than C1's filesystem-backed Store (spec.md §4.1). It only implements Put;
// C4 never reads binaries back.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client rooted at baseURL (spec.md's `API_URL`). A
// nil httpClient defaults to http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Put uploads bytes to the binary store over HTTP, retrying up to
// uploadAttempts times with an uploadRetryGap pause between attempts, on
// HTTP (5xx) and network/transport errors only. A non-retryable response
// (4xx) returns immediately.
func (c *Client) Put(ctx context.Context, id *string, data []byte, metadata model.BinaryMetadata) (model.Binary, error) {
	resolvedID := ID(data)
	if id != nil && *id != `` {
		resolvedID = *id
	}

	q := url.Values{}
	if metadata.Language != nil {
		q.Set(`language`, *metadata.Language)
	}
	if metadata.Optimization != nil {
		q.Set(`optimization`, string(*metadata.Optimization))
	}
	if metadata.CompilerVersion != nil {
		q.Set(`compiler_version`, *metadata.CompilerVersion)
	}
	endpoint := fmt.Sprintf(`%s/binaries/%s`, c.baseURL, resolvedID)
	if encoded := q.Encode(); encoded != `` {
		endpoint += `?` + encoded
	}

	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.Binary{}, err
		}

		err := c.upload(ctx, endpoint, data)
		if err == nil {
			return model.Binary{ID: resolvedID, Size: int64(len(data)), Metadata: metadata, CreatedAt: time.Now().UTC()}, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == uploadAttempts {
			break
		}

		timer := time.NewTimer(uploadRetryGap)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Binary{}, ctx.Err()
		case <-timer.C:
		}
	}

	return model.Binary{}, apperror.Wrap(apperror.KindStorageUnavailable, `upload binary after retries`, lastErr)
}

// retryableError marks an upload failure as eligible for another attempt:
// an HTTP 5xx response, or a transport-level (network) error. A 4xx
// response (validation, payload too large, etc.) is never retried.
type retryableError struct{ error }

func isRetryable(err error) bool {
	_, ok := err.(retryableError)
	return ok
}

func (c *Client) upload(ctx context.Context, endpoint string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(`binarystore: build request: %w`, err)
	}
	req.Header.Set(`Content-Type`, `application/octet-stream`)

	resp, err := c.http.Do(req)
	if err != nil {
		// transport error: connection refused, timeout, DNS failure, etc.
		return retryableError{fmt.Errorf(`binarystore: upload %s: %w`, endpoint, err)}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return retryableError{fmt.Errorf(`binarystore: upload %s: status %d: %s`, endpoint, resp.StatusCode, body)}
	default:
		return fmt.Errorf(`binarystore: upload %s: status %d: %s`, endpoint, resp.StatusCode, body)
	}
}
