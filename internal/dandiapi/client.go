package dandiapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPError represents a non-2xx archive response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// LockedError is returned when another session holds the advisory lock for a
// dandiset version.
type LockedError struct {
	DandisetID string
	Version    string
	Owner      string
}

func (e *LockedError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("dandiset %s/%s is locked by session %s", e.DandisetID, e.Version, e.Owner)
	}
	return fmt.Sprintf("dandiset %s/%s is locked by another session", e.DandisetID, e.Version)
}

// Client talks to one archive instance. All requests share retry behavior:
// transient failures (connection errors, 5xx, 429) are retried with
// exponential backoff; other 4xx responses fail immediately.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userAgent  string
	retries    int

	// backoffFunc is swapped out in tests for zero-delay retries.
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a client for the archive API rooted at baseURL.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
			},
			// No overall Timeout: streaming bodies can take as long as they
			// need. Context cancellation still applies.
		},
		limiter:     rate.NewLimiter(rate.Limit(20), 40),
		logger:      logger,
		userAgent:   "dandi-cli/0.1",
		retries:     4,
		backoffFunc: backoffDelay,
	}
}

// backoffDelay is exponential backoff with jitter: 1s base, doubling per
// attempt, plus random jitter up to half the delay.
func backoffDelay(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	return base + jitter
}

// IsTransient reports whether an error is worth retrying: connection-level
// failures, 5xx responses and 429 rate limits. Context cancellation and
// other 4xx responses are permanent.
func IsTransient(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Anything else from the transport (reset, refused, EOF) is transient.
	return true
}

// doJSON issues an API request with retries, decoding a JSON response into
// out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "token "+c.apiKey)
		}

		err = c.send(req, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		c.logger.Warn("transient request failure", "method", method, "url", u, "attempt", attempt, "error", err)

		if attempt < c.retries {
			select {
			case <-time.After(c.backoffFunc(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("request failed after %d attempts: %w", c.retries, lastErr)
}

// send executes one request and decodes the response.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetDandiset fetches a dandiset record.
func (c *Client) GetDandiset(ctx context.Context, dandisetID string) (*Dandiset, error) {
	var out Dandiset
	path := fmt.Sprintf("/dandisets/%s/", dandisetID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAssets walks the paginated asset listing for a dandiset version and
// returns all matching assets.
func (c *Client) ListAssets(ctx context.Context, dandisetID, version string, opts ListOptions) ([]Asset, error) {
	query := url.Values{}
	if opts.PathPrefix != "" {
		query.Set("path", opts.PathPrefix)
	}
	if opts.Glob != "" {
		query.Set("glob", opts.Glob)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	query.Set("page_size", strconv.Itoa(pageSize))
	query.Set("metadata", "1")

	path := fmt.Sprintf("/dandisets/%s/versions/%s/assets/", dandisetID, version)

	var assets []Asset
	for {
		var page assetPage
		if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list assets for %s/%s: %w", dandisetID, version, err)
		}
		assets = append(assets, page.Results...)

		if page.Next == "" {
			return assets, nil
		}
		// The next link is absolute; continue from its path and query.
		next, err := url.Parse(page.Next)
		if err != nil {
			return nil, fmt.Errorf("bad pagination link %q: %w", page.Next, err)
		}
		path = strings.TrimPrefix(next.Path, basePath(c.baseURL))
		query = next.Query()
	}
}

// basePath extracts the path portion of the API base URL.
func basePath(baseURL string) string {
	if u, err := url.Parse(baseURL); err == nil {
		return strings.TrimSuffix(u.Path, "/")
	}
	return ""
}

// GetAssetByPath returns the asset at an exact path, or nil when absent.
func (c *Client) GetAssetByPath(ctx context.Context, dandisetID, version, assetPath string) (*Asset, error) {
	assets, err := c.ListAssets(ctx, dandisetID, version, ListOptions{PathPrefix: assetPath})
	if err != nil {
		return nil, err
	}
	for i := range assets {
		if assets[i].Path == assetPath {
			return &assets[i], nil
		}
	}
	return nil, nil
}

// GetAsset fetches one asset by opaque ID.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	var out Asset
	path := fmt.Sprintf("/assets/%s/", assetID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateUpload registers an upload session for an asset of the given size,
// declaring the part layout. The server answers with presigned part slots.
func (c *Client) InitiateUpload(ctx context.Context, dandisetID string, size int64, digests map[string]string, partSizes []int64) (*UploadSession, error) {
	req := uploadInitiateRequest{
		DandisetID:  dandisetID,
		ContentSize: size,
		Digests:     digests,
		PartSizes:   partSizes,
	}
	var out UploadSession
	if err := c.doJSON(ctx, http.MethodPost, "/uploads/initiate/", nil, req, &out); err != nil {
		return nil, fmt.Errorf("failed to initiate upload: %w", err)
	}
	if len(out.Parts) != len(partSizes) {
		return nil, fmt.Errorf("server returned %d part slots, expected %d", len(out.Parts), len(partSizes))
	}
	return &out, nil
}

// UploadPart PUTs one chunk to its presigned URL and returns the etag.
// Presigned URLs carry their own credentials, so no auth header is sent.
// The caller owns retry policy for parts; this issues exactly one request.
func (c *Client) UploadPart(ctx context.Context, slot PartSlot, body io.Reader) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.UploadURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create part request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = slot.Size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("part upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return "", &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", fmt.Errorf("part %d: server returned no etag", slot.PartNumber)
	}
	return etag, nil
}

// CompleteUpload commits a finished multi-part upload. The server assembles
// the parts and reports the digest of the committed object.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) (*UploadResult, error) {
	var out UploadResult
	path := fmt.Sprintf("/uploads/%s/complete/", uploadID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, uploadCompleteRequest{Parts: parts}, &out); err != nil {
		return nil, fmt.Errorf("failed to complete upload %s: %w", uploadID, err)
	}
	return &out, nil
}

// RegisterAsset attaches a committed blob to a dandiset version at a path,
// replacing any asset already there.
func (c *Client) RegisterAsset(ctx context.Context, dandisetID, version, assetPath, blobID string, metadata map[string]any) (*Asset, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["path"] = assetPath

	var out Asset
	path := fmt.Sprintf("/dandisets/%s/versions/%s/assets/", dandisetID, version)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, registerAssetRequest{BlobID: blobID, Metadata: metadata}, &out); err != nil {
		return nil, fmt.Errorf("failed to register asset %s: %w", assetPath, err)
	}
	return &out, nil
}

// DeleteAsset removes one asset from a dandiset version.
func (c *Client) DeleteAsset(ctx context.Context, dandisetID, version, assetID string) error {
	path := fmt.Sprintf("/dandisets/%s/versions/%s/assets/%s/", dandisetID, version, assetID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", assetID, err)
	}
	return nil
}

// DeleteDandiset removes a whole dandiset.
func (c *Client) DeleteDandiset(ctx context.Context, dandisetID string) error {
	path := fmt.Sprintf("/dandisets/%s/", dandisetID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete dandiset %s: %w", dandisetID, err)
	}
	return nil
}

// AcquireLock takes the advisory lock for a dandiset version. A 409 means
// another session holds it and is reported as a LockedError without retry.
func (c *Client) AcquireLock(ctx context.Context, dandisetID, version, owner string) error {
	path := fmt.Sprintf("/dandisets/%s/versions/%s/lock/", dandisetID, version)
	err := c.doJSON(ctx, http.MethodPost, path, nil, lockRequest{Owner: owner}, nil)
	if err == nil {
		return nil
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
		lockErr := &LockedError{DandisetID: dandisetID, Version: version}
		var info lockInfo
		if jsonErr := json.Unmarshal([]byte(httpErr.Body), &info); jsonErr == nil {
			lockErr.Owner = info.Owner
		}
		return lockErr
	}
	return fmt.Errorf("failed to acquire lock on %s/%s: %w", dandisetID, version, err)
}

// ReleaseLock drops the advisory lock. Safe to call after a failed run; a
// 404 (lock already gone) is not an error.
func (c *Client) ReleaseLock(ctx context.Context, dandisetID, version string) error {
	path := fmt.Sprintf("/dandisets/%s/versions/%s/lock/", dandisetID, version)
	err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release lock on %s/%s: %w", dandisetID, version, err)
	}
	return nil
}

// DownloadAsset opens a streaming download of an asset, optionally limited
// to a byte range (length < 0 streams to the end). The returned size is the
// Content-Length of this response.
func (c *Client) DownloadAsset(ctx context.Context, assetID string, offset, length int64) (io.ReadCloser, int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	u := fmt.Sprintf("%s/assets/%s/download/", c.baseURL, assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey)
	}
	if offset > 0 || length >= 0 {
		if length >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, 0, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}
	return resp.Body, resp.ContentLength, nil
}

// CancelZarrUpload asks the server to abandon a stuck multi-part upload for
// the given asset path.
func (c *Client) CancelZarrUpload(ctx context.Context, dandisetID, assetPath string) error {
	query := url.Values{}
	query.Set("path", assetPath)
	path := fmt.Sprintf("/dandisets/%s/uploads/", dandisetID)
	if err := c.doJSON(ctx, http.MethodDelete, path, query, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel upload for %s: %w", assetPath, err)
	}
	return nil
}
