package dandiapi

import (
	"time"

	"github.com/dandi/dandi-cli-sub000/internal/digest"
)

// Dandiset is the archive's record for one dataset.
type Dandiset struct {
	Identifier                 string    `json:"identifier"`
	Created                    time.Time `json:"created"`
	Modified                   time.Time `json:"modified"`
	DraftExists                bool      `json:"draft_exists"`
	MostRecentPublishedVersion string    `json:"most_recent_published_version,omitempty"`
}

// Asset is one file-like object inside a dandiset version.
type Asset struct {
	AssetID  string            `json:"asset_id"`
	BlobID   string            `json:"blob,omitempty"`
	Path     string            `json:"path"`
	Size     int64             `json:"size"`
	Created  time.Time         `json:"created"`
	Modified time.Time         `json:"modified"`
	Digests  map[string]string `json:"digest,omitempty"`
}

// DigestMap converts the wire digest map into typed algorithm keys.
func (a *Asset) DigestMap() map[digest.Algorithm]string {
	out := make(map[digest.Algorithm]string, len(a.Digests))
	for k, v := range a.Digests {
		out[digest.Algorithm(k)] = v
	}
	return out
}

// assetPage is one page of a paginated asset listing.
type assetPage struct {
	Count   int     `json:"count"`
	Next    string  `json:"next"`
	Results []Asset `json:"results"`
}

// ListOptions narrow an asset listing server-side.
type ListOptions struct {
	// PathPrefix filters to assets whose path starts with the prefix.
	PathPrefix string
	// Glob applies a server-side glob filter instead of a prefix.
	Glob string
	// PageSize overrides the default page size.
	PageSize int
}

// PartSlot is one chunk slot handed out when an upload is registered.
// The URL is presigned; the part body is PUT there directly.
type PartSlot struct {
	PartNumber int    `json:"part_number"`
	Size       int64  `json:"size"`
	UploadURL  string `json:"upload_url"`
}

// UploadSession is the server's answer to an upload registration.
type UploadSession struct {
	UploadID string     `json:"upload_id"`
	Parts    []PartSlot `json:"parts"`
}

// CompletedPart reports one finished chunk back to the server.
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// UploadResult is the committed object's identity, including the digest the
// server computed, which callers compare against the local one.
type UploadResult struct {
	BlobID  string            `json:"blob_id"`
	Digests map[string]string `json:"digest"`
}

// DigestMap converts the wire digest map into typed algorithm keys.
func (r *UploadResult) DigestMap() map[digest.Algorithm]string {
	out := make(map[digest.Algorithm]string, len(r.Digests))
	for k, v := range r.Digests {
		out[digest.Algorithm(k)] = v
	}
	return out
}

// uploadInitiateRequest registers an upload session for one asset.
type uploadInitiateRequest struct {
	DandisetID  string            `json:"dandiset_id"`
	ContentSize int64             `json:"content_size"`
	Digests     map[string]string `json:"digest"`
	PartSizes   []int64           `json:"part_sizes"`
}

// uploadCompleteRequest commits a finished multi-part upload.
type uploadCompleteRequest struct {
	Parts []CompletedPart `json:"parts"`
}

// registerAssetRequest attaches a committed blob to a version at a path.
type registerAssetRequest struct {
	BlobID   string         `json:"blob_id"`
	Metadata map[string]any `json:"metadata"`
}

// lockRequest identifies the session asking for the advisory lock.
type lockRequest struct {
	Owner string `json:"owner"`
}

// lockInfo describes the current holder of an advisory lock.
type lockInfo struct {
	Owner string `json:"owner"`
}
