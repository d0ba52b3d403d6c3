package locator

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind discriminates the resource reference union.
type Kind int

const (
	// KindDandiset addresses a whole dandiset (all versions' metadata scope).
	KindDandiset Kind = iota
	// KindVersion addresses one version of a dandiset.
	KindVersion
	// KindAssetItem addresses exactly one asset by path.
	KindAssetItem
	// KindAssetID addresses exactly one asset by opaque ID.
	KindAssetID
	// KindAssetFolder addresses every asset under a folder (trailing slash).
	KindAssetFolder
	// KindPathPrefix addresses every asset whose path starts with a prefix,
	// possibly spanning folders.
	KindPathPrefix
	// KindMultiAsset addresses a server-side filtered listing (glob query).
	KindMultiAsset
	// KindLocalPath is an already-resolved local filesystem scope; no remote
	// resolution applies.
	KindLocalPath
)

func (k Kind) String() string {
	switch k {
	case KindDandiset:
		return "dandiset"
	case KindVersion:
		return "version"
	case KindAssetItem:
		return "asset"
	case KindAssetID:
		return "asset-id"
	case KindAssetFolder:
		return "asset-folder"
	case KindPathPrefix:
		return "path-prefix"
	case KindMultiAsset:
		return "multi-asset"
	case KindLocalPath:
		return "local-path"
	default:
		return "unknown"
	}
}

// Ref is a normalized, immutable reference to an archive resource.
// A ref is never mutated after construction; narrowing scope produces a new
// ref. Every non-local kind carries enough information to issue exactly one
// class of listing call.
type Ref struct {
	Kind       Kind
	Instance   string // registered instance name
	APIBase    string // API base URL of the instance
	DandisetID string
	Version    string // "draft" or a published version; empty for KindDandiset
	Path       string // asset path, folder, or prefix depending on Kind
	AssetID    string
	Glob       string // server-side glob filter for KindMultiAsset
	LocalPath  string // KindLocalPath only
}

// WithVersion returns a copy of the ref bound to an explicit version.
func (r Ref) WithVersion(version string) Ref {
	out := r
	out.Version = version
	if out.Kind == KindDandiset {
		out.Kind = KindVersion
	}
	return out
}

// VersionOrDraft returns the ref's version, defaulting to "draft".
func (r Ref) VersionOrDraft() string {
	if r.Version == "" {
		return "draft"
	}
	return r.Version
}

// String renders the canonical serialization of the ref. Resolving the
// result yields an equal ref.
func (r Ref) String() string {
	switch r.Kind {
	case KindLocalPath:
		return r.LocalPath
	case KindDandiset:
		return fmt.Sprintf("dandi://%s/%s", r.Instance, r.DandisetID)
	case KindVersion:
		return fmt.Sprintf("dandi://%s/%s@%s", r.Instance, r.DandisetID, r.Version)
	case KindAssetItem:
		return fmt.Sprintf("dandi://%s/%s@%s/%s", r.Instance, r.DandisetID, r.VersionOrDraft(), r.Path)
	case KindAssetFolder:
		return fmt.Sprintf("dandi://%s/%s@%s/%s/", r.Instance, r.DandisetID, r.VersionOrDraft(),
			strings.TrimSuffix(r.Path, "/"))
	case KindAssetID:
		if r.DandisetID == "" {
			return fmt.Sprintf("%s/assets/%s/", r.APIBase, r.AssetID)
		}
		return fmt.Sprintf("%s/dandisets/%s/versions/%s/assets/%s/",
			r.APIBase, r.DandisetID, r.VersionOrDraft(), r.AssetID)
	case KindPathPrefix:
		return fmt.Sprintf("%s/dandisets/%s/versions/%s/assets/?path=%s",
			r.APIBase, r.DandisetID, r.VersionOrDraft(), url.QueryEscape(r.Path))
	case KindMultiAsset:
		return fmt.Sprintf("%s/dandisets/%s/versions/%s/assets/?glob=%s",
			r.APIBase, r.DandisetID, r.VersionOrDraft(), url.QueryEscape(r.Glob))
	default:
		return ""
	}
}
