// Package planner enumerates the transfer units of a run: it walks a local
// tree (upload) or a remote listing (download), matches each entry against
// the other side, and tags every unit with a conflict-policy decision.
// Planning performs listing I/O only; no bytes are moved.
package planner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dandi/dandi-cli-sub000/internal/dandiapi"
	"github.com/dandi/dandi-cli-sub000/internal/digest"
	"github.com/dandi/dandi-cli-sub000/internal/locator"
	"github.com/dandi/dandi-cli-sub000/internal/policy"
	"github.com/dandi/dandi-cli-sub000/internal/safety"
)

// RemoteIndex is the slice of the archive API the planner needs.
// *dandiapi.Client satisfies it.
type RemoteIndex interface {
	ListAssets(ctx context.Context, dandisetID, version string, opts dandiapi.ListOptions) ([]dandiapi.Asset, error)
	GetAssetByPath(ctx context.Context, dandisetID, version, assetPath string) (*dandiapi.Asset, error)
	GetAsset(ctx context.Context, assetID string) (*dandiapi.Asset, error)
}

// ValidationMode gates metadata validation before upload.
type ValidationMode string

const (
	// ValidationRequire excludes units with hard validation failures.
	ValidationRequire ValidationMode = "require"
	// ValidationSkip bypasses metadata extraction entirely.
	ValidationSkip ValidationMode = "skip"
	// ValidationIgnore extracts and reports issues but transfers anyway.
	ValidationIgnore ValidationMode = "ignore"
)

// ParseValidationMode converts a --validation flag value.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch ValidationMode(strings.ToLower(strings.TrimSpace(s))) {
	case ValidationRequire:
		return ValidationRequire, nil
	case ValidationSkip:
		return ValidationSkip, nil
	case ValidationIgnore:
		return ValidationIgnore, nil
	default:
		return "", fmt.Errorf("invalid validation mode %q", s)
	}
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from the metadata-extraction collaborator.
type Issue struct {
	Field    string
	Message  string
	Severity Severity
}

// MetadataExtractor parses a scientific file and returns its metadata record
// plus any validation issues. Extraction is an external collaborator; the
// planner only consumes its results.
type MetadataExtractor func(path string) (map[string]any, []Issue, error)

// ValidationError reports a unit excluded from upload by hard validation
// failures.
type ValidationError struct {
	Path   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Severity == SeverityError {
			msgs = append(msgs, is.Message)
		}
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Path, strings.Join(msgs, "; "))
}

// Unit is one planned transfer. Units live for a single run; nothing about
// them is persisted across invocations.
type Unit struct {
	// LocalPath is the absolute local file path; empty until a download
	// destination is computed.
	LocalPath string
	// RemotePath is the slash-separated asset path on the archive.
	RemotePath string
	Size       int64

	LocalMtime  time.Time
	RemoteMtime time.Time

	LocalDigests  map[digest.Algorithm]string
	RemoteDigests map[digest.Algorithm]string

	// RemoteAsset is set when a matching asset exists on the archive.
	RemoteAsset *dandiapi.Asset

	Decision policy.Decision
	// Issues carries validation findings reported alongside the unit.
	Issues []Issue
	// Metadata is the extracted metadata record for upload registration.
	Metadata map[string]any
	// Err explains an error-decision unit.
	Err error
}

// Planner builds transfer units for both directions.
type Planner struct {
	remote  RemoteIndex
	digests *digest.Cache
	logger  *slog.Logger
}

// New creates a planner over the given remote index and digest cache.
func New(remote RemoteIndex, digests *digest.Cache, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{remote: remote, digests: digests, logger: logger}
}

// UploadOptions configure an upload plan.
type UploadOptions struct {
	DandisetID  string
	Version     string
	Policy      policy.ExistingPolicy
	Validation  ValidationMode
	Extract     MetadataExtractor
	PathFilters []string
}

// PlanUpload walks the local tree depth-first, skipping dotfiles and
// dot-directories, and emits one unit per file with its policy decision.
// Re-invoking with the same inputs re-walks from scratch; no cursor state is
// kept between calls.
func (p *Planner) PlanUpload(ctx context.Context, localRoot string, opts UploadOptions) ([]Unit, error) {
	remoteByPath, err := p.remoteIndexByPath(ctx, opts.DandisetID, opts.Version)
	if err != nil {
		return nil, err
	}

	var units []Unit
	err = filepath.WalkDir(localRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") && path != localRoot {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localRoot, path)
		if err != nil {
			return err
		}
		remotePath := filepath.ToSlash(rel)
		if !matchesFilters(remotePath, opts.PathFilters) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		unit := Unit{
			LocalPath:  path,
			RemotePath: remotePath,
			Size:       info.Size(),
			LocalMtime: info.ModTime(),
		}
		if asset, ok := remoteByPath[remotePath]; ok {
			a := asset
			unit.RemoteAsset = &a
			unit.RemoteMtime = a.Modified
			unit.RemoteDigests = a.DigestMap()
		}

		p.decideUpload(&unit, opts)
		units = append(units, unit)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to plan upload from %s: %w", localRoot, err)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].RemotePath < units[j].RemotePath })
	p.logger.Info("upload plan ready", "dandiset", opts.DandisetID, "units", len(units))
	return units, nil
}

// decideUpload applies validation gating and the conflict policy to one unit.
func (p *Planner) decideUpload(unit *Unit, opts UploadOptions) {
	if opts.Validation != ValidationSkip && opts.Extract != nil {
		metadata, issues, err := opts.Extract(unit.LocalPath)
		if err != nil {
			unit.Decision = policy.Fail
			unit.Err = fmt.Errorf("metadata extraction failed: %w", err)
			return
		}
		unit.Metadata = metadata
		unit.Issues = issues

		if opts.Validation == ValidationRequire && hasHardFailure(issues) {
			unit.Decision = policy.Fail
			unit.Err = &ValidationError{Path: unit.RemotePath, Issues: issues}
			return
		}
	}

	var dest *policy.Side
	if unit.RemoteAsset != nil {
		dest = &policy.Side{
			Size:    unit.RemoteAsset.Size,
			Mtime:   unit.RemoteMtime,
			Digests: unit.RemoteDigests,
		}
		if opts.Policy == policy.OverwriteDifferent && p.digests != nil {
			if local, err := p.digests.DigestFile(unit.LocalPath, digestAlgos(unit.RemoteDigests)); err == nil {
				unit.LocalDigests = local
			}
		}
	}

	decision, err := policy.Decide(opts.Policy, policy.Side{
		Size:    unit.Size,
		Mtime:   unit.LocalMtime,
		Digests: unit.LocalDigests,
	}, dest)
	unit.Decision = decision
	if err != nil {
		unit.Err = fmt.Errorf("%s: %w", unit.RemotePath, err)
	}
}

// DownloadOptions configure a download plan.
type DownloadOptions struct {
	OutputDir   string
	Policy      policy.ExistingPolicy
	PathFilters []string
}

// PlanDownload mirrors PlanUpload: the remote listing scoped by the ref is
// the iteration source and the local filesystem the comparison target.
func (p *Planner) PlanDownload(ctx context.Context, ref locator.Ref, opts DownloadOptions) ([]Unit, error) {
	assets, err := p.assetsForRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	var units []Unit
	for i := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		asset := assets[i]
		if !matchesFilters(asset.Path, opts.PathFilters) {
			continue
		}

		destPath, err := safety.JoinUnderRoot(opts.OutputDir, asset.Path)
		if err != nil {
			units = append(units, Unit{
				RemotePath:  asset.Path,
				RemoteAsset: &asset,
				Decision:    policy.Fail,
				Err:         fmt.Errorf("unsafe asset path: %w", err),
			})
			continue
		}

		unit := Unit{
			LocalPath:     destPath,
			RemotePath:    asset.Path,
			Size:          asset.Size,
			RemoteMtime:   asset.Modified,
			RemoteDigests: asset.DigestMap(),
			RemoteAsset:   &asset,
		}
		p.decideDownload(&unit, opts)
		units = append(units, unit)
	}

	sort.Slice(units, func(i, j int) bool { return units[i].RemotePath < units[j].RemotePath })
	p.logger.Info("download plan ready", "ref", ref.String(), "units", len(units))
	return units, nil
}

// decideDownload applies the mirrored policy: the remote asset is the source
// and the local file the potentially conflicting destination.
func (p *Planner) decideDownload(unit *Unit, opts DownloadOptions) {
	var dest *policy.Side
	if info, err := os.Stat(unit.LocalPath); err == nil {
		unit.LocalMtime = info.ModTime()
		side := policy.Side{Size: info.Size(), Mtime: info.ModTime()}
		if opts.Policy == policy.OverwriteDifferent && p.digests != nil {
			if local, err := p.digests.DigestFile(unit.LocalPath, digestAlgos(unit.RemoteDigests)); err == nil {
				unit.LocalDigests = local
				side.Digests = local
			}
		}
		dest = &side
	}

	decision, err := policy.Decide(opts.Policy, policy.Side{
		Size:    unit.Size,
		Mtime:   unit.RemoteMtime,
		Digests: unit.RemoteDigests,
	}, dest)
	unit.Decision = decision
	if err != nil {
		unit.Err = fmt.Errorf("%s: %w", unit.RemotePath, err)
	}
}

// assetsForRef issues the one listing call the ref's kind maps to.
func (p *Planner) assetsForRef(ctx context.Context, ref locator.Ref) ([]dandiapi.Asset, error) {
	version := ref.VersionOrDraft()
	switch ref.Kind {
	case locator.KindDandiset, locator.KindVersion:
		return p.remote.ListAssets(ctx, ref.DandisetID, version, dandiapi.ListOptions{})
	case locator.KindAssetFolder:
		return p.remote.ListAssets(ctx, ref.DandisetID, version, dandiapi.ListOptions{PathPrefix: ref.Path + "/"})
	case locator.KindPathPrefix:
		return p.remote.ListAssets(ctx, ref.DandisetID, version, dandiapi.ListOptions{PathPrefix: ref.Path})
	case locator.KindMultiAsset:
		return p.remote.ListAssets(ctx, ref.DandisetID, version, dandiapi.ListOptions{Glob: ref.Glob})
	case locator.KindAssetItem:
		asset, err := p.remote.GetAssetByPath(ctx, ref.DandisetID, version, ref.Path)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, fmt.Errorf("no asset at path %q in %s/%s", ref.Path, ref.DandisetID, version)
		}
		return []dandiapi.Asset{*asset}, nil
	case locator.KindAssetID:
		asset, err := p.remote.GetAsset(ctx, ref.AssetID)
		if err != nil {
			return nil, err
		}
		return []dandiapi.Asset{*asset}, nil
	default:
		return nil, fmt.Errorf("ref kind %s cannot be listed remotely", ref.Kind)
	}
}

// remoteIndexByPath fetches the full remote listing once and indexes it.
func (p *Planner) remoteIndexByPath(ctx context.Context, dandisetID, version string) (map[string]dandiapi.Asset, error) {
	assets, err := p.remote.ListAssets(ctx, dandisetID, version, dandiapi.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote assets: %w", err)
	}
	byPath := make(map[string]dandiapi.Asset, len(assets))
	for _, a := range assets {
		byPath[a.Path] = a
	}
	return byPath, nil
}

func matchesFilters(path string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.HasPrefix(path, f) {
			return true
		}
	}
	return false
}

func hasHardFailure(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// digestAlgos returns the supported algorithms present in a remote digest
// map, so the local side is hashed with comparable algorithms. Archive-only
// digest kinds are ignored; an empty intersection falls back to sha256.
func digestAlgos(remote map[digest.Algorithm]string) []digest.Algorithm {
	var algos []digest.Algorithm
	for _, algo := range []digest.Algorithm{digest.MD5, digest.SHA1, digest.SHA256, digest.SHA512} {
		if _, ok := remote[algo]; ok {
			algos = append(algos, algo)
		}
	}
	if len(algos) == 0 {
		return []digest.Algorithm{digest.SHA256}
	}
	return algos
}
