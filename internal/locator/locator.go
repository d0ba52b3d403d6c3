package locator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dandi/dandi-cli-sub000/internal/config"
)

// ResolutionError reports an input string that could not be turned into a
// resource reference.
type ResolutionError struct {
	Input  string
	Reason string
	Hint   string
}

func (e *ResolutionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("cannot resolve %q: %s (%s)", e.Input, e.Reason, e.Hint)
	}
	return fmt.Sprintf("cannot resolve %q: %s", e.Input, e.Reason)
}

const versionPattern = `draft|\d+\.\d+\.\d+`

var (
	schemeRe = regexp.MustCompile(`^dandi://([^/]+)/(\d{6})(?:@(` + versionPattern + `))?(?:/(.*))?$`)
	bareRe   = regexp.MustCompile(`^(\d{6})(?:/(` + versionPattern + `))?(?:/(.+))?$`)

	assetIDSeg = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`

	// API-host patterns, matched against the path relative to the API base.
	// Ordered: asset-by-id shapes before listing shapes so an ambiguous URL
	// resolves by table position, never by scoring.
	apiVersionedAssetRe = regexp.MustCompile(`^/dandisets/(\d{6})/versions/(` + versionPattern + `)/assets/(` + assetIDSeg + `)/?(?:download/?)?$`)
	apiBareAssetRe      = regexp.MustCompile(`^/assets/(` + assetIDSeg + `)/?(?:download/?)?$`)
	apiAssetListRe      = regexp.MustCompile(`^/dandisets/(\d{6})/versions/(` + versionPattern + `)/assets/?$`)
	apiVersionRe        = regexp.MustCompile(`^/dandisets/(\d{6})/versions/(` + versionPattern + `)/?$`)
	apiDandisetRe       = regexp.MustCompile(`^/dandisets/(\d{6})/?$`)

	// GUI-host patterns (landing pages and the file browser).
	guiFilesRe    = regexp.MustCompile(`^/dandiset/(\d{6})/(` + versionPattern + `)/files/?$`)
	guiVersionRe  = regexp.MustCompile(`^/dandiset/(\d{6})/(` + versionPattern + `)/?$`)
	guiDandisetRe = regexp.MustCompile(`^/dandiset/(\d{6})/?$`)
)

// instanceHosts is a precomputed lookup entry for one registered instance.
type instanceHosts struct {
	name    string
	apiBase string
	apiHost string
	apiPath string // base path of the API, usually "/api"
	guiHost string
}

// Resolver turns heterogeneous identifier strings into normalized Refs.
// The only I/O it ever performs is a single HEAD request to follow a
// redirector URL.
type Resolver struct {
	hosts  []instanceHosts
	client *http.Client
	logger *slog.Logger
}

// NewResolver builds a resolver over the registered instances.
// The http.Client is used only for redirect HEAD hops; pass nil for a
// default with a short timeout.
func NewResolver(instances map[string]config.Instance, client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{
			Timeout: 15 * time.Second,
			// Redirects are followed manually so loops can be bounded.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Resolver{client: client, logger: logger}

	names := make([]string, 0, len(instances))
	for name := range instances {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		inst := instances[name]
		entry := instanceHosts{name: name, apiBase: strings.TrimSuffix(inst.API, "/")}
		if u, err := url.Parse(inst.API); err == nil {
			entry.apiHost = u.Host
			entry.apiPath = strings.TrimSuffix(u.Path, "/")
		}
		if inst.GUI != "" {
			if u, err := url.Parse(inst.GUI); err == nil {
				entry.guiHost = u.Host
			}
		}
		r.hosts = append(r.hosts, entry)
	}
	return r
}

// Resolve parses input into a Ref. Acceptance order: dandi:// scheme form,
// archive HTTP(S) URLs, bare dandiset identifiers, local filesystem paths.
// HTTP URLs on unrecognized hosts are followed through one HEAD redirect hop
// and re-resolved against the final URL.
func (r *Resolver) Resolve(ctx context.Context, input string) (Ref, error) {
	return r.resolve(ctx, input, 0)
}

func (r *Resolver) resolve(ctx context.Context, input string, redirectDepth int) (Ref, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Ref{}, &ResolutionError{Input: input, Reason: "empty identifier"}
	}

	if m := schemeRe.FindStringSubmatch(input); m != nil {
		return r.fromScheme(input, m)
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return r.fromURL(ctx, input, redirectDepth)
	}

	// "DANDI:000123" / "DANDI:000123/0.240101.1234" prefix form.
	if rest, ok := cutDandiPrefix(input); ok {
		if m := bareRe.FindStringSubmatch(rest); m != nil {
			return r.fromBare(m), nil
		}
		return Ref{}, &ResolutionError{Input: input, Reason: "unrecognized resource identifier"}
	}

	if m := bareRe.FindStringSubmatch(input); m != nil {
		return r.fromBare(m), nil
	}

	if looksLocal(input) {
		return Ref{Kind: KindLocalPath, LocalPath: input}, nil
	}

	return Ref{}, &ResolutionError{Input: input, Reason: "unrecognized resource identifier"}
}

func (r *Resolver) fromScheme(input string, m []string) (Ref, error) {
	instName, dandiset, version, path := m[1], m[2], m[3], m[4]

	inst, ok := r.instanceByName(instName)
	if !ok {
		return Ref{}, r.unknownInstance(input, instName)
	}

	ref := Ref{
		Instance:   inst.name,
		APIBase:    inst.apiBase,
		DandisetID: dandiset,
		Version:    version,
	}
	switch {
	case path == "":
		if version == "" {
			ref.Kind = KindDandiset
		} else {
			ref.Kind = KindVersion
		}
	case strings.HasSuffix(path, "/"):
		ref.Kind = KindAssetFolder
		ref.Path = strings.TrimSuffix(path, "/")
	default:
		ref.Kind = KindAssetItem
		ref.Path = path
	}
	return ref, nil
}

func (r *Resolver) fromURL(ctx context.Context, input string, redirectDepth int) (Ref, error) {
	u, err := url.Parse(input)
	if err != nil {
		return Ref{}, &ResolutionError{Input: input, Reason: "malformed URL"}
	}

	for _, inst := range r.hosts {
		if u.Host == inst.apiHost {
			relPath := strings.TrimPrefix(u.Path, inst.apiPath)
			if ref, ok := r.matchAPI(inst, relPath, u.Query()); ok {
				return ref, nil
			}
			return Ref{}, &ResolutionError{Input: input, Reason: "URL does not match any known archive URL shape"}
		}
		if inst.guiHost != "" && u.Host == inst.guiHost {
			if ref, ok := r.matchGUI(inst, u.Path, u.Query()); ok {
				return ref, nil
			}
			return Ref{}, &ResolutionError{Input: input, Reason: "URL does not match any known archive URL shape"}
		}
	}

	// Archive-shaped URL on an unregistered host: typo assistance beats a
	// pointless redirect hop.
	if strings.Contains(u.Path, "/dandiset") {
		return Ref{}, r.unknownInstance(input, u.Host)
	}

	if redirectDepth >= 1 {
		return Ref{}, &ResolutionError{Input: input, Reason: "redirect did not lead to a known archive URL"}
	}
	final, err := r.followRedirect(ctx, input)
	if err != nil {
		return Ref{}, err
	}
	return r.resolve(ctx, final, redirectDepth+1)
}

// matchAPI evaluates the API-host pattern table top to bottom.
func (r *Resolver) matchAPI(inst instanceHosts, path string, query url.Values) (Ref, bool) {
	if m := apiVersionedAssetRe.FindStringSubmatch(path); m != nil {
		return Ref{Kind: KindAssetID, Instance: inst.name, APIBase: inst.apiBase,
			DandisetID: m[1], Version: m[2], AssetID: m[3]}, true
	}
	if m := apiBareAssetRe.FindStringSubmatch(path); m != nil {
		return Ref{Kind: KindAssetID, Instance: inst.name, APIBase: inst.apiBase, AssetID: m[1]}, true
	}
	if m := apiAssetListRe.FindStringSubmatch(path); m != nil {
		ref := Ref{Instance: inst.name, APIBase: inst.apiBase, DandisetID: m[1], Version: m[2]}
		if glob := query.Get("glob"); glob != "" {
			ref.Kind = KindMultiAsset
			ref.Glob = glob
			return ref, true
		}
		loc := query.Get("path")
		return refForLocation(ref, loc), true
	}
	if m := apiVersionRe.FindStringSubmatch(path); m != nil {
		return Ref{Kind: KindVersion, Instance: inst.name, APIBase: inst.apiBase,
			DandisetID: m[1], Version: m[2]}, true
	}
	if m := apiDandisetRe.FindStringSubmatch(path); m != nil {
		return Ref{Kind: KindDandiset, Instance: inst.name, APIBase: inst.apiBase, DandisetID: m[1]}, true
	}
	return Ref{}, false
}

// matchGUI evaluates the GUI-host pattern table top to bottom.
func (r *Resolver) matchGUI(inst instanceHosts, path string, query url.Values) (Ref, bool) {
	if m := guiFilesRe.FindStringSubmatch(path); m != nil {
		ref := Ref{Instance: inst.name, APIBase: inst.apiBase, DandisetID: m[1], Version: m[2]}
		return refForLocation(ref, query.Get("location")), true
	}
	if m := guiVersionRe.FindStringSubmatch(path); m != nil {
		return Ref{Kind: KindVersion, Instance: inst.name, APIBase: inst.apiBase,
			DandisetID: m[1], Version: m[2]}, true
	}
	if m := guiDandisetRe.FindStringSubmatch(path); m != nil {
		return Ref{Kind: KindDandiset, Instance: inst.name, APIBase: inst.apiBase, DandisetID: m[1]}, true
	}
	return Ref{}, false
}

// refForLocation narrows a version-scoped ref by a path/location query value.
// A trailing slash means an exact folder; anything else is a path prefix that
// may span folders. An empty location keeps the whole version in scope.
func refForLocation(ref Ref, loc string) Ref {
	switch {
	case loc == "":
		ref.Kind = KindVersion
	case strings.HasSuffix(loc, "/"):
		ref.Kind = KindAssetFolder
		ref.Path = strings.TrimSuffix(loc, "/")
	default:
		ref.Kind = KindPathPrefix
		ref.Path = loc
	}
	return ref
}

func (r *Resolver) fromBare(m []string) Ref {
	dandiset, version, path := m[1], m[2], m[3]

	// Bare identifiers default to the first registered instance in name
	// order; in practice config always registers "dandi".
	inst := r.hosts[0]
	for _, h := range r.hosts {
		if h.name == "dandi" {
			inst = h
			break
		}
	}

	ref := Ref{Instance: inst.name, APIBase: inst.apiBase, DandisetID: dandiset, Version: version}
	switch {
	case path == "" && version == "":
		ref.Kind = KindDandiset
	case path == "":
		ref.Kind = KindVersion
	case strings.HasSuffix(path, "/"):
		ref.Kind = KindAssetFolder
		ref.Path = strings.TrimSuffix(path, "/")
	default:
		ref.Kind = KindAssetItem
		ref.Path = path
	}
	return ref
}

// followRedirect issues one HEAD request and returns the Location target.
func (r *Resolver) followRedirect(ctx context.Context, input string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, input, nil)
	if err != nil {
		return "", &ResolutionError{Input: input, Reason: "malformed URL"}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &ResolutionError{Input: input, Reason: fmt.Sprintf("redirect lookup failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", &ResolutionError{Input: input, Reason: "URL is not a known archive URL or redirector"}
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", &ResolutionError{Input: input, Reason: "redirector returned no Location"}
	}
	if base, err := url.Parse(input); err == nil {
		if target, err := base.Parse(loc); err == nil {
			loc = target.String()
		}
	}
	if loc == input {
		return "", &ResolutionError{Input: input, Reason: "redirect loop"}
	}
	r.logger.Debug("followed redirector", "from", input, "to", loc)
	return loc, nil
}

func (r *Resolver) instanceByName(name string) (instanceHosts, bool) {
	for _, h := range r.hosts {
		if h.name == name {
			return h, true
		}
	}
	return instanceHosts{}, false
}

// unknownInstance builds a ResolutionError naming the closest registered
// instance for typo assistance.
func (r *Resolver) unknownInstance(input, got string) *ResolutionError {
	best := ""
	bestDist := -1
	for _, h := range r.hosts {
		for _, cand := range []string{h.name, h.apiHost, h.guiHost} {
			if cand == "" {
				continue
			}
			d := editDistance(got, cand)
			if bestDist < 0 || d < bestDist {
				bestDist = d
				best = h.name
			}
		}
	}
	hint := ""
	if best != "" {
		hint = fmt.Sprintf("did you mean instance %q?", best)
	}
	return &ResolutionError{Input: input, Reason: fmt.Sprintf("unknown archive instance %q", got), Hint: hint}
}

// editDistance is a plain Levenshtein distance; inputs are short.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// cutDandiPrefix strips a case-insensitive "DANDI:" prefix, leaving scheme
// URLs (dandi://) alone.
func cutDandiPrefix(input string) (string, bool) {
	if len(input) < 6 || !strings.EqualFold(input[:6], "dandi:") {
		return input, false
	}
	rest := input[6:]
	if strings.HasPrefix(rest, "//") {
		return input, false
	}
	return rest, true
}

// looksLocal reports whether the input should be treated as a local
// filesystem path rather than a remote identifier.
func looksLocal(input string) bool {
	if strings.HasPrefix(input, "/") || strings.HasPrefix(input, "./") ||
		strings.HasPrefix(input, "../") || input == "." || input == ".." {
		return true
	}
	_, err := os.Stat(input)
	return err == nil
}
