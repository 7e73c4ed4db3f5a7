package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/pendergraft/verifier/internal/compilers"
)

type listJSON struct {
	Builds []struct {
		Path        string `json:"path"`
		LongVersion string `json:"longVersion"`
		SHA256      string `json:"sha256"`
	} `json:"builds"`
}

type listBuild struct {
	version compilers.Version
	url     string
	digest  Digest
}

// ListFetcher downloads binaries described by a list.json manifest such as the
// one published at binaries.soliditylang.org.
type ListFetcher struct {
	listURL *url.URL
	dir     string
	name    string
	opts    options

	builds atomic.Pointer[map[string]listBuild]
}

// NewListFetcher creates a fetcher and loads the manifest once. Binaries are
// stored as <dir>/<version>/<name>.
func NewListFetcher(ctx context.Context, listURL, dir, name string, opts ...Option) (*ListFetcher, error) {
	u, err := url.Parse(listURL)
	if err != nil {
		return nil, fmt.Errorf("parsing list url: %w", err)
	}

	f := &ListFetcher{
		listURL: u,
		dir:     dir,
		name:    name,
		opts:    newOptions(opts),
	}
	if _, err := f.Refresh(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Refresh reloads the manifest and swaps the build set if it changed.
func (f *ListFetcher) Refresh(ctx context.Context) (bool, error) {
	builds, err := f.loadList(ctx)
	if err != nil {
		return false, err
	}

	if current := f.builds.Load(); current != nil && sameBuilds(*current, builds) {
		return false, nil
	}
	f.builds.Store(&builds)
	return true, nil
}

func (f *ListFetcher) loadList(ctx context.Context) (map[string]listBuild, error) {
	body, err := get(ctx, f.opts.httpClient, f.listURL.String())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var list listJSON
	if err := json.NewDecoder(body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decoding list: %v", ErrFetch, err)
	}

	builds := make(map[string]listBuild, len(list.Builds))
	for _, b := range list.Builds {
		version, err := compilers.ParseVersion(b.LongVersion)
		if err != nil {
			// unknown version formats are not served
			continue
		}
		digest, err := ParseDigest(b.SHA256)
		if err != nil {
			return nil, fmt.Errorf("list entry %q: %w", b.Path, err)
		}
		ref, err := url.Parse(b.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: list entry path %q: %v", ErrFetch, b.Path, err)
		}
		builds[version.String()] = listBuild{
			version: version,
			url:     f.listURL.ResolveReference(ref).String(),
			digest:  digest,
		}
	}
	return builds, nil
}

func sameBuilds(a, b map[string]listBuild) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Versions returns the versions listed in the manifest, newest first.
func (f *ListFetcher) Versions() []compilers.Version {
	builds := f.builds.Load()
	if builds == nil {
		return nil
	}
	versions := make([]compilers.Version, 0, len(*builds))
	for _, b := range *builds {
		versions = append(versions, b.version)
	}
	compilers.SortDescending(versions)
	return versions
}

// Fetch downloads the binary for version.
func (f *ListFetcher) Fetch(ctx context.Context, version compilers.Version) (*CachedBinary, error) {
	builds := f.builds.Load()
	if builds == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	build, ok := (*builds)[version.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}

	body, err := get(ctx, f.opts.httpClient, build.url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return writeBinary(ctx, body, f.dir, version, f.name, build.digest, f.opts.validate)
}
