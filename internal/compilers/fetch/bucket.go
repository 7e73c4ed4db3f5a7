package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/pendergraft/verifier/internal/compilers"
)

const bucketDigestObject = "sha256.hash"

// listBucketResult is the subset of an S3 ListObjectsV2 response used here.
type listBucketResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
}

// BucketFetcher downloads binaries from a publicly readable S3-compatible
// bucket laid out as <version>/<name> and <version>/sha256.hash.
type BucketFetcher struct {
	endpoint string
	dir      string
	name     string
	opts     options

	versions atomic.Pointer[map[string]bucketVersion]
}

// bucketVersion keeps the prefix exactly as listed, since version parsing
// normalizes forms such as "0.4.0rc1" and the object keys do not.
type bucketVersion struct {
	version compilers.Version
	prefix  string
}

// NewBucketFetcher creates a fetcher and lists the bucket once.
func NewBucketFetcher(ctx context.Context, endpoint, dir, name string, opts ...Option) (*BucketFetcher, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parsing bucket url: %w", err)
	}

	f := &BucketFetcher{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		dir:      dir,
		name:     name,
		opts:     newOptions(opts),
	}
	if _, err := f.Refresh(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Refresh relists the bucket and swaps the version set if it changed.
func (f *BucketFetcher) Refresh(ctx context.Context) (bool, error) {
	versions := make(map[string]bucketVersion)

	token := ""
	for {
		q := url.Values{}
		q.Set("list-type", "2")
		q.Set("delimiter", "/")
		if token != "" {
			q.Set("continuation-token", token)
		}

		page, err := f.listPage(ctx, f.endpoint+"/?"+q.Encode())
		if err != nil {
			return false, err
		}
		for _, p := range page.CommonPrefixes {
			prefix := strings.TrimSuffix(p.Prefix, "/")
			v, err := compilers.ParseVersion(prefix)
			if err != nil {
				continue
			}
			versions[v.String()] = bucketVersion{version: v, prefix: prefix}
		}
		if !page.IsTruncated || page.NextContinuationToken == "" {
			break
		}
		token = page.NextContinuationToken
	}

	if current := f.versions.Load(); current != nil && sameVersions(*current, versions) {
		return false, nil
	}
	f.versions.Store(&versions)
	return true, nil
}

func (f *BucketFetcher) listPage(ctx context.Context, u string) (*listBucketResult, error) {
	body, err := get(ctx, f.opts.httpClient, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var page listBucketResult
	if err := xml.NewDecoder(body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decoding bucket listing: %v", ErrFetch, err)
	}
	return &page, nil
}

func sameVersions(a, b map[string]bucketVersion) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		if vb, ok := b[k]; !ok || va.prefix != vb.prefix {
			return false
		}
	}
	return true
}

// Versions returns the versions present in the bucket, newest first.
func (f *BucketFetcher) Versions() []compilers.Version {
	current := f.versions.Load()
	if current == nil {
		return nil
	}
	versions := make([]compilers.Version, 0, len(*current))
	for _, v := range *current {
		versions = append(versions, v.version)
	}
	compilers.SortDescending(versions)
	return versions
}

// Fetch downloads the digest and then the binary for version.
func (f *BucketFetcher) Fetch(ctx context.Context, version compilers.Version) (*CachedBinary, error) {
	current := f.versions.Load()
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	entry, ok := (*current)[version.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, version)
	}

	digest, err := f.fetchDigest(ctx, entry.prefix)
	if err != nil {
		return nil, err
	}

	body, err := get(ctx, f.opts.httpClient, f.objectURL(entry.prefix, f.name))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return writeBinary(ctx, body, f.dir, version, f.name, digest, f.opts.validate)
}

func (f *BucketFetcher) fetchDigest(ctx context.Context, prefix string) (Digest, error) {
	body, err := get(ctx, f.opts.httpClient, f.objectURL(prefix, bucketDigestObject))
	if err != nil {
		return Digest{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil {
		return Digest{}, fmt.Errorf("%w: reading digest: %v", ErrFetch, err)
	}
	return ParseDigest(string(raw))
}

func (f *BucketFetcher) objectURL(prefix, object string) string {
	return f.endpoint + "/" + url.PathEscape(prefix) + "/" + url.PathEscape(object)
}
