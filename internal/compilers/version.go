package compilers

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrInvalidVersion is returned when a compiler version string cannot be parsed.
var ErrInvalidVersion = errors.New("invalid compiler version")

var (
	commitPattern = regexp.MustCompile(`^commit\.[0-9a-fA-F]{4,40}$`)
	// vyper publishes prereleases as 0.4.0rc1 / 0.3.0b17
	loosePrerelease = regexp.MustCompile(`^(\d+\.\d+\.\d+)((?:rc|b|beta|a|alpha)\d+)$`)
)

// Version is a detailed compiler version: a semantic version plus the commit
// the binary was built from, e.g. v0.8.9+commit.e5eed63a or
// v0.8.8-nightly.2021.9.9+commit.e5eed63a.
type Version struct {
	semver string // canonical, with leading v and without build metadata
	commit string
}

// ParseVersion parses a detailed compiler version. The leading "v" is optional.
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "v")
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}

	core, build, ok := strings.Cut(raw, "+")
	if !ok {
		return Version{}, fmt.Errorf("%w: %q has no commit", ErrInvalidVersion, s)
	}
	if !commitPattern.MatchString(build) {
		return Version{}, fmt.Errorf("%w: %q has invalid build metadata", ErrInvalidVersion, s)
	}
	if m := loosePrerelease.FindStringSubmatch(core); m != nil {
		core = m[1] + "-" + m[2]
	}

	v := "v" + core
	if !semver.IsValid(v) || semver.Canonical(v) != v {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	return Version{
		semver: v,
		commit: strings.ToLower(strings.TrimPrefix(build, "commit.")),
	}, nil
}

// MustParseVersion is like ParseVersion but panics on error. Intended for tests
// and constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version as v{semver}+commit.{commit}.
func (v Version) String() string {
	if v.semver == "" {
		return ""
	}
	return v.semver + "+commit." + v.commit
}

// Semver returns the release triple without prerelease or build, e.g. v0.8.9.
func (v Version) Semver() string {
	if v.semver == "" {
		return ""
	}
	return semver.Canonical(strings.SplitN(v.semver, "-", 2)[0])
}

// Commit returns the build commit hash.
func (v Version) Commit() string { return v.commit }

// Prerelease returns the prerelease part (e.g. "-nightly.2021.9.9"), if any.
func (v Version) Prerelease() string { return semver.Prerelease(v.semver) }

// IsNightly reports whether the version is a nightly build.
func (v Version) IsNightly() bool {
	return strings.HasPrefix(v.Prerelease(), "-nightly.")
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.semver == "" }

// AtLeast reports whether the release triple of v is >= the given semver
// (e.g. "v0.4.11"). Prereleases of a triple count as that triple.
func (v Version) AtLeast(min string) bool {
	return semver.Compare(v.Semver(), min) >= 0
}

// Compare orders versions by semantic version (releases above prereleases and
// nightlies of the same triple, nightlies by date) and then by commit.
func Compare(a, b Version) int {
	if c := semver.Compare(a.semver, b.semver); c != 0 {
		return c
	}
	return strings.Compare(a.commit, b.commit)
}

// SortDescending sorts versions newest first.
func SortDescending(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) > 0
	})
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Language is the source language family a compiler accepts.
type Language string

const (
	Solidity Language = "solidity"
	Yul      Language = "yul"
	Vyper    Language = "vyper"
)

// ParseLanguage parses a language name case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "solidity", "":
		return Solidity, nil
	case "yul":
		return Yul, nil
	case "vyper":
		return Vyper, nil
	default:
		return "", fmt.Errorf("unsupported language: %s", s)
	}
}

// StandardJSONName returns the value of the "language" field in standard JSON input.
func (l Language) StandardJSONName() string {
	switch l {
	case Yul:
		return "Yul"
	case Vyper:
		return "Vyper"
	default:
		return "Solidity"
	}
}
