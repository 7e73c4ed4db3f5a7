// Package compilers runs EVM compilers and turns their output into
// per-contract artifacts.
package compilers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pendergraft/verifier/internal/artifacts"
	"github.com/pendergraft/verifier/internal/auxdata"
	"github.com/pendergraft/verifier/internal/observability/metrics"
)

// EvmCompiler is implemented once per compiler family.
type EvmCompiler interface {
	// Compile runs the binary at binaryPath on input.
	Compile(ctx context.Context, binaryPath string, version Version, input *Input) (*Output, error)
	// NormalizeOutputSelection makes input request every output the
	// matcher and the part store need.
	NormalizeOutputSelection(input *Input, version Version) error
	// ModifiedCopy returns an input whose compilation differs from input's
	// only in metadata hashes.
	ModifiedCopy(input *Input) *Input
	// AuxdataFormat is the metadata convention of the compiler's output.
	AuxdataFormat() auxdata.Format
}

// BinaryCache resolves versions to local binaries.
type BinaryCache interface {
	Path(ctx context.Context, version Version) (string, error)
	Versions() []Version
}

type registryEntry struct {
	compiler EvmCompiler
	cache    BinaryCache
}

// Registry maps languages to a compiler family and its binary cache.
type Registry struct {
	entries map[Language]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Language]registryEntry)}
}

// Register binds a language to a compiler and a binary cache.
func (r *Registry) Register(lang Language, compiler EvmCompiler, cache BinaryCache) {
	r.entries[lang] = registryEntry{compiler: compiler, cache: cache}
}

// Languages returns the registered languages in lexical order.
func (r *Registry) Languages() []Language {
	langs := make([]Language, 0, len(r.entries))
	for l := range r.entries {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

func (r *Registry) lookup(lang Language) (registryEntry, error) {
	e, ok := r.entries[lang]
	if !ok {
		return registryEntry{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	return e, nil
}

// CompileResult is a successful compilation with metadata blocks located.
type CompileResult struct {
	Language  Language
	Version   Version
	Input     *Input
	Contracts map[string]*artifacts.CompiledContract
	Warnings  []Diagnostic
}

// Contract returns the contract with the given fully qualified name.
func (r *CompileResult) Contract(name string) (*artifacts.CompiledContract, bool) {
	c, ok := r.Contracts[name]
	return c, ok
}

// SortedNames returns the fully qualified contract names in lexical order.
func (r *CompileResult) SortedNames() []string {
	names := make([]string, 0, len(r.Contracts))
	for name := range r.Contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compilers runs compilations with bounded concurrency.
type Compilers struct {
	registry *Registry
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a compiler pool running at most maxThreads processes at once.
// A zero timeout leaves only the caller's deadline in effect.
func New(registry *Registry, maxThreads int, timeout time.Duration, logger *slog.Logger) *Compilers {
	if maxThreads < 1 {
		maxThreads = 1
	}
	return &Compilers{
		registry: registry,
		sem:      semaphore.NewWeighted(int64(maxThreads)),
		timeout:  timeout,
		logger:   logger,
	}
}

// Languages returns the languages that can be compiled.
func (c *Compilers) Languages() []Language {
	return c.registry.Languages()
}

// Versions lists the known compiler versions for lang, newest first.
func (c *Compilers) Versions(lang Language) ([]Version, error) {
	e, err := c.registry.lookup(lang)
	if err != nil {
		return nil, err
	}
	return e.cache.Versions(), nil
}

// Compile compiles input with the given compiler version and locates the
// metadata blocks of every produced contract. The input is not modified.
func (c *Compilers) Compile(ctx context.Context, lang Language, version Version, input *Input) (*CompileResult, error) {
	e, err := c.registry.lookup(lang)
	if err != nil {
		return nil, err
	}

	path, err := e.cache.Path(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("resolving %s %s: %w", lang, version, err)
	}

	input = input.Clone()
	if err := e.compiler.NormalizeOutputSelection(input, version); err != nil {
		return nil, err
	}
	modified := e.compiler.ModifiedCopy(input)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var out, modifiedOut *Output
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out, err = c.run(gctx, lang, e.compiler, path, version, input)
		return err
	})
	g.Go(func() error {
		var err error
		modifiedOut, err = c.run(gctx, lang, e.compiler, path, version, modified)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	format := e.compiler.AuxdataFormat()
	for name, contract := range out.Contracts {
		other, ok := modifiedOut.Contracts[name]
		if !ok {
			c.logger.Warn("contract missing from modified compilation", "contract", name)
			continue
		}

		creationAux, err := auxdata.Locate(format, contract.Creation, other.Creation)
		if err != nil {
			c.logger.Warn("locating creation metadata failed", "contract", name, "error", err)
		} else {
			contract.CreationArt.CborAuxdata = creationAux
		}

		runtimeAux, err := auxdata.Locate(format, contract.Runtime, other.Runtime)
		if err != nil {
			c.logger.Warn("locating runtime metadata failed", "contract", name, "error", err)
		} else {
			contract.RuntimeArt.CborAuxdata = runtimeAux
		}
	}

	return &CompileResult{
		Language:  lang,
		Version:   version,
		Input:     input,
		Contracts: out.Contracts,
		Warnings:  out.Warnings,
	}, nil
}

func (c *Compilers) run(ctx context.Context, lang Language, compiler EvmCompiler, path string, version Version, input *Input) (*Output, error) {
	waitStart := time.Now()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	defer c.sem.Release(1)
	metrics.CompileQueueWait(string(lang), time.Since(waitStart))

	done := metrics.CompileStarted(string(lang))
	defer done()

	start := time.Now()
	out, err := compiler.Compile(ctx, path, version, input)
	metrics.Compile(string(lang), compileStatus(err), time.Since(start))
	return out, err
}

func compileStatus(err error) string {
	var compErr *CompilationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &compErr):
		return "compilation_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
