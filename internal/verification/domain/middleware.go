package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
	ListVersions(ctx context.Context, language string) (*CompilerVersions, error)
	GetSource(ctx context.Context, id string) (*Source, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	result, err := m.next.Verify(ctx, req)
	attrs := []any{
		"language", req.Language,
		"compiler_version", req.CompilerVersion,
		"contract", req.ContractName,
		"creation_len", len(req.CreationCode),
		"runtime_len", len(req.RuntimeCode),
	}
	if result != nil {
		attrs = append(attrs,
			"status", result.Status,
			"verdict", result.Verdict,
			"matched_contract", result.ContractName,
		)
	}
	attrs = append(attrs, "duration", time.Since(start), "error", err)
	m.logger.Info("Verify", attrs...)
	return result, err
}

func (m *loggingMiddleware) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	result, err := m.next.Search(ctx, req)
	matches := 0
	if result != nil {
		matches = len(result.Matches)
	}
	m.logger.Info("Search",
		"code_type", req.CodeType,
		"code_len", len(req.Code),
		"matches", matches,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) ListVersions(ctx context.Context, language string) (*CompilerVersions, error) {
	start := time.Now()
	result, err := m.next.ListVersions(ctx, language)
	m.logger.Debug("ListVersions",
		"language", language,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) GetSource(ctx context.Context, id string) (*Source, error) {
	start := time.Now()
	result, err := m.next.GetSource(ctx, id)
	m.logger.Debug("GetSource",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
