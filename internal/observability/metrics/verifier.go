package metrics

import "time"

// CompilerFetch records a compiler binary download.
func CompilerFetch(language, status string) {
	if !enabled {
		return
	}
	compilerFetchTotal.WithLabelValues(language, status).Inc()
}

// Compile records a finished compiler invocation.
func Compile(language, status string, d time.Duration) {
	if !enabled {
		return
	}
	compileDuration.WithLabelValues(language, status).Observe(d.Seconds())
}

// CompileQueueWait records how long a compilation waited for a slot.
func CompileQueueWait(language string, d time.Duration) {
	if !enabled {
		return
	}
	compileQueueWait.WithLabelValues(language).Observe(d.Seconds())
}

// CompileStarted increments the in-flight gauge. The returned func decrements it.
func CompileStarted(language string) func() {
	if !enabled {
		return func() {}
	}
	g := compilationsInFlight.WithLabelValues(language)
	g.Inc()
	return g.Dec
}

// VerificationRequest records a verification outcome.
func VerificationRequest(language, verdict string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(language, verdict).Inc()
}

// SearchRequest records a search outcome ("hit", "miss" or "error").
func SearchRequest(result string) {
	if !enabled {
		return
	}
	searchTotal.WithLabelValues(result).Inc()
}

// PartsStored records newly inserted bytecode parts.
func PartsStored(partType string, n int) {
	if !enabled || n == 0 {
		return
	}
	partsStoredTotal.WithLabelValues(partType).Add(float64(n))
}
