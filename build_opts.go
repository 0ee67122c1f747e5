package packstream

import (
	"io"
	"log/slog"
)

// DefaultChunkSize is the streaming chunk size used when none is set. One
// chunk bounds the build's peak memory use.
const DefaultChunkSize = 8 << 20

// Behavior enumerates a build's content transformation toggles. The zero
// value disables all of them.
type Behavior struct {
	// EmitProvisionalIdentifiers carries each item's provisional
	// identifier in the phase-one header instead of the all-zero
	// placeholder. Either way the committed header carries the final
	// identifiers.
	EmitProvisionalIdentifiers bool

	// StripPersonalizedCredentials ships the common token form instead of
	// the personalized one.
	StripPersonalizedCredentials bool

	// ApplyContentPatches enables per-item content rewrites.
	ApplyContentPatches bool

	// RewriteSigningMaterial additionally enables program items' signing
	// material rewrites. Requires ApplyContentPatches.
	RewriteSigningMaterial bool
}

// buildConfig holds configuration for a package build.
type buildConfig struct {
	chunkSize int
	behavior  Behavior
	logger    *slog.Logger
	progress  ProgressFunc
}

func defaultBuildConfig() buildConfig {
	return buildConfig{
		chunkSize: DefaultChunkSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// BuildOption configures a package build.
type BuildOption func(*buildConfig)

// WithChunkSize sets the streaming chunk size in bytes. Values < 1 use
// DefaultChunkSize.
func WithChunkSize(n int) BuildOption {
	return func(cfg *buildConfig) {
		if n > 0 {
			cfg.chunkSize = n
		}
	}
}

// WithBehavior sets the build's content transformation toggles.
func WithBehavior(b Behavior) BuildOption {
	return func(cfg *buildConfig) {
		cfg.behavior = b
	}
}

// WithLogger sets a custom logger for build events.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(cfg *buildConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) BuildOption {
	return func(cfg *buildConfig) {
		cfg.progress = fn
	}
}
