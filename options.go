package xar

import (
	"crypto"
	"crypto/x509"
	"log/slog"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
)

// Default limits.
const (
	// DefaultMaxFileSize bounds a single member payload.
	DefaultMaxFileSize = 1 << 30

	// DefaultMaxTOCSize bounds the compressed and uncompressed TOC.
	DefaultMaxTOCSize = 64 << 20

	// DefaultMaxDecoderMemory bounds zstd decoder memory.
	DefaultMaxDecoderMemory = 256 << 20

	// DefaultSkipCompressionSize is the payload size below which members
	// are stored uncompressed by default.
	DefaultSkipCompressionSize = 64
)

type config struct {
	checksum         checksum.Algorithm
	compression      codec.Encoding
	compressionLevel int
	signers          []signer
	skipCompression  []SkipCompressionFunc
	skipSet          bool
	overwrite        bool
	maxFileSize      uint64
	maxTOCSize       uint64
	maxDecoderMemory uint64
	logger           *slog.Logger
	progress         ProgressFunc
}

func defaultConfig() config {
	return config{
		checksum:         checksum.Default,
		compression:      codec.Default,
		overwrite:        true,
		maxFileSize:      DefaultMaxFileSize,
		maxTOCSize:       DefaultMaxTOCSize,
		maxDecoderMemory: DefaultMaxDecoderMemory,
	}
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.skipSet {
		cfg.skipCompression = []SkipCompressionFunc{codec.DefaultSkipCompression(DefaultSkipCompressionSize)}
	}
	return cfg
}

// Option configures Open, Create and OpenReader.
type Option func(*config)

// WithChecksum sets the digest algorithm for new archives (default SHA-256).
// Readers use the algorithm recorded in the container and ignore this.
func WithChecksum(alg ChecksumAlgorithm) Option {
	return func(c *config) {
		c.checksum = alg
	}
}

// WithCompression sets the preferred payload encoding (default zstd).
// Use EncodingNone to store every payload as is.
func WithCompression(enc Encoding) Option {
	return func(c *config) {
		c.compression = enc
	}
}

// WithCompressionLevel sets the encoder level on the zlib scale of 1
// (fastest) to 9 (smallest). zstd maps the value onto its nearest level;
// lz4 ignores it. Zero keeps each encoder's default.
func WithCompressionLevel(level int) Option {
	return func(c *config) {
		c.compressionLevel = level
	}
}

// WithSigner signs new archives with key. certs identify the signer, leaf
// first, and are recorded in the TOC. Only RSA keys are supported, and the
// checksum algorithm must be MD5, SHA-1 or SHA-2. May be given more than
// once to record several signatures.
func WithSigner(key crypto.Signer, certs ...*x509.Certificate) Option {
	return func(c *config) {
		c.signers = append(c.signers, signer{key: key, certs: certs})
	}
}

// WithSkipCompression replaces the default predicates that decide to store
// a payload uncompressed. If any predicate returns true, compression is
// skipped for that member. Calling it with no predicates disables skipping.
func WithSkipCompression(fns ...SkipCompressionFunc) Option {
	return func(c *config) {
		c.skipCompression = append(c.skipCompression, fns...)
		c.skipSet = true
	}
}

// WithOverwrite controls whether Create replaces an existing file.
// Overwriting is enabled by default.
func WithOverwrite(overwrite bool) Option {
	return func(c *config) {
		c.overwrite = overwrite
	}
}

// WithMaxFileSize limits the size of any single member payload, both when
// adding and when decoding. Zero disables the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(c *config) {
		c.maxFileSize = limit
	}
}

// WithMaxTOCSize limits the TOC size accepted on open. Zero disables the limit.
func WithMaxTOCSize(limit uint64) Option {
	return func(c *config) {
		c.maxTOCSize = limit
	}
}

// WithMaxDecoderMemory limits the memory used by the zstd decoder.
// Zero uses the decoder's own default.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(c *config) {
		c.maxDecoderMemory = limit
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithProgress sets a callback that receives progress updates.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// ExtractOption configures extraction.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite      bool
	preserveMode   bool
	preserveTimes  bool
	workers        int
	readAheadBytes uint64
}

func newExtractConfig(opts []ExtractOption) extractConfig {
	cfg := extractConfig{
		overwrite:     true,
		preserveMode:  true,
		preserveTimes: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ExtractWithOverwrite controls whether existing destinations are replaced.
// Enabled by default. When disabled, an existing destination is an error.
// Existing directories are reused either way.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveMode restores recorded permission bits (default true).
func ExtractWithPreserveMode(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveMode = preserve
	}
}

// ExtractWithPreserveTimes restores recorded modification times (default true).
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithWorkers sets how many file payloads ExtractAll decodes and
// writes in parallel. Values < 0 force serial processing. Zero uses
// GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithReadAheadBytes caps the total size of decoded payloads that
// ExtractAll holds in memory at once. Zero disables the budget.
func ExtractWithReadAheadBytes(limit uint64) ExtractOption {
	return func(c *extractConfig) {
		c.readAheadBytes = limit
	}
}
