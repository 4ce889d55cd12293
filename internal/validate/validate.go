package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/mediatypes"
)

const (
	// DefaultMaxFileSize is the per-file byte ceiling (50 MiB).
	DefaultMaxFileSize int64 = 50 * 1024 * 1024
	// DefaultMaxNameLength is the longest accepted file name, in characters.
	DefaultMaxNameLength = 255
	// DefaultMaxDimension bounds width and height in the integrity check.
	DefaultMaxDimension = 10000
)

// DefaultBlockedSubstrings are executable-style fragments rejected anywhere in
// a file name.
var DefaultBlockedSubstrings = []string{".exe", ".bat", ".cmd", ".scr", ".pif", ".com", ".js", ".vbs", ".jar"}

// File is an input as handed to the pipeline: a name, declared media type
// and content. Size is the true byte length and may exceed len(Data) when
// the reader stopped early at the size ceiling.
type File struct {
	Name      string
	MediaType string
	Size      int64
	Data      []byte
}

// NewFile builds a File whose Size is the length of data.
func NewFile(name, mediaType string, data []byte) File {
	return File{Name: name, MediaType: mediaType, Size: int64(len(data)), Data: data}
}

// Config holds validator limits. Zero values take the defaults.
type Config struct {
	MaxFileSize       int64
	MaxNameLength     int
	BlockedSubstrings []string
	MaxDimension      int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:       DefaultMaxFileSize,
		MaxNameLength:     DefaultMaxNameLength,
		BlockedSubstrings: DefaultBlockedSubstrings,
		MaxDimension:      DefaultMaxDimension,
	}
}

// Result is the outcome of a check.
type Result struct {
	Valid  bool      `json:"valid"`
	Code   errs.Code `json:"code,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Err converts a failed Result into an *errs.Error, or nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return errs.New(r.Code, "validate", fmt.Errorf("%s", r.Reason))
}

func ok() Result { return Result{Valid: true} }

func fail(code errs.Code, format string, args ...interface{}) Result {
	return Result{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// DimensionProber reads image dimensions without a full decode.
type DimensionProber interface {
	Dimensions(ctx context.Context, data []byte) (width, height int, err error)
}

// Validator applies the cheap, synchronous acceptance checks and the
// optional integrity check.
type Validator struct {
	cfg Config
}

// New creates a Validator. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = def.MaxNameLength
	}
	if cfg.BlockedSubstrings == nil {
		cfg.BlockedSubstrings = def.BlockedSubstrings
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = def.MaxDimension
	}
	return &Validator{cfg: cfg}
}

// Config returns the effective limits.
func (v *Validator) Config() Config {
	return v.cfg
}

// Validate runs type, size, name length and name content checks in that
// order and stops at the first failure.
func (v *Validator) Validate(f File) Result {
	if !mediatypes.IsAllowedInput(f.MediaType) {
		declared := f.MediaType
		if declared == "" {
			declared = "(none)"
		}
		return fail(errs.InvalidType, "File type %s is not allowed. Please use a valid image format.", declared)
	}

	if f.Size <= 0 {
		return fail(errs.EmptyFile, "File %q is empty.", f.Name)
	}
	if f.Size > v.cfg.MaxFileSize {
		return fail(errs.TooLarge, "File size %s exceeds maximum allowed size of %s.",
			humanSize(f.Size), humanSize(v.cfg.MaxFileSize))
	}

	if utf8.RuneCountInString(f.Name) > v.cfg.MaxNameLength {
		return fail(errs.NameTooLong, "Filename is too long. Maximum length is %d characters.", v.cfg.MaxNameLength)
	}

	lower := strings.ToLower(f.Name)
	for _, s := range v.cfg.BlockedSubstrings {
		if strings.Contains(lower, s) {
			return fail(errs.SuspiciousName, "File name contains the blocked fragment %q.", s)
		}
	}

	return ok()
}

// CheckIntegrity confirms the content is a decodable image with dimensions
// inside [1, MaxDimension].
func (v *Validator) CheckIntegrity(ctx context.Context, f File, prober DimensionProber) Result {
	if err := ctx.Err(); err != nil {
		return fail(errs.CorruptOrInvalidDimensions, "Integrity check aborted: %v", err)
	}

	w, h, err := prober.Dimensions(ctx, f.Data)
	if err != nil {
		return fail(errs.CorruptOrInvalidDimensions, "File is corrupted or not a valid image.")
	}
	if w > v.cfg.MaxDimension || h > v.cfg.MaxDimension {
		return fail(errs.CorruptOrInvalidDimensions, "Image dimensions are too large (max %dx%d pixels).",
			v.cfg.MaxDimension, v.cfg.MaxDimension)
	}
	if w < 1 || h < 1 {
		return fail(errs.CorruptOrInvalidDimensions, "Invalid image dimensions.")
	}
	return ok()
}

var (
	unsafeChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	reservedName = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[0-9]|lpt[0-9])(\..*)?$`)
	onlyDots     = regexp.MustCompile(`^\.*$`)
)

// SanitizeFilename makes name safe to use as a download or archive entry
// name on common filesystems. maxLen <= 0 uses DefaultMaxNameLength.
func SanitizeFilename(name string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	s := unsafeChars.ReplaceAllString(name, "_")
	if reservedName.MatchString(s) {
		s = "file" + s
	}
	if onlyDots.MatchString(s) {
		s = "file"
	}
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return s
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%dMB", (n+mb/2)/mb)
	}
	return fmt.Sprintf("%dKB", (n+511)/1024)
}
