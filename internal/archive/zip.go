package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/validate"
)

// Unpacker expands a bundle into the image files it contains.
type Unpacker interface {
	Unpack(ctx context.Context, name string, data []byte) ([]validate.File, error)
}

// Packer builds a single bundle from named buffers.
type Packer interface {
	Pack(ctx context.Context, entries []NamedBuffer) ([]byte, error)
}

// NamedBuffer is one file to place in a bundle.
type NamedBuffer struct {
	Name string
	Data []byte
}

// ZipCodec unpacks and packs zip bundles.
type ZipCodec struct {
	// MaxEntrySize caps how much of a single entry is inflated. Larger
	// entries are returned without data and with their declared size so the
	// validator rejects them as too large.
	MaxEntrySize int64
	// Now stamps packed entries; defaults to time.Now.
	Now func() time.Time
}

// NewZipCodec creates a codec with the given per-entry ceiling.
func NewZipCodec(maxEntrySize int64) *ZipCodec {
	if maxEntrySize <= 0 {
		maxEntrySize = validate.DefaultMaxFileSize
	}
	return &ZipCodec{MaxEntrySize: maxEntrySize, Now: time.Now}
}

// Unpack returns every image entry of the bundle. Directories, hidden
// files, non-image entries and nested bundles are dropped. Entry names are
// reduced to their base name and the media type is inferred from the
// extension. Entries still go through validation and the integrity check
// like any other input.
func (c *ZipCodec) Unpack(ctx context.Context, name string, data []byte) ([]validate.File, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errs.New(errs.ArchiveUnreadable, "unpack "+name, err)
	}

	var files []validate.File
	for _, zf := range r.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		if skipEntry(zf) {
			continue
		}

		base := path.Base(strings.ReplaceAll(zf.Name, "\\", "/"))
		ext := mediatypes.Ext(base)
		if mediatypes.GetFileType(ext) != mediatypes.FileTypeImage {
			continue
		}

		f := validate.File{
			Name:      base,
			MediaType: mediatypes.GetMimeType(ext),
			Size:      int64(zf.UncompressedSize64),
		}
		if f.Size > c.MaxEntrySize {
			files = append(files, f)
			continue
		}

		content, readErr := c.readEntry(zf)
		f.Data = content
		f.Size = int64(len(content))
		if errors.Is(readErr, errTooBig) {
			f.Data = nil
		}
		files = append(files, f)
	}
	return files, nil
}

var errTooBig = errors.New("entry exceeds size ceiling")

func (c *ZipCodec) readEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, c.MaxEntrySize+1))
	if err != nil {
		return content, err
	}
	if int64(len(content)) > c.MaxEntrySize {
		return content, errTooBig
	}
	return content, nil
}

func skipEntry(zf *zip.File) bool {
	if zf.FileInfo().IsDir() || strings.HasSuffix(zf.Name, "/") {
		return true
	}
	name := strings.ReplaceAll(zf.Name, "\\", "/")
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// Pack writes entries into a zip bundle. Duplicate names get a numeric
// suffix before the extension. Already-compressed formats are stored rather
// than deflated.
func (c *ZipCodec) Pack(ctx context.Context, entries []NamedBuffer) ([]byte, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	stamp := now()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	used := make(map[string]bool, len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}

		name := UniqueName(e.Name, used)
		method := zip.Deflate
		if storedExt[mediatypes.Ext(name)] {
			method = zip.Store
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: stamp})
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("pack %s: %w", name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("pack %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

var storedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".avif": true,
}

// UniqueName returns name, or name with a "-N" suffix before the extension
// when it is already in used. Comparison ignores case. The chosen name is
// recorded in used.
func UniqueName(name string, used map[string]bool) string {
	if name == "" {
		name = "file"
	}
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
