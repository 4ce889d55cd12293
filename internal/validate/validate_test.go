package validate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cleanconvert/internal/errs"
)

type fakeProber struct {
	w, h int
	err  error
}

func (f fakeProber) Dimensions(context.Context, []byte) (int, int, error) {
	return f.w, f.h, f.err
}

func TestValidate(t *testing.T) {
	v := New(Config{MaxFileSize: 1024})

	tests := []struct {
		name string
		file File
		want errs.Code
	}{
		{"valid jpeg", NewFile("photo.jpg", "image/jpeg", make([]byte, 10)), ""},
		{"alias type accepted", NewFile("photo.jpg", "image/jpg", make([]byte, 10)), ""},
		{"icon alternative type", NewFile("favicon.ico", "image/vnd.microsoft.icon", make([]byte, 10)), ""},
		{"text file", NewFile("notes.txt", "text/plain", make([]byte, 10)), errs.InvalidType},
		{"missing type", NewFile("photo.jpg", "", make([]byte, 10)), errs.InvalidType},
		{"zero bytes", NewFile("empty.jpg", "image/jpeg", nil), errs.EmptyFile},
		{"over ceiling", NewFile("big.png", "image/png", make([]byte, 1025)), errs.TooLarge},
		{"reported size over ceiling", File{Name: "big.png", MediaType: "image/png", Size: 5000, Data: make([]byte, 10)}, errs.TooLarge},
		{"exactly at ceiling", NewFile("edge.png", "image/png", make([]byte, 1024)), ""},
		{"long name", NewFile(strings.Repeat("a", 252)+".png", "image/png", make([]byte, 10)), errs.NameTooLong},
		{"exe fragment", NewFile("invoice.exe.jpg", "image/jpeg", make([]byte, 10)), errs.SuspiciousName},
		{"upper case fragment", NewFile("RUN.BAT.png", "image/png", make([]byte, 10)), errs.SuspiciousName},
		{"js fragment", NewFile("app.js.webp", "image/webp", make([]byte, 10)), errs.SuspiciousName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.file)
			if tt.want == "" {
				if !got.Valid {
					t.Fatalf("Validate() = %+v, want valid", got)
				}
				if got.Err() != nil {
					t.Errorf("Err() = %v, want nil", got.Err())
				}
				return
			}
			if got.Valid {
				t.Fatalf("Validate() valid, want %s", tt.want)
			}
			if got.Code != tt.want {
				t.Errorf("Validate() code = %s, want %s (reason %q)", got.Code, tt.want, got.Reason)
			}
			if got.Reason == "" {
				t.Error("failed result should carry a reason")
			}
			if errs.CodeOf(got.Err()) != tt.want {
				t.Errorf("Err() code = %s, want %s", errs.CodeOf(got.Err()), tt.want)
			}
		})
	}
}

func TestValidateOrder(t *testing.T) {
	v := New(Config{MaxFileSize: 10})

	// fails type, size, length and name content at once; type is reported
	f := NewFile(strings.Repeat("x", 300)+".exe", "application/x-msdownload", make([]byte, 100))
	if got := v.Validate(f); got.Code != errs.InvalidType {
		t.Errorf("code = %s, want InvalidType", got.Code)
	}

	f.MediaType = "image/png"
	if got := v.Validate(f); got.Code != errs.TooLarge {
		t.Errorf("code = %s, want TooLarge", got.Code)
	}

	f.Data, f.Size = make([]byte, 5), 5
	if got := v.Validate(f); got.Code != errs.NameTooLong {
		t.Errorf("code = %s, want NameTooLong", got.Code)
	}

	f.Name = "x.exe"
	if got := v.Validate(f); got.Code != errs.SuspiciousName {
		t.Errorf("code = %s, want SuspiciousName", got.Code)
	}
}

func TestNameLengthCountsCharacters(t *testing.T) {
	v := New(Config{MaxNameLength: 5})
	// five runes, fifteen bytes
	f := NewFile("日本語.a", "image/png", []byte{1})
	if got := v.Validate(f); !got.Valid {
		t.Errorf("Validate() = %+v, want valid", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New(Config{}).Config()
	if cfg.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("MaxFileSize = %d, want %d", cfg.MaxFileSize, DefaultMaxFileSize)
	}
	if cfg.MaxNameLength != DefaultMaxNameLength {
		t.Errorf("MaxNameLength = %d, want %d", cfg.MaxNameLength, DefaultMaxNameLength)
	}
	if len(cfg.BlockedSubstrings) != len(DefaultBlockedSubstrings) {
		t.Errorf("BlockedSubstrings = %v", cfg.BlockedSubstrings)
	}
	if cfg.MaxDimension != DefaultMaxDimension {
		t.Errorf("MaxDimension = %d, want %d", cfg.MaxDimension, DefaultMaxDimension)
	}
}

func TestCheckIntegrity(t *testing.T) {
	v := New(Config{})
	file := NewFile("a.png", "image/png", []byte{1, 2, 3})

	tests := []struct {
		name   string
		prober fakeProber
		valid  bool
	}{
		{"normal image", fakeProber{w: 640, h: 480}, true},
		{"at the bound", fakeProber{w: 10000, h: 10000}, true},
		{"too wide", fakeProber{w: 10001, h: 10}, false},
		{"too tall", fakeProber{w: 10, h: 20000}, false},
		{"zero width", fakeProber{w: 0, h: 10}, false},
		{"undecodable", fakeProber{err: errors.New("unknown format")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.CheckIntegrity(context.Background(), file, tt.prober)
			if got.Valid != tt.valid {
				t.Fatalf("CheckIntegrity() = %+v, want valid=%v", got, tt.valid)
			}
			if !tt.valid && got.Code != errs.CorruptOrInvalidDimensions {
				t.Errorf("code = %s, want CorruptOrInvalidDimensions", got.Code)
			}
		})
	}
}

func TestCheckIntegrityCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := New(Config{}).CheckIntegrity(ctx, NewFile("a.png", "image/png", []byte{1}), fakeProber{w: 1, h: 1})
	if got.Valid {
		t.Error("CheckIntegrity() with canceled context should fail")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"plain", "photo.webp", 0, "photo.webp"},
		{"unsafe characters", `a<b>c:d"e/f\g|h?i*j.png`, 0, "a_b_c_d_e_f_g_h_i_j.png"},
		{"control characters", "a\x00b\x1fc.png", 0, "a_b_c.png"},
		{"reserved device name", "CON.png", 0, "fileCON.png"},
		{"reserved com port", "com1", 0, "filecom1"},
		{"not reserved", "console.png", 0, "console.png"},
		{"only dots", "..", 0, "file"},
		{"empty", "", 0, "file"},
		{"truncated", "abcdefghij", 4, "abcd"},
		{"truncated by rune", "日本語日本語", 2, "日本"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
