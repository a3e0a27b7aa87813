package repomd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRepoMD(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "repomd.xml"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	entries, err := ParseRepoMD(f)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 2; got != want {
		t.Fatalf("len(entries) = %d, want %d", got, want)
	}

	primary, err := Primary(entries)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := primary.Location.Href, "repodata/primary.xml"; got != want {
		t.Errorf("Location.Href = %q, want %q", got, want)
	}
	if got, want := primary.Checksum.Type, "sha256"; got != want {
		t.Errorf("Checksum.Type = %q, want %q", got, want)
	}
}

func TestPrimaryNotFound(t *testing.T) {
	_, err := Primary(nil)
	if err == nil {
		t.Fatal("expected an error for an empty data set")
	}
}

func TestParsePrimary(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "primary.xml"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []RawPackage
	for pkg, err := range ParsePrimary(f) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, pkg)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}

	openssl := got[0]
	if diff := cmp.Diff("openssl", openssl.Name); diff != "" {
		t.Errorf("Name mismatch (-want +got):\n%s", diff)
	}
	if got, want := openssl.Version.Version, "3.0.7"; got != want {
		t.Errorf("Version.Version = %q, want %q", got, want)
	}
	if got, want := len(openssl.Format.Requires.Entry), 2; got != want {
		t.Errorf("len(Requires.Entry) = %d, want %d", got, want)
	}
	if got, want := len(openssl.Format.Provides.Entry), 2; got != want {
		t.Errorf("len(Provides.Entry) = %d, want %d", got, want)
	}

	// The second package's <version> element uses the full open/close form
	// rather than self-closing; the parser must accept both.
	selfClosing := got[1]
	if got, want := selfClosing.Name, "selfclosing"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if got, want := selfClosing.Version.Release, "1"; got != want {
		t.Errorf("Version.Release = %q, want %q", got, want)
	}
	// Empty <rpm:provides/> must parse as zero entries, not an error.
	if got := len(selfClosing.Format.Provides.Entry); got != 0 {
		t.Errorf("len(Provides.Entry) = %d, want 0", got)
	}
}

func TestParsePrimaryMissingAttributes(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<metadata packages="1">
  <package type="rpm">
    <arch>x86_64</arch>
    <version epoch="0" ver="1.0" rel="1"/>
  </package>
</metadata>`
	var saw bool
	for pkg, err := range ParsePrimary(stringsReader(doc)) {
		_ = pkg
		if err == nil {
			t.Fatal("expected a ParseError for a package missing \"name\"")
		}
		saw = true
	}
	if !saw {
		t.Fatal("expected at least one yielded error")
	}
}

func TestDetectCodec(t *testing.T) {
	tests := []struct {
		href string
		peek []byte
		want Codec
	}{
		{"repodata/primary.xml.gz", nil, CodecGzip},
		{"repodata/primary.xml.zst", nil, CodecZstd},
		{"repodata/primary.xml.zstd", nil, CodecZstd},
		{"repodata/primary.xml", nil, CodecNone},
		{"repodata/primary.xml", gzipMagic, CodecGzip},
		{"repodata/primary.xml", zstdMagic, CodecZstd},
	}
	for _, tt := range tests {
		if got := DetectCodec(tt.href, tt.peek); got != tt.want {
			t.Errorf("DetectCodec(%q, %v) = %v, want %v", tt.href, tt.peek, got, tt.want)
		}
	}
}

func TestVerifyChecksum(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "primary.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyChecksum(data, "sha256", "077966e7c5ea3f13045aa37ff6aa32015afe315b900b30cb83020799148c055f"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := VerifyChecksum(data, "sha256", "0000000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Error("expected a mismatch error")
	}
}

func stringsReader(s string) *stringReaderT { return &stringReaderT{s: s} }

// stringReaderT is a minimal io.Reader over a string, avoiding an import of
// strings solely for this one helper.
type stringReaderT struct {
	s string
	i int
}

func (r *stringReaderT) Read(p []byte) (int, error) {
	if r.i >= len(r.s) {
		return 0, errEOF
	}
	n := copy(p, r.s[r.i:])
	r.i += n
	return n, nil
}

var errEOF = eofError{}

type eofError struct{}

func (eofError) Error() string { return "EOF" }
