package normalize

import (
	"testing"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/repomd"
)

func TestPackage(t *testing.T) {
	raw := repomd.RawPackage{
		Name:        "openssl",
		Arch:        "x86_64",
		Summary:     "crypto library",
		Description: "long description",
	}
	raw.Version.Epoch = "0"
	raw.Version.Version = "3.0.7"
	raw.Version.Release = "1.el9"
	raw.Format.Requires.Entry = []repomd.RawRelation{
		{Name: "glibc", Flags: "GE", Epoch: "0", Version: "2.34", Release: "1"},
		{Name: "libcrypto.so.3()(64bit)"},
	}
	raw.Format.Provides.Entry = []repomd.RawRelation{
		{Name: "openssl", Flags: "EQ", Epoch: "0", Version: "3.0.7", Release: "1.el9"},
	}

	rec, err := Package(raw, "baseos")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := rec.Package.Name, "openssl"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
	if rec.Package.Epoch == nil || *rec.Package.Epoch != 0 {
		t.Errorf("Epoch = %v, want pointer to 0", rec.Package.Epoch)
	}
	if got, want := len(rec.Relations), 3; got != want {
		t.Fatalf("len(Relations) = %d, want %d", got, want)
	}

	glibc := rec.Relations[0]
	if got, want := glibc.Flag, rpmqd.FlagGE; got != want {
		t.Errorf("Flag = %q, want %q", got, want)
	}
	if got, want := glibc.Version, "2.34-1"; got != want {
		t.Errorf("Version = %q, want %q", got, want)
	}

	bare := rec.Relations[1]
	if got, want := bare.Flag, rpmqd.FlagUnspecified; got != want {
		t.Errorf("Flag = %q, want %q", got, want)
	}
	if bare.Version != "" {
		t.Errorf("Version = %q, want empty for an unversioned capability", bare.Version)
	}
}

func TestPackageMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  repomd.RawPackage
	}{
		{"missing name", repomd.RawPackage{Arch: "x86_64"}},
		{"missing arch", repomd.RawPackage{Name: "openssl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Package(tt.raw, "baseos"); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestBatchRejectsDuplicateNameArch(t *testing.T) {
	b := NewBatch()
	rec := Record{Package: rpmqd.Package{Name: "openssl", Arch: "x86_64", Repository: "baseos"}}
	if err := b.Add(rec); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := b.Add(rec); err == nil {
		t.Fatal("expected an error for a duplicate (name, arch) pair")
	}

	// A different arch for the same name is not a duplicate.
	other := Record{Package: rpmqd.Package{Name: "openssl", Arch: "i686", Repository: "baseos"}}
	if err := b.Add(other); err != nil {
		t.Errorf("unexpected error for a distinct arch: %v", err)
	}
}
