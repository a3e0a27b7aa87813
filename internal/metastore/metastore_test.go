package metastore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rpmqd/rpmqd"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func epochPtr(n int) *int { return &n }

func TestInsertFindPackage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pkg := rpmqd.Package{
		Name: "openssl", Epoch: epochPtr(0), Version: "3.0.7", Release: "1.el9",
		Arch: "x86_64", Summary: "crypto", Repository: "baseos",
	}
	deps := []rpmqd.Dependency{
		{Kind: rpmqd.Requires, Name: "glibc", Flag: rpmqd.FlagGE, Version: "2.34-1"},
		{Kind: rpmqd.Provides, Name: "openssl", Flag: rpmqd.FlagEQ, Version: "3.0.7-1.el9"},
	}
	if err := s.InsertPackage(ctx, &pkg, deps); err != nil {
		t.Fatal(err)
	}
	if pkg.ID == 0 {
		t.Fatal("expected InsertPackage to assign an ID")
	}

	got, err := s.FindPackage(ctx, "openssl", "x86_64", "baseos")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != pkg.ID {
		t.Errorf("ID = %d, want %d", got.ID, pkg.ID)
	}
	if got.Epoch == nil || *got.Epoch != 0 {
		t.Errorf("Epoch = %v, want pointer to 0", got.Epoch)
	}
}

func TestInsertPackageDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pkg := rpmqd.Package{Name: "openssl", Version: "1.0", Release: "1", Arch: "x86_64", Repository: "baseos"}
	if err := s.InsertPackage(ctx, &pkg, nil); err != nil {
		t.Fatal(err)
	}
	dup := rpmqd.Package{Name: "openssl", Version: "1.0", Release: "1", Arch: "x86_64", Repository: "baseos"}
	if err := s.InsertPackage(ctx, &dup, nil); err == nil {
		t.Fatal("expected a unique-violation error for a repeated (name, arch, repository)")
	}
}

func TestFindPackageNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.FindPackage(ctx, "missing", "x86_64", "baseos"); err == nil {
		t.Fatal("expected a not-found error")
	}
}

func TestPackagesInRepo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"bash", "acl", "curl"} {
		pkg := rpmqd.Package{Name: name, Version: "1.0", Release: "1", Arch: "x86_64", Repository: "baseos"}
		if err := s.InsertPackage(ctx, &pkg, nil); err != nil {
			t.Fatal(err)
		}
	}
	other := rpmqd.Package{Name: "zlib", Version: "1.0", Release: "1", Arch: "x86_64", Repository: "other-repo"}
	if err := s.InsertPackage(ctx, &other, nil); err != nil {
		t.Fatal(err)
	}

	pkgs, err := s.PackagesInRepo(ctx, "baseos")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 3 {
		t.Fatalf("len(pkgs) = %d, want 3", len(pkgs))
	}
	// Ordered by name.
	if pkgs[0].Name != "acl" || pkgs[1].Name != "bash" || pkgs[2].Name != "curl" {
		t.Errorf("unexpected ordering: %v", pkgs)
	}
}

func TestApplyDependencyFiltersProvidingAndNotRequiring(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := rpmqd.Package{Name: "pkg-a", Version: "1.0", Release: "1", Arch: "x86_64", Repository: "baseos"}
	if err := s.InsertPackage(ctx, &a, []rpmqd.Dependency{
		{Kind: rpmqd.Provides, Name: "libfoo.so.1"},
		{Kind: rpmqd.Requires, Name: "glibc", Flag: rpmqd.FlagGE, Version: "2.34-1"},
	}); err != nil {
		t.Fatal(err)
	}
	b := rpmqd.Package{Name: "pkg-b", Version: "1.0", Release: "1", Arch: "x86_64", Repository: "baseos"}
	if err := s.InsertPackage(ctx, &b, []rpmqd.Dependency{
		{Kind: rpmqd.Requires, Name: "glibc", Flag: rpmqd.FlagGE, Version: "2.20-1"},
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.FilteredCandidateIDs(ctx, rpmqd.SearchFilters{Repository: "baseos"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("len(ids) = %d, want 2", len(ids))
	}

	providing, err := s.ApplyDependencyFilters(ctx, ids, rpmqd.SearchFilters{Providing: "libfoo.so.1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(providing) != 1 || providing[0] != a.ID {
		t.Errorf("providing = %v, want [%d]", providing, a.ID)
	}

	notRequiring, err := s.ApplyDependencyFilters(ctx, ids, rpmqd.SearchFilters{
		NotRequiring: "glibc", NotRequiringFlag: rpmqd.FlagGE, NotRequiringVersion: "2.30-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(notRequiring) != 1 || notRequiring[0] != b.ID {
		t.Errorf("notRequiring = %v, want [%d] (pkg-a requires glibc >= 2.34-1, which satisfies >= 2.30-1)", notRequiring, b.ID)
	}
}
