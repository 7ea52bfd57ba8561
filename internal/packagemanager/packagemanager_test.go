package packagemanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
)

func TestFileInstalledPackagesMissingBackingStore(t *testing.T) {
	pm := NewFile(filepath.Join(t.TempDir(), "list.json"), false)
	if _, err := pm.InstalledPackages(); err == nil {
		t.Fatal("expected error when backing store is absent")
	}
}

func TestFileInstalledPackagesEmptyWhenListFileMissing(t *testing.T) {
	pm := NewFile(filepath.Join(t.TempDir(), "list.json"), true)
	pkgs, err := pm.InstalledPackages()
	if err != nil {
		t.Fatalf("InstalledPackages: %v", err)
	}
	if len(pkgs) != 0 {
		t.Errorf("expected empty list, got %v", pkgs)
	}
}

func TestFileInstalledPackagesReadsListFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.json")
	if err := os.WriteFile(path, []byte(`[{"name":"foo","version":"1.0"}]`), 0o644); err != nil {
		t.Fatalf("write list: %v", err)
	}
	pm := NewFile(path, true)
	pkgs, err := pm.InstalledPackages()
	if err != nil {
		t.Fatalf("InstalledPackages: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].Name != "foo" {
		t.Errorf("got %v", pkgs)
	}
}

func TestFileInstallPackageFailsWhenNotSucceeding(t *testing.T) {
	pm := NewFile("", false)
	code, _ := pm.InstallPackage("/does/not/matter")
	if code != datatype.ResultInstallFailed {
		t.Errorf("got %s want INSTALL_FAILED", code)
	}
}

func TestFileInstallPackageSucceedsWhenDownloadedFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.pkg")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	pm := NewFile("", true)
	code, _ := pm.InstallPackage(path)
	if code != datatype.ResultOK {
		t.Errorf("got %s want OK", code)
	}
}

func TestFileExtension(t *testing.T) {
	if NewFile("", true).Extension() != "pkg" {
		t.Error("unexpected extension")
	}
}
