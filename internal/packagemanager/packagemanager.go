// Package packagemanager abstracts over how installed software is listed
// and how a downloaded package is installed, so the OTA service logic
// never invokes a package manager directly.
//
// Grounded in original_source/src/package_manager/mod.rs.
package packagemanager

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
)

// PackageManager lists installed packages and installs a downloaded
// package file. InstallPackage never returns a Go error for an install
// failure: both success and failure carry a result code and message,
// matching the backend's report shape (spec.md §4.E/§6).
type PackageManager interface {
	InstalledPackages() ([]datatype.Package, error)
	InstallPackage(path string) (datatype.UpdateResultCode, string)
	Extension() string
}

// File is a test/simulation package manager that reads/writes a flat
// package-list file instead of touching the real system package database.
// succeed==false simulates a target with no backing package store at all:
// every operation, including listing, fails with an I/O error.
type File struct {
	ListPath string
	Succeed  bool
}

// NewFile constructs a File package manager. succeed controls whether the
// simulated backing store is present, mirroring PackageManager::new_file
// in the original.
func NewFile(listPath string, succeed bool) *File {
	return &File{ListPath: listPath, Succeed: succeed}
}

func (f *File) InstalledPackages() ([]datatype.Package, error) {
	if !f.Succeed {
		return nil, fmt.Errorf("no such file or directory: %s", f.ListPath)
	}
	data, err := os.ReadFile(f.ListPath)
	if os.IsNotExist(err) {
		return []datatype.Package{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading package list: %w", err)
	}
	var pkgs []datatype.Package
	if err := json.Unmarshal(data, &pkgs); err != nil {
		return nil, fmt.Errorf("decoding package list: %w", err)
	}
	return pkgs, nil
}

func (f *File) InstallPackage(path string) (datatype.UpdateResultCode, string) {
	if !f.Succeed {
		return datatype.ResultInstallFailed, "failed"
	}
	if _, err := os.Stat(path); err != nil {
		return datatype.ResultInstallFailed, err.Error()
	}
	return datatype.ResultOK, "installed"
}

func (f *File) Extension() string { return "pkg" }

// Dpkg installs .deb packages via dpkg and lists installed packages via
// dpkg-query, for Debian-derived targets.
type Dpkg struct{}

func NewDpkg() *Dpkg { return &Dpkg{} }

func (d *Dpkg) InstalledPackages() ([]datatype.Package, error) {
	out, err := exec.Command("dpkg-query", "-W", "-f=${Package}\t${Version}\n").Output()
	if err != nil {
		return nil, fmt.Errorf("dpkg-query: %w", err)
	}
	return parseDpkgQuery(out), nil
}

func (d *Dpkg) InstallPackage(path string) (datatype.UpdateResultCode, string) {
	out, err := exec.Command("dpkg", "--install", path).CombinedOutput()
	if err != nil {
		return datatype.ResultInstallFailed, string(out)
	}
	return datatype.ResultOK, string(out)
}

func (d *Dpkg) Extension() string { return "deb" }

func parseDpkgQuery(out []byte) []datatype.Package {
	var pkgs []datatype.Package
	line := make([]byte, 0, 64)
	flush := func() {
		if len(line) == 0 {
			return
		}
		for i := 0; i < len(line); i++ {
			if line[i] == '\t' {
				pkgs = append(pkgs, datatype.Package{Name: string(line[:i]), Version: string(line[i+1:])})
				break
			}
		}
		line = line[:0]
	}
	for _, b := range out {
		if b == '\n' {
			flush()
			continue
		}
		line = append(line, b)
	}
	flush()
	return pkgs
}
