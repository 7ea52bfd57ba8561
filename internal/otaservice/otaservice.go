// Package otaservice wraps the backend's /api/v1/vehicle_updates REST
// surface: listing pending updates, downloading and installing one,
// reporting its outcome, and pushing the installed-package inventory.
//
// Grounded in original_source/src/ota_plus.rs.
package otaservice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leon-anavi/rvi-sota-client/internal/config"
	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/httpclient"
	"github.com/leon-anavi/rvi-sota-client/internal/otaerr"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

// Service composes config, an HTTP capability and a package manager into
// the operations the interpreter pipeline needs.
type Service struct {
	Config *config.Config
	Client httpclient.Client
	Pkgmgr packagemanager.PackageManager
}

func New(cfg *config.Config, client httpclient.Client, pkgmgr packagemanager.PackageManager) *Service {
	return &Service{Config: cfg, Client: client, Pkgmgr: pkgmgr}
}

// Endpoint builds /api/v1/vehicle_updates/{device_uuid}[/path].
func (s *Service) Endpoint(path string) string {
	base := fmt.Sprintf("%s/api/v1/vehicle_updates/%s", s.Config.OTA.Server, s.Config.Device.UUID)
	if path == "" {
		return base
	}
	return base + "/" + path
}

// PendingUpdates fetches the list of updates the backend wants installed.
func (s *Service) PendingUpdates(ctx context.Context) ([]datatype.PendingUpdateRequest, error) {
	data, err := s.Client.Send(ctx, httpclient.Request{Method: httpclient.Get, URL: s.Endpoint("")})
	if err != nil {
		return nil, err
	}
	var reqs []datatype.PendingUpdateRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, otaerr.Parse("decoding pending updates", err)
	}
	return reqs, nil
}

// DownloadUpdate fetches the package body for id and writes it to
// PackagesDir, returning the path it wrote to.
func (s *Service) DownloadUpdate(ctx context.Context, id datatype.UpdateId) (string, error) {
	url := s.Endpoint(id + "/download")
	data, err := s.Client.Send(ctx, httpclient.Request{Method: httpclient.Get, URL: url})
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.Config.OTA.PackagesDir, id+"."+s.Pkgmgr.Extension())
	if err := os.MkdirAll(s.Config.OTA.PackagesDir, 0o755); err != nil {
		return "", otaerr.IO(path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", otaerr.IO(path, err)
	}
	return path, nil
}

// InstallUpdate downloads and installs id, emitting UpdateStateChanged /
// UpdateErrored events on emit as it goes, and always returns an
// UpdateReport: a download or install failure is folded into the report
// rather than returned as a Go error, matching install_package_update's
// Ok(UpdateReport) return in every branch.
func (s *Service) InstallUpdate(ctx context.Context, id datatype.UpdateId, emit func(datatype.Event)) datatype.UpdateReport {
	path, err := s.DownloadUpdate(ctx, id)
	if err != nil {
		emit(datatype.UpdateErrored(id, otaerr.Display(err)))
		return datatype.SingleReport(id, datatype.ResultGeneralError, "download failed: "+otaerr.Display(err))
	}

	emit(datatype.UpdateStateChanged(id, datatype.UpdateStateInstalling))
	code, output := s.Pkgmgr.InstallPackage(path)
	if code == datatype.ResultOK {
		emit(datatype.UpdateStateChanged(id, datatype.UpdateStateInstalled))
	} else {
		emit(datatype.UpdateErrored(id, fmt.Sprintf("%s: %q", code, output)))
	}
	return datatype.SingleReport(id, code, output)
}

// SendReport POSTs report back to the backend, wrapped with the device
// identifier as UpdateReportWithDevice.
func (s *Service) SendReport(ctx context.Context, report datatype.UpdateReport) error {
	wrapped := datatype.UpdateReportWithDevice{Device: s.Config.Device.UUID, UpdateReport: report}
	body, err := json.Marshal(wrapped)
	if err != nil {
		return otaerr.JSON("encoding update report", err)
	}
	url := s.Endpoint(report.UpdateId)
	_, err = s.Client.Send(ctx, httpclient.Request{Method: httpclient.Post, URL: url, Body: body})
	return err
}

// ReportInstalledPackages PUTs the package manager's current inventory.
func (s *Service) ReportInstalledPackages(ctx context.Context) error {
	pkgs, err := s.Pkgmgr.InstalledPackages()
	if err != nil {
		return err
	}
	body, err := json.Marshal(pkgs)
	if err != nil {
		return otaerr.JSON("encoding installed packages", err)
	}
	_, err = s.Client.Send(ctx, httpclient.Request{Method: httpclient.Put, URL: s.Endpoint("installed"), Body: body})
	return err
}
