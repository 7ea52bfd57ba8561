package otaservice

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/leon-anavi/rvi-sota-client/internal/config"
	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/httpclient"
	"github.com/leon-anavi/rvi-sota-client/internal/packagemanager"
)

func testConfig(packagesDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Device.UUID = "123e4567-e89b-12d3-a456-426655440000"
	cfg.OTA.PackagesDir = packagesDir
	return cfg
}

func collectEvents(events *[]datatype.Event) func(datatype.Event) {
	return func(e datatype.Event) { *events = append(*events, e) }
}

func TestPendingUpdates(t *testing.T) {
	body := `[{"requestId":"someid","installPos":0,"packageId":{"name":"fake-pkg","version":"0.1.1"},"createdAt":"2010-01-01"}]`
	svc := New(testConfig(t.TempDir()), httpclient.NewTest(body), packagemanager.NewFile(filepath.Join(t.TempDir(), "pkgs.json"), true))

	updates, err := svc.PendingUpdates(context.Background())
	if err != nil {
		t.Fatalf("PendingUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].RequestId != "someid" {
		t.Errorf("got %+v", updates)
	}
}

func TestInstallUpdateDownloadFails(t *testing.T) {
	svc := New(testConfig(t.TempDir()), httpclient.NewTest(), packagemanager.NewFile(filepath.Join(t.TempDir(), "pkgs.json"), true))

	var events []datatype.Event
	report := svc.InstallUpdate(context.Background(), "0", collectEvents(&events))

	if report.OperationResults[0].ResultCode != datatype.ResultGeneralError {
		t.Errorf("result_code: got %s want GENERAL_ERROR", report.OperationResults[0].ResultCode)
	}
	if len(events) != 1 || events[0].Kind != datatype.EvUpdateErrored {
		t.Errorf("events: got %+v", events)
	}
}

func TestInstallUpdateInstallFails(t *testing.T) {
	dir := t.TempDir()
	svc := New(testConfig(dir), httpclient.NewTest(""), packagemanager.NewFile(filepath.Join(dir, "pkgs.json"), false))

	var events []datatype.Event
	report := svc.InstallUpdate(context.Background(), "0", collectEvents(&events))

	if report.OperationResults[0].ResultCode != datatype.ResultInstallFailed {
		t.Errorf("result_code: got %s want INSTALL_FAILED", report.OperationResults[0].ResultCode)
	}
	wantKinds := []datatype.EventKind{datatype.EvUpdateStateChanged, datatype.EvUpdateErrored}
	if !eventKindsMatch(events, wantKinds) {
		t.Errorf("events: got %+v", events)
	}
}

func TestInstallUpdateSucceeds(t *testing.T) {
	dir := t.TempDir()
	svc := New(testConfig(dir), httpclient.NewTest("[]", "package data"), packagemanager.NewFile(filepath.Join(dir, "pkgs.json"), true))

	var events []datatype.Event
	report := svc.InstallUpdate(context.Background(), "0", collectEvents(&events))

	if report.OperationResults[0].ResultCode != datatype.ResultOK {
		t.Errorf("result_code: got %s want OK", report.OperationResults[0].ResultCode)
	}
	wantKinds := []datatype.EventKind{datatype.EvUpdateStateChanged, datatype.EvUpdateStateChanged}
	if !eventKindsMatch(events, wantKinds) {
		t.Errorf("events: got %+v", events)
	}
	if events[0].UpdateState != datatype.UpdateStateInstalling || events[1].UpdateState != datatype.UpdateStateInstalled {
		t.Errorf("unexpected states: %+v", events)
	}
}

func TestSendReportWrapsDevice(t *testing.T) {
	svc := New(testConfig(t.TempDir()), httpclient.NewTest(""), packagemanager.NewFile(filepath.Join(t.TempDir(), "pkgs.json"), true))
	report := datatype.SingleReport("0", datatype.ResultOK, "installed")
	if err := svc.SendReport(context.Background(), report); err != nil {
		t.Fatalf("SendReport: %v", err)
	}
}

func eventKindsMatch(events []datatype.Event, kinds []datatype.EventKind) bool {
	if len(events) != len(kinds) {
		return false
	}
	for i, k := range kinds {
		if events[i].Kind != k {
			return false
		}
	}
	return true
}
