package datatype

import (
	"encoding/json"
	"testing"
)

func TestUpdateReportRoundTrip(t *testing.T) {
	report := SingleReport("update-1", ResultInstallFailed, "dpkg exited 1")

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got UpdateReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.UpdateId != report.UpdateId {
		t.Errorf("update_id: got %q want %q", got.UpdateId, report.UpdateId)
	}
	if len(got.OperationResults) != 1 {
		t.Fatalf("operation_results: got %d want 1", len(got.OperationResults))
	}
	if got.OperationResults[0].ResultCode != ResultInstallFailed {
		t.Errorf("result_code: got %d want %d", got.OperationResults[0].ResultCode, ResultInstallFailed)
	}
}

func TestUpdateResultCodeWireValue(t *testing.T) {
	// result_code travels as an unsigned integer on the wire, not a string.
	data, err := json.Marshal(OperationResult{Id: "x", ResultCode: ResultDiskFull, ResultText: "no space"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["result_code"]) != "15" {
		t.Errorf("result_code wire value: got %s want 15", raw["result_code"])
	}
}

func TestAccessTokenScopeIsArray(t *testing.T) {
	// the backend's token endpoint returns scope as a JSON array, not the
	// standard OAuth2 space-delimited string.
	const body = `{"access_token":"tok","token_type":"bearer","expires_in":3600,"scope":["update","report"]}`
	var tok AccessToken
	if err := json.Unmarshal([]byte(body), &tok); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tok.Scope) != 2 || tok.Scope[0] != "update" {
		t.Errorf("scope: got %v", tok.Scope)
	}
}

func TestUpdateReportWithDeviceWrapping(t *testing.T) {
	report := SingleReport("update-1", ResultOK, "")
	wrapped := UpdateReportWithDevice{Device: "device-uuid-123", UpdateReport: report}

	data, err := json.Marshal(wrapped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["device"]; !ok {
		t.Error("missing device field")
	}
	if _, ok := raw["update_report"]; !ok {
		t.Error("missing update_report field")
	}
}

func TestEventEqual(t *testing.T) {
	a := UpdateStateChanged("u1", UpdateStateDownloading)
	b := UpdateStateChanged("u1", UpdateStateDownloading)
	c := UpdateStateChanged("u1", UpdateStateInstalling)

	if !a.Equal(b) {
		t.Error("expected equal events to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different states to compare unequal")
	}
}

func TestCommandString(t *testing.T) {
	cmd := AcceptUpdates([]UpdateId{"u1", "u2"})
	if cmd.String() != "AcceptUpdates([u1 u2])" {
		t.Errorf("got %q", cmd.String())
	}
}
