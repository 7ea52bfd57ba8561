// Package datatype holds the wire and in-memory data model shared by every
// stage of the interpreter pipeline: access tokens, auth state, commands,
// events, update state, and the backend's report/package shapes.
//
// Grounded in original_source/src/datatype/*.rs.
package datatype

import "fmt"

// UpdateId identifies one accepted update end to end.
type UpdateId = string

// AccessToken is the decoded response of the OAuth2 client-credentials
// token endpoint. Owned by the GlobalInterpreter; rebuilt on each
// authentication; never persisted.
type AccessToken struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	Scope       []string `json:"scope"`
}

// ClientCredentials identifies the device to the auth server.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// AuthKind tags which variant an Auth value holds.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthCredentials
	AuthToken
)

// Auth determines how outbound HTTP requests are decorated.
type Auth struct {
	Kind        AuthKind
	Credentials ClientCredentials
	Token       AccessToken
}

func NoAuth() Auth { return Auth{Kind: AuthNone} }

func CredentialsAuth(clientID, clientSecret string) Auth {
	return Auth{Kind: AuthCredentials, Credentials: ClientCredentials{ClientID: clientID, ClientSecret: clientSecret}}
}

func TokenAuth(tok AccessToken) Auth {
	return Auth{Kind: AuthToken, Token: tok}
}

// Package identifies a software package by name and version.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PendingUpdateRequest is one entry of the backend's pending-updates list.
// Sort key: InstallPos ascending, stable.
type PendingUpdateRequest struct {
	RequestId  UpdateId `json:"requestId"`
	InstallPos int      `json:"installPos"`
	PackageId  Package  `json:"packageId"`
	CreatedAt  string   `json:"createdAt"`
}

// UpdateState is the ordered lifecycle of one accepted update.
type UpdateState int

const (
	UpdateStatePending UpdateState = iota
	UpdateStateDownloading
	UpdateStateInstalling
	UpdateStateInstalled
	UpdateStateFailed
)

func (s UpdateState) String() string {
	switch s {
	case UpdateStatePending:
		return "Pending"
	case UpdateStateDownloading:
		return "Downloading"
	case UpdateStateInstalling:
		return "Installing"
	case UpdateStateInstalled:
		return "Installed"
	case UpdateStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// UpdateResultCode is the 20-valued wire enumeration (0..19) of spec.md §6.
type UpdateResultCode uint

const (
	ResultOK UpdateResultCode = iota
	ResultAlreadyProcessed
	ResultDependencyFailure
	ResultValidationFailed
	ResultInstallFailed
	ResultUpgradeFailed
	ResultRemovalFailed
	ResultFlashFailed
	ResultCreatePartitionFailed
	ResultDeletePartitionFailed
	ResultResizePartitionFailed
	ResultWritePartitionFailed
	ResultPatchPartitionFailed
	ResultUserDeclined
	ResultSoftwareBlacklisted
	ResultDiskFull
	ResultNotFound
	ResultOldVersion
	ResultInternalError
	ResultGeneralError
)

func (c UpdateResultCode) String() string {
	names := [...]string{
		"OK", "ALREADY_PROCESSED", "DEPENDENCY_FAILURE", "VALIDATION_FAILED",
		"INSTALL_FAILED", "UPGRADE_FAILED", "REMOVAL_FAILED", "FLASH_FAILED",
		"CREATE_PARTITION_FAILED", "DELETE_PARTITION_FAILED", "RESIZE_PARTITION_FAILED",
		"WRITE_PARTITION_FAILED", "PATCH_PARTITION_FAILED", "USER_DECLINED",
		"SOFTWARE_BLACKLISTED", "DISK_FULL", "NOT_FOUND", "OLD_VERSION",
		"INTERNAL_ERROR", "GENERAL_ERROR",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "UNKNOWN"
}

// OperationResult is one entry of an UpdateReport.
type OperationResult struct {
	Id         string           `json:"id"`
	ResultCode UpdateResultCode `json:"result_code"`
	ResultText string           `json:"result_text"`
}

// UpdateReport is what gets POSTed back to the backend for one update.
type UpdateReport struct {
	UpdateId         UpdateId          `json:"update_id"`
	OperationResults []OperationResult `json:"operation_results"`
}

// SingleReport builds an UpdateReport carrying exactly one OperationResult,
// mirroring UpdateReport::single in report.rs.
func SingleReport(id UpdateId, code UpdateResultCode, text string) UpdateReport {
	return UpdateReport{
		UpdateId: id,
		OperationResults: []OperationResult{
			{Id: id, ResultCode: code, ResultText: text},
		},
	}
}

// UpdateReportWithDevice wraps a report with the device identifier before
// it is POSTed, mirroring datatype/report.rs's UpdateReportWithDevice.
type UpdateReportWithDevice struct {
	Device       string       `json:"device"`
	UpdateReport UpdateReport `json:"update_report"`
}

// InstalledFirmware describes one firmware module report from the SWLM.
type InstalledFirmware struct {
	Module       string `json:"module"`
	FirmwareId   string `json:"firmware_id"`
	LastModified int64  `json:"last_modified"`
}

// InstalledPackage describes one installed software package report.
type InstalledPackage struct {
	PackageId    string `json:"package_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	LastModified int64  `json:"last_modified"`
}

// InstalledSoftware is the combined packages+firmware inventory reported by
// the software-loading manager.
type InstalledSoftware struct {
	Packages []InstalledPackage  `json:"packages"`
	Firmware []InstalledFirmware `json:"firmware"`
}

// --- Command ---

// CommandKind tags which variant a Command holds.
type CommandKind int

const (
	CmdAuthenticate CommandKind = iota
	CmdAcceptUpdates
	CmdGetPendingUpdates
	CmdListInstalledPackages
	CmdUpdateInstalledPackages
	CmdUpdateReport
	CmdReportInstalledSoftware
	CmdShutdown
)

func (k CommandKind) String() string {
	switch k {
	case CmdAuthenticate:
		return "Authenticate"
	case CmdAcceptUpdates:
		return "AcceptUpdates"
	case CmdGetPendingUpdates:
		return "GetPendingUpdates"
	case CmdListInstalledPackages:
		return "ListInstalledPackages"
	case CmdUpdateInstalledPackages:
		return "UpdateInstalledPackages"
	case CmdUpdateReport:
		return "UpdateReport"
	case CmdReportInstalledSoftware:
		return "ReportInstalledSoftware"
	case CmdShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Command is the tagged union of spec.md §3. Only the fields relevant to
// Kind are populated.
type Command struct {
	Kind              CommandKind
	AuthCredentials   *ClientCredentials // Authenticate
	UpdateIds         []UpdateId         // AcceptUpdates
	UpdateReport      UpdateReport       // UpdateReport
	InstalledSoftware InstalledSoftware  // ReportInstalledSoftware
}

func (c Command) String() string {
	switch c.Kind {
	case CmdAcceptUpdates:
		return fmt.Sprintf("AcceptUpdates(%v)", c.UpdateIds)
	default:
		return c.Kind.String()
	}
}

func Authenticate(creds *ClientCredentials) Command {
	return Command{Kind: CmdAuthenticate, AuthCredentials: creds}
}
func AcceptUpdates(ids []UpdateId) Command { return Command{Kind: CmdAcceptUpdates, UpdateIds: ids} }
func GetPendingUpdates() Command           { return Command{Kind: CmdGetPendingUpdates} }
func ListInstalledPackages() Command       { return Command{Kind: CmdListInstalledPackages} }
func UpdateInstalledPackages() Command     { return Command{Kind: CmdUpdateInstalledPackages} }
func ReportUpdate(r UpdateReport) Command  { return Command{Kind: CmdUpdateReport, UpdateReport: r} }
func ReportInstalledSoftware(s InstalledSoftware) Command {
	return Command{Kind: CmdReportInstalledSoftware, InstalledSoftware: s}
}
func Shutdown() Command { return Command{Kind: CmdShutdown} }

// --- Event ---

// EventKind tags which variant an Event holds.
type EventKind int

const (
	EvAuthenticated EventKind = iota
	EvNotAuthenticated
	EvOk
	EvError
	EvFoundInstalledPackages
	EvUpdateStateChanged
	EvUpdateErrored
	EvUpdateAvailable
	EvDownloadComplete
	EvGetInstalledSoftware
)

func (k EventKind) String() string {
	switch k {
	case EvAuthenticated:
		return "Authenticated"
	case EvNotAuthenticated:
		return "NotAuthenticated"
	case EvOk:
		return "Ok"
	case EvError:
		return "Error"
	case EvFoundInstalledPackages:
		return "FoundInstalledPackages"
	case EvUpdateStateChanged:
		return "UpdateStateChanged"
	case EvUpdateErrored:
		return "UpdateErrored"
	case EvUpdateAvailable:
		return "UpdateAvailable"
	case EvDownloadComplete:
		return "DownloadComplete"
	case EvGetInstalledSoftware:
		return "GetInstalledSoftware"
	default:
		return "Unknown"
	}
}

// Event is the tagged union of spec.md §3. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind        EventKind
	ErrorText   string      // Error
	Packages    []Package   // FoundInstalledPackages
	UpdateId    UpdateId    // UpdateStateChanged, UpdateErrored, UpdateAvailable, DownloadComplete
	UpdateState UpdateState // UpdateStateChanged
	Signature   string      // UpdateAvailable, DownloadComplete
	Description string      // UpdateAvailable
	UpdateImage string      // DownloadComplete
}

func (e Event) String() string {
	switch e.Kind {
	case EvUpdateStateChanged:
		return fmt.Sprintf("UpdateStateChanged(%s, %s)", e.UpdateId, e.UpdateState)
	case EvUpdateErrored:
		return fmt.Sprintf("UpdateErrored(%s, %q)", e.UpdateId, e.ErrorText)
	case EvError:
		return fmt.Sprintf("Error(%q)", e.ErrorText)
	default:
		return e.Kind.String()
	}
}

func Authenticated() Event        { return Event{Kind: EvAuthenticated} }
func NotAuthenticated() Event     { return Event{Kind: EvNotAuthenticated} }
func Ok() Event                   { return Event{Kind: EvOk} }
func ErrorEvent(msg string) Event { return Event{Kind: EvError, ErrorText: msg} }
func FoundInstalledPackages(pkgs []Package) Event {
	return Event{Kind: EvFoundInstalledPackages, Packages: pkgs}
}
func UpdateStateChanged(id UpdateId, s UpdateState) Event {
	return Event{Kind: EvUpdateStateChanged, UpdateId: id, UpdateState: s}
}
func UpdateErrored(id UpdateId, msg string) Event {
	return Event{Kind: EvUpdateErrored, UpdateId: id, ErrorText: msg}
}
func UpdateAvailable(id UpdateId, signature, description string) Event {
	return Event{Kind: EvUpdateAvailable, UpdateId: id, Signature: signature, Description: description}
}
func DownloadComplete(id UpdateId, updateImage, signature string) Event {
	return Event{Kind: EvDownloadComplete, UpdateId: id, UpdateImage: updateImage, Signature: signature}
}
func GetInstalledSoftware() Event { return Event{Kind: EvGetInstalledSoftware} }

// Equal compares Kind and, per kind, the identifying fields: UpdateId and
// UpdateState, UpdateId and ErrorText, ErrorText alone, or UpdateId alone.
// Packages, Signature, Description and UpdateImage are not compared.
func (e Event) Equal(o Event) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case EvUpdateStateChanged:
		return e.UpdateId == o.UpdateId && e.UpdateState == o.UpdateState
	case EvUpdateErrored:
		return e.UpdateId == o.UpdateId && e.ErrorText == o.ErrorText
	case EvError:
		return e.ErrorText == o.ErrorText
	case EvUpdateAvailable, EvDownloadComplete:
		return e.UpdateId == o.UpdateId
	default:
		return true
	}
}
