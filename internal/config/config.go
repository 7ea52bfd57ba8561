// Package config loads the OTA client's configuration: auth endpoint and
// credentials, backend URL, local package store, device identity, IPC
// transport details, and the remote gateway's RVI/edge addresses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Auth holds the OAuth2 client-credentials endpoint and identity.
type Auth struct {
	Server       string
	ClientID     string
	ClientSecret string
}

// OTA holds the backend base URL and local package handling.
type OTA struct {
	Server         string
	PackagesDir    string
	PackageManager string
}

// Device holds the vehicle's identity as known to the backend.
type Device struct {
	UUID string
}

// IPC holds the local-gateway connection to the software-loading manager.
type IPC struct {
	Name                string
	Path                string
	Interface           string
	SoftwareManager     string
	SoftwareManagerPath string
	Timeout             time.Duration
	SocketPath          string
}

// Client holds the remote gateway's peer addresses.
type Client struct {
	RVIURL         string
	EdgeURL        string
	QUICListenAddr string
}

// Config is the full configuration surface of spec.md §6.
type Config struct {
	Auth   Auth
	OTA    OTA
	Device Device
	IPC    IPC
	Client Client
}

// DefaultConfig returns the built-in defaults used when no config file or
// environment override is present.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	packagesDir := filepath.Join(homeDir, ".local", "share", "ota-client", "packages")

	return &Config{
		Auth: Auth{
			Server: "http://localhost:9001",
		},
		OTA: OTA{
			Server:         "http://localhost:8080",
			PackagesDir:    packagesDir,
			PackageManager: "dpkg",
		},
		Device: Device{},
		IPC: IPC{
			Name:                "org.genivi.software_loading_manager",
			Path:                "/org/genivi/SoftwareLoadingManager",
			Interface:           "org.genivi.SoftwareLoadingManager",
			SoftwareManager:     "org.genivi.SoftwareLoadingManager",
			SoftwareManagerPath: "/org/genivi/SoftwareLoadingManager",
			Timeout:             30 * time.Second,
			SocketPath:          filepath.Join(os.TempDir(), "ota-swm.sock"),
		},
		Client: Client{
			RVIURL:         "http://localhost:8811",
			EdgeURL:        "localhost:9000",
			QUICListenAddr: ":4433",
		},
	}
}

// Load reads configuration from environment variables (prefix OTA_, nested
// keys joined with underscore, e.g. OTA_AUTH_CLIENT_ID), which take
// precedence over configPath (if non-empty), which in turn takes
// precedence over DefaultConfig.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("ota")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envReplacer{})

	bindDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	cfg.Auth.Server = v.GetString("auth.server")
	cfg.Auth.ClientID = v.GetString("auth.client_id")
	cfg.Auth.ClientSecret = v.GetString("auth.secret")
	cfg.OTA.Server = v.GetString("ota.server")
	cfg.OTA.PackagesDir = v.GetString("ota.packages_dir")
	cfg.OTA.PackageManager = v.GetString("ota.package_manager")
	cfg.Device.UUID = v.GetString("device.uuid")
	cfg.IPC.Name = v.GetString("ipc.name")
	cfg.IPC.Path = v.GetString("ipc.path")
	cfg.IPC.Interface = v.GetString("ipc.interface")
	cfg.IPC.SoftwareManager = v.GetString("ipc.software_manager")
	cfg.IPC.SoftwareManagerPath = v.GetString("ipc.software_manager_path")
	if timeout := v.GetDuration("ipc.timeout"); timeout > 0 {
		cfg.IPC.Timeout = timeout
	}
	cfg.IPC.SocketPath = v.GetString("ipc.socket_path")
	cfg.Client.RVIURL = v.GetString("client.rvi_url")
	cfg.Client.EdgeURL = v.GetString("client.edge_url")
	cfg.Client.QUICListenAddr = v.GetString("client.quic_listen_addr")

	if cfg.Device.UUID == "" {
		return nil, fmt.Errorf("device.uuid is required")
	}

	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("auth.server", cfg.Auth.Server)
	v.SetDefault("ota.server", cfg.OTA.Server)
	v.SetDefault("ota.packages_dir", cfg.OTA.PackagesDir)
	v.SetDefault("ota.package_manager", cfg.OTA.PackageManager)
	v.SetDefault("ipc.name", cfg.IPC.Name)
	v.SetDefault("ipc.path", cfg.IPC.Path)
	v.SetDefault("ipc.interface", cfg.IPC.Interface)
	v.SetDefault("ipc.software_manager", cfg.IPC.SoftwareManager)
	v.SetDefault("ipc.software_manager_path", cfg.IPC.SoftwareManagerPath)
	v.SetDefault("ipc.timeout", cfg.IPC.Timeout)
	v.SetDefault("ipc.socket_path", cfg.IPC.SocketPath)
	v.SetDefault("client.rvi_url", cfg.Client.RVIURL)
	v.SetDefault("client.edge_url", cfg.Client.EdgeURL)
	v.SetDefault("client.quic_listen_addr", cfg.Client.QUICListenAddr)
}

// envReplacer maps viper's dotted keys (auth.client_id) onto the
// underscore-joined environment variable names (OTA_AUTH_CLIENT_ID).
type envReplacer struct{}

func (envReplacer) Replace(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
