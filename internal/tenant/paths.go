package tenant

import (
	"os"
	"path/filepath"
)

// BaseDir returns the daemon data directory, honoring GROUPTRACK_HOME.
func BaseDir() string {
	if dir := os.Getenv("GROUPTRACK_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".grouptrack")
}

// Dir returns the tenant-specific directory under the data dir.
func Dir(base, tenantID string) string {
	return filepath.Join(base, "tenants", tenantID)
}

// SessionDBPath returns the whatsmeow credential store path for a tenant.
func SessionDBPath(base, tenantID string) string {
	return filepath.Join(Dir(base, tenantID), "session.db")
}

// AppDBPath returns the daemon-owned analytics database path.
func AppDBPath(base string) string {
	return filepath.Join(base, "grouptrack.db")
}

// LogPath returns the daemon log file path.
func LogPath(base string) string {
	return filepath.Join(base, "logs", "grouptrackd.log")
}

// ConfigPath returns the default config file path.
func ConfigPath(base string) string {
	return filepath.Join(base, "config.toml")
}

// EnsureDir creates the tenant directory tree with proper permissions.
func EnsureDir(base, tenantID string) error {
	return os.MkdirAll(Dir(base, tenantID), 0700)
}

// EnsureBase creates the data directory tree used by the daemon itself.
func EnsureBase(base string) error {
	dirs := []string{
		base,
		filepath.Join(base, "tenants"),
		filepath.Join(base, "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
