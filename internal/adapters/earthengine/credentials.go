package earthengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/cuenca/internal/domain"
)

// CredentialsType is the type tag of an authorized-user credentials file.
const CredentialsType = "authorized_user"

// Credentials are the OAuth client and refresh token of an authorized user.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

type credentialsFile struct {
	Credentials
	Type string `json:"type"`
}

// Empty reports whether no field is set.
func (c Credentials) Empty() bool {
	return c.ClientID == "" && c.ClientSecret == "" && c.RefreshToken == ""
}

// Validate checks that every field is set.
func (c Credentials) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		return &domain.ConfigError{
			Field:   "earthengine credentials",
			Message: "missing " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// DefaultCredentialsPath returns ~/.config/earthengine/credentials.
func DefaultCredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "earthengine", "credentials"), nil
}

// WriteCredentialsFile writes creds to path, readable by the owner only.
func WriteCredentialsFile(path string, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(credentialsFile{Credentials: creds, Type: CredentialsType}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// ReadCredentialsFile reads an authorized-user credentials file.
func ReadCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path from configuration
	if err != nil {
		return Credentials{}, err
	}

	var f credentialsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Credentials{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Type != "" && f.Type != CredentialsType {
		return Credentials{}, fmt.Errorf("parsing %s: unsupported credentials type %q", path, f.Type)
	}
	return f.Credentials, nil
}

// ResolveCredentials returns the configured credentials when complete and
// falls back to the credentials file otherwise. The second value names the
// source that was used.
func ResolveCredentials(configured Credentials, path string) (Credentials, string, error) {
	if configured.Validate() == nil {
		return configured, "environment", nil
	}
	if path == "" {
		return configured, "", configured.Validate()
	}

	fromFile, err := ReadCredentialsFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return configured, "", configured.Validate()
	}
	if err != nil {
		return Credentials{}, "", err
	}

	// Fields set in the environment override the file.
	if configured.ClientID != "" {
		fromFile.ClientID = configured.ClientID
	}
	if configured.ClientSecret != "" {
		fromFile.ClientSecret = configured.ClientSecret
	}
	if configured.RefreshToken != "" {
		fromFile.RefreshToken = configured.RefreshToken
	}
	return fromFile, path, fromFile.Validate()
}
