// Package credentials reads the JSON credential files used to reach
// Salesforce and Google Cloud.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
)

var (
	ErrNoCredentialsFile = errors.New("credentials: no credentials file given")
	ErrMissingKeys       = errors.New("credentials: required keys missing")
)

const salesforceLayout = `{
    "username": "[username]",
    "password": "[password]",
    "security_token": "[security_token]"
}`

const googleLayout = `{
    "google_creds": {
        "creds_file": "[path to service account JSON]",
        "project_id": "[project id]"
    }
}`

// Salesforce holds the login for a Salesforce org. ClientID and ClientSecret
// are optional; when both are set the client logs in with the OAuth2 password
// grant of a connected app instead of the SOAP partner login.
type Salesforce struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	SecurityToken string `json:"security_token"`
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	LoginURL      string `json:"login_url,omitempty"`
}

// UseOAuth reports whether a connected app is configured.
func (s Salesforce) UseOAuth() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// Google points at a service account key and the project to bill.
type Google struct {
	ProjectID       string
	CredentialsFile string
}

// ClientOptions returns the options for Google API clients authenticated as
// the service account, with the given OAuth scopes.
func (g Google) ClientOptions(scopes ...string) []option.ClientOption {
	opts := []option.ClientOption{option.WithCredentialsFile(g.CredentialsFile)}
	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	return opts
}

// ReadSalesforce reads Salesforce credentials from path.
func ReadSalesforce(path string) (Salesforce, error) {
	var creds Salesforce
	raw, err := readObject(path)
	if err != nil {
		return creds, err
	}

	var missing []string
	for _, key := range []string{"username", "password", "security_token"} {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return creds, fmt.Errorf("%w in %s: %s; expected layout:\n%s",
			ErrMissingKeys, path, strings.Join(missing, ", "), salesforceLayout)
	}

	if err := remarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("credentials: decode %s: %w", path, err)
	}
	return creds, nil
}

// ReadGoogle reads the google_creds section of path and checks that the
// service account file it names exists and holds JSON.
func ReadGoogle(path string) (Google, error) {
	raw, err := readObject(path)
	if err != nil {
		return Google{}, err
	}

	var section struct {
		GoogleCreds *struct {
			CredsFile string `json:"creds_file"`
			ProjectID string `json:"project_id"`
		} `json:"google_creds"`
	}
	if err := remarshal(raw, &section); err != nil {
		return Google{}, fmt.Errorf("credentials: decode %s: %w", path, err)
	}

	gc := section.GoogleCreds
	var missing []string
	switch {
	case gc == nil:
		missing = append(missing, "google_creds")
	default:
		if gc.CredsFile == "" {
			missing = append(missing, "google_creds.creds_file")
		}
		if gc.ProjectID == "" {
			missing = append(missing, "google_creds.project_id")
		}
	}
	if len(missing) > 0 {
		return Google{}, fmt.Errorf("%w in %s: %s; expected layout:\n%s",
			ErrMissingKeys, path, strings.Join(missing, ", "), googleLayout)
	}

	if _, err := readObject(gc.CredsFile); err != nil {
		return Google{}, fmt.Errorf("credentials: service account for %s: %w", path, err)
	}

	return Google{ProjectID: gc.ProjectID, CredentialsFile: gc.CredsFile}, nil
}

func readObject(path string) (map[string]json.RawMessage, error) {
	if path == "" {
		return nil, ErrNoCredentialsFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("credentials: parse %s: %w", path, err)
	}
	return raw, nil
}

func remarshal(raw map[string]json.RawMessage, v any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
