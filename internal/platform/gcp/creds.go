package gcp

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions builds auth options from an inline JSON credential or a
// credentials file path. Empty input falls back to application default
// credentials.
func ClientOptions(credentials string) []option.ClientOption {
	creds := strings.TrimSpace(credentials)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
