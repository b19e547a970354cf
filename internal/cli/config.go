package cli

import (
	"fmt"
	"os"
)

// Conn holds the connection settings a command needs.
type Conn struct {
	BaseURL string
	APIKey  string
}

// GetConn resolves connection settings: explicit flags win, then the
// SEGMENTCTL_BASE_URL / SEGMENTCTL_API_KEY environment variables.
func GetConn(baseURLFlag, apiKeyFlag string) (Conn, error) {
	baseURL := baseURLFlag
	if baseURL == "" {
		baseURL = os.Getenv("SEGMENTCTL_BASE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	apiKey := apiKeyFlag
	if apiKey == "" {
		apiKey = os.Getenv("SEGMENTCTL_API_KEY")
	}
	if apiKey == "" {
		return Conn{}, fmt.Errorf("no API key: pass --api-key or set SEGMENTCTL_API_KEY")
	}

	return Conn{BaseURL: baseURL, APIKey: apiKey}, nil
}
