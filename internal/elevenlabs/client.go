package elevenlabs

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL       = "https://api.elevenlabs.io/v1/convai"
	apiKeyHeader = "xi-api-key"
	// Max page size accepted by the conversations list endpoint.
	pageLimit = 100
)

// Client talks to the ElevenLabs conversational-AI API.
type Client struct {
	apiKey     string
	logger     *zap.Logger
	HTTPClient *http.Client
	APIURL     string
}

// New creates a client for the ElevenLabs API. Full conversation payloads
// carry entire transcripts, so the timeout is generous.
func New(logger *zap.Logger, apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}
