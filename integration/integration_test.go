package integration

import (
	"os"
	"testing"

	"github.com/kundankumarKD/faissrag/client"
)

// newClient returns a client for the server started with "faissrag serve".
// The tests are skipped unless FAISSRAG_SERVER_API_KEY is set.
func newClient(t *testing.T) client.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	apiKey := os.Getenv("FAISSRAG_SERVER_API_KEY")
	if apiKey == "" {
		t.Skip("skipping integration test: FAISSRAG_SERVER_API_KEY not set")
	}
	url := os.Getenv("FAISSRAG_SERVER_URL")
	if url == "" {
		url = "http://localhost:9020"
	}
	return client.New(url, apiKey)
}
