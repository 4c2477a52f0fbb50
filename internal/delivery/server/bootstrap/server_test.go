package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wanderlust/internal/shared/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBuildWiresInMemoryServer(t *testing.T) {
	path := writeConfig(t, `
server:
  environment: development
agent:
  base_url: http://127.0.0.1:9
observability:
  metrics:
    enabled: false
`)
	empty := ""
	s, err := Build(context.Background(), Options{
		ConfigPath: path,
		Overrides:  config.Overrides{DatabaseURL: &empty},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.shutdown(context.Background()) })

	require.NotNil(t, s.Coordinator)
	assert.Empty(t, s.Coordinator.List())

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string `json:"status"`
		Components []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	statuses := map[string]string{}
	for _, c := range body.Components {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, "disabled", statuses["store"])
	assert.Equal(t, "disabled", statuses["nats"])
}

func TestBuildFailsOnInvalidAgentURL(t *testing.T) {
	path := writeConfig(t, `
agent:
  base_url: "ftp://agent.example.com"
observability:
  metrics:
    enabled: false
`)
	empty := ""
	_, err := Build(context.Background(), Options{
		ConfigPath: path,
		Overrides:  config.Overrides{DatabaseURL: &empty},
	})
	require.Error(t, err)
}

func TestShutdownRunsCleanupsInReverse(t *testing.T) {
	var order []int
	s := &Server{}
	for i := 1; i <= 3; i++ {
		s.addCleanup(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, s.shutdown(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
	require.NoError(t, s.shutdown(context.Background()))
	assert.Len(t, order, 3)
}
