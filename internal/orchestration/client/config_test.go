package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/textflow/internal/instances/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, DefaultEndpoint, cfg.Endpoint)
	require.Equal(t, domain.DefaultNamespace, cfg.Namespace)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultStartTimeout, cfg.StartTimeout)
	require.Equal(t, DefaultCancelTimeout, cfg.CancelTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_WithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Endpoint:     "https://textflow.internal:8443",
		Namespace:    "team-a",
		PollInterval: time.Second,
	}.WithDefaults()

	require.Equal(t, "https://textflow.internal:8443", cfg.Endpoint)
	require.Equal(t, "team-a", cfg.Namespace)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, DefaultStartTimeout, cfg.StartTimeout)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  string
	}{
		{name: "http", endpoint: "http://localhost:3000"},
		{name: "https", endpoint: "https://example.com"},
		{name: "wrong scheme", endpoint: "ftp://example.com", wantErr: "http or https"},
		{name: "no host", endpoint: "http://", wantErr: "no host"},
		{name: "unparseable", endpoint: "http://[::1", wantErr: "client.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Endpoint: tt.endpoint}.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
