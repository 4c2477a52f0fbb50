package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wanderlust/internal/shared/logging"
	"wanderlust/internal/shared/utils/id"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPropagatesLogIDAndUserAgent(t *testing.T) {
	var gotLogID, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLogID = r.Header.Get(HeaderLogID)
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(time.Second, logging.Nop(), WithUserAgent("wanderlust-test"))
	ctx := id.WithLogID(context.Background(), "log-abc")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "log-abc", gotLogID)
	assert.Equal(t, "wanderlust-test", gotUA)
}

func TestNewDefaultsTimeout(t *testing.T) {
	client := New(0, nil)
	assert.Equal(t, defaultTimeout, client.Timeout)
}

func TestValidateOutboundURL(t *testing.T) {
	local := URLValidationOptions{AllowLocalhost: true}
	cases := []struct {
		name string
		raw  string
		opts URLValidationOptions
		ok   bool
	}{
		{"public https", "https://agent.example.com/v1", DefaultURLValidationOptions(), true},
		{"public http", "http://agent.example.com", DefaultURLValidationOptions(), true},
		{"empty", "  ", DefaultURLValidationOptions(), false},
		{"ftp scheme", "ftp://agent.example.com", DefaultURLValidationOptions(), false},
		{"localhost", "http://localhost:9000", DefaultURLValidationOptions(), false},
		{"loopback allowed", "http://127.0.0.1:9000", local, true},
		{"private rejected", "http://10.0.0.8", local, false},
		{"private allowed", "http://10.0.0.8", URLValidationOptions{AllowPrivateNetworks: true}, true},
		{"credentials", "https://user:pw@push.example.com", DefaultURLValidationOptions(), false},
		{"push requires https", "http://push.example.com/sub/1", PushEndpointOptions(), false},
		{"push https", "https://push.example.com/sub/1", PushEndpointOptions(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := ValidateOutboundURL(tc.raw, tc.opts)
			if tc.ok {
				require.NoError(t, err)
				assert.NotNil(t, u)
				return
			}
			require.ErrorIs(t, err, ErrDisallowedURL)
		})
	}
}
