package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGatewaySendParsesPerTokenResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, []string{"tok-1", "tok-2", "tok-3"}, msg.Tokens)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"token": "tok-1"},
				{"token": "tok-2", "error": "UNREGISTERED"},
				{"token": "tok-3"},
			},
		})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "secret")
	res, err := gw.Send(context.Background(), &Message{
		Tokens:   []string{"tok-1", "tok-2", "tok-3"},
		Data:     map[string]string{"type": "live_broadcast_started"},
		Priority: "high",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, map[string]string{"tok-2": "UNREGISTERED"}, res.FailedTokens)
}

func TestHTTPGatewaySendRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "")
	_, err := gw.Send(context.Background(), &Message{Tokens: []string{"tok-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPGatewayOmitsAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{}})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "")
	res, err := gw.Send(context.Background(), &Message{Tokens: []string{"tok-1"}})
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
}
