package app

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/sfpubsub/internal/logging"
)

func TestMetricsServer(t *testing.T) {
	srv, err := startMetricsServer(context.Background(), "127.0.0.1:0", logging.Nop())
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pubsub_publish_in_flight")
	assert.Contains(t, string(body), "go_goroutines")

	srv.shutdown()
	_, err = http.Get("http://" + srv.addr() + "/metrics")
	assert.Error(t, err)
}

func TestMetricsServer_BadAddress(t *testing.T) {
	_, err := startMetricsServer(context.Background(), "256.0.0.1:bad", logging.Nop())
	assert.Error(t, err)
}
