package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httptestClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Second}
}

func TestFetchHistory(t *testing.T) {
	t.Run("decodes the message list", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/messages", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"m1","type":"chat","username":"alice","message":"hi","timestamp":"2024-05-01T09:30:00Z"}]`))
		}))
		defer srv.Close()

		msgs, err := fetchHistory(context.Background(), httptestClient(), srv.URL+"/")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, 2024, msgs[0].Timestamp.Year())
	})

	t.Run("surfaces the server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"Failed to fetch messages"}`))
		}))
		defer srv.Close()

		_, err := fetchHistory(context.Background(), httptestClient(), srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
		assert.Contains(t, err.Error(), "Failed to fetch messages")
	})

	t.Run("reports a non-JSON body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		}))
		defer srv.Close()

		_, err := fetchHistory(context.Background(), httptestClient(), srv.URL)
		assert.ErrorContains(t, err, "decode history")
	})
}

func TestHistoryCommand(t *testing.T) {
	baseURL := startRelay(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"history", "--server", baseURL, "--format", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Equal(t, "[]\n", out.String())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "chatctl v"+version+"\n", out.String())
}
