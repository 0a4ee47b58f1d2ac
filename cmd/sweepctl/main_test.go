package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerReadsReport(t *testing.T) {
	var got triggerBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sweeps/ledger-expiry", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"name":"ledger-expiry","processed":3,"succeeded":2,"failed":1}}`))
	}))
	defer srv.Close()

	res := trigger(srv.Client(), srv.URL+"/api/v1/", "tok", "ledger-expiry", triggerBody{AsOf: "2024-03-01"})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Report)
	assert.Equal(t, 3, res.Report.Processed)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, "2024-03-01", got.AsOf)
	assert.False(t, got.Async)
}

func TestTriggerQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"id":"job-1","request":{"name":"weekly-rest-evaluation"}}}`))
	}))
	defer srv.Close()

	res := trigger(srv.Client(), srv.URL, "tok", "weekly-rest-evaluation", triggerBody{Async: true})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Job)
	assert.Equal(t, "job-1", res.Job.ID)
	assert.Equal(t, http.StatusAccepted, res.Status)
}

func TestTriggerSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"FORBIDDEN","message":"forbidden","status":403}}`))
	}))
	defer srv.Close()

	res := trigger(srv.Client(), srv.URL, "tok", "ledger-expiry", triggerBody{})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "FORBIDDEN")
	assert.Equal(t, http.StatusForbidden, res.Status)
}
