package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSSE(t *testing.T) {
	body := strings.Join([]string{
		": connected",
		"",
		`data: {"target_key":"server:s1","kind":"progress","message":"probing"}`,
		"",
		": ping",
		`data: {"target_key":"server:s1","kind":"log","message":"done","job_id":"j1"}`,
		"",
	}, "\n")

	var got []domain.Event
	err := readSSE(strings.NewReader(body), func(ev domain.Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "probing", got[0].Message)
	assert.Equal(t, domain.EventLog, got[1].Kind)
	assert.Equal(t, "j1", got[1].JobID)
}

func TestReadSSEStopsOnCallbackError(t *testing.T) {
	body := "data: {\"message\":\"a\"}\n\ndata: {\"message\":\"b\"}\n\n"
	stop := errors.New("stop")
	calls := 0
	err := readSSE(strings.NewReader(body), func(domain.Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadSSERejectsBadPayload(t *testing.T) {
	err := readSSE(strings.NewReader("data: {nope\n\n"), func(domain.Event) error { return nil })
	assert.Error(t, err)
}

func TestClientSendsIdentityHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/servers", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		assert.Equal(t, "dflowctl", r.Header.Get("X-User-ID"))
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "s1", "name": "web", "ip": "10.0.0.1", "port": 22}})
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL+"/", "secret", "acme")
	servers, err := c.ListServers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "s1", servers[0].ID)
	assert.Equal(t, "web", servers[0].Name)
}

func TestClientMapsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "job not found", Kind: "not_found"})
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "", "acme").Job(context.Background(), "missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "404 job not found (not_found)", apiErr.Error())
}

func TestClientErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, "", "acme").Order(context.Background(), "o1")
	require.Error(t, err)
	assert.Equal(t, "502 Bad Gateway", err.Error())
}

func TestWaitJobPollsUntilFinished(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := domain.JobStateActive
		if polls.Add(1) >= 3 {
			state = domain.JobStateCompleted
		}
		_ = json.NewEncoder(w).Encode(dto.JobResponse{ID: "j1", State: state})
	}))
	defer srv.Close()

	job, err := newAPIClient(srv.URL, "", "acme").WaitJob(context.Background(), "j1", 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, job.State.Finished())
	assert.EqualValues(t, 3, polls.Load())
}

func TestWaitJobHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(dto.JobResponse{ID: "j1", State: domain.JobStateQueued})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := newAPIClient(srv.URL, "", "acme").WaitJob(ctx, "j1", 5*time.Millisecond)
	assert.Error(t, err)
}

func TestEventsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/events/server/s1", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"message\":\"hello\"}\n\n"))
	}))
	defer srv.Close()

	var msgs []string
	err := newAPIClient(srv.URL, "", "acme").Events(context.Background(), "server", "s1", func(ev domain.Event) error {
		msgs = append(msgs, ev.Message)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, msgs)
}
