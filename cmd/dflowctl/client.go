package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
)

// apiClient talks to the /api/v1 routes of the server.
type apiClient struct {
	base   string
	token  string
	tenant string
	http   *http.Client
}

type apiError struct {
	Status int
	Body   dto.ErrorResponse
}

func (e *apiError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Kind != "" {
		return fmt.Sprintf("%d %s (%s)", e.Status, msg, e.Body.Kind)
	}
	return fmt.Sprintf("%d %s", e.Status, msg)
}

func newAPIClient(base, token, tenant string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		tenant: tenant,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) request(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/v1"+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Tenant-ID", c.tenant)
	req.Header.Set("X-User-ID", "dflowctl")
	return req, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := c.request(ctx, method, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) ListServers(ctx context.Context) ([]dto.ServerResponse, error) {
	var out []dto.ServerResponse
	return out, c.do(ctx, http.MethodGet, "/servers", &out)
}

func (c *apiClient) Reconcile(ctx context.Context, tenant string) (*dto.AcceptedResponse, error) {
	var out dto.AcceptedResponse
	return &out, c.do(ctx, http.MethodPost, "/tenants/"+tenant+"/reconcile", &out)
}

func (c *apiClient) Job(ctx context.Context, id string) (*dto.JobResponse, error) {
	var out dto.JobResponse
	return &out, c.do(ctx, http.MethodGet, "/jobs/"+id, &out)
}

// WaitJob polls a job until it finishes or ctx ends.
func (c *apiClient) WaitJob(ctx context.Context, id string, every time.Duration) (*dto.JobResponse, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.State.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *apiClient) Order(ctx context.Context, id string) (*domain.ProvisioningOrder, error) {
	var out domain.ProvisioningOrder
	return &out, c.do(ctx, http.MethodGet, "/orders/"+id, &out)
}

// Events reads the SSE stream of kind/id and calls fn for each event until
// the stream ends, ctx is cancelled or fn returns an error.
func (c *apiClient) Events(ctx context.Context, kind, id string, fn func(domain.Event) error) error {
	req, err := c.request(ctx, http.MethodGet, "/events/"+kind+"/"+id)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Body)
		return apiErr
	}
	return readSSE(resp.Body, fn)
}

// readSSE decodes the data lines of a text/event-stream body. Comment lines
// (heartbeats) are skipped.
func readSSE(r io.Reader, fn func(domain.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := fn(ev); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
