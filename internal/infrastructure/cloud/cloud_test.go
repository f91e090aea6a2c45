package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/hetznercloud/hcloud-go/v2/hcloud/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newHetzner(t *testing.T, mux *http.ServeMux) *HetznerProvider {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewHetznerProvider("test-token",
		WithHCloudClient(hcloud.NewClient(hcloud.WithToken("test-token"), hcloud.WithEndpoint(ts.URL))),
		WithDefaults(domain.OrderRequest{ServerType: "cx22", Image: "ubuntu-24.04", Location: "nbg1"}),
	)
}

func TestHetznerProvider_CreateOrder(t *testing.T) {
	mux := http.NewServeMux()
	var created map[string]interface{}
	mux.HandleFunc("/ssh_keys", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		jsonResponse(w, http.StatusCreated, schema.SSHKeyCreateResponse{
			SSHKey: schema.SSHKey{ID: 7, Name: "edge", PublicKey: "ssh-ed25519 AAAA"},
		})
	})
	mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		jsonResponse(w, http.StatusCreated, schema.ServerCreateResponse{
			Server: schema.Server{ID: 42, Name: "edge", Status: "initializing"},
		})
	})

	p := newHetzner(t, mux)
	id, err := p.CreateOrder(context.Background(), domain.OrderRequest{Name: "edge", PublicKey: "ssh-ed25519 AAAA"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "cx22", created["server_type"])
	assert.Equal(t, "ubuntu-24.04", created["image"])
	assert.Equal(t, "nbg1", created["location"])
}

func TestHetznerProvider_GetOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/servers/42", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, schema.ServerGetResponse{
			Server: schema.Server{
				ID:     42,
				Status: "running",
				PublicNet: schema.ServerPublicNet{
					IPv4: schema.ServerPublicNetIPv4{IP: "203.0.113.9", DNSPtr: "static.9.113.0.203.clients.example."},
				},
			},
		})
	})

	p := newHetzner(t, mux)
	report, err := p.GetOrder(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, domain.UpstreamRunning, report.Status)
	assert.Equal(t, "203.0.113.9", report.InstanceIP)
	assert.Equal(t, "static.9.113.0.203.clients.example", report.InstanceHostname)
}

func TestHetznerProvider_UpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/servers/42", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusUnprocessableEntity, schema.ErrorResponse{
			Error: schema.Error{Code: "invalid_input", Message: "boom"},
		})
	})

	p := newHetzner(t, mux)
	_, err := p.GetOrder(context.Background(), "42")
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
}

func TestHetznerStatus(t *testing.T) {
	assert.Equal(t, domain.UpstreamInitializing, hetznerStatus(hcloud.ServerStatusInitializing))
	assert.Equal(t, domain.UpstreamRunning, hetznerStatus(hcloud.ServerStatusRunning))
	assert.Equal(t, domain.UpstreamError, hetznerStatus(hcloud.ServerStatusDeleting))
	assert.Equal(t, domain.UpstreamPending, hetznerStatus(hcloud.ServerStatus("weird")))
}

func TestHTTPProvider_RoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body createOrderBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "edge", body.Name)
		jsonResponse(w, http.StatusOK, createOrderResponse{OrderID: "ord-1"})
	})
	mux.HandleFunc("/orders/ord-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Running","instanceIp":"198.51.100.4","instanceHostname":"vm-1"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := NewHTTPProvider(ts.URL+"/", "secret", ts.Client())
	id, err := p.CreateOrder(context.Background(), domain.OrderRequest{Name: "edge"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)

	report, err := p.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReport{Status: "running", InstanceIP: "198.51.100.4", InstanceHostname: "vm-1"}, report)
}

func TestHTTPProvider_Non2xxIsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := NewHTTPProvider(ts.URL, "", nil)
	_, err := p.GetOrder(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
	assert.Contains(t, err.Error(), "503")
}
