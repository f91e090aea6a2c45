package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// HTTPProvider talks to a generic order API:
//
//	POST {base}/orders       -> {"orderId": "..."}
//	GET  {base}/orders/{id}  -> {"status": "...", "instanceIp": "...", "instanceHostname": "..."}
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ ports.CloudProvider = (*HTTPProvider)(nil)

func NewHTTPProvider(baseURL, token string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

type createOrderBody struct {
	Name       string `json:"name"`
	ServerType string `json:"serverType,omitempty"`
	Image      string `json:"image,omitempty"`
	Location   string `json:"location,omitempty"`
	PublicKey  string `json:"publicKey,omitempty"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

func (p *HTTPProvider) CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	body, err := json.Marshal(createOrderBody{
		Name:       req.Name,
		ServerType: req.ServerType,
		Image:      req.Image,
		Location:   req.Location,
		PublicKey:  req.PublicKey,
	})
	if err != nil {
		return "", err
	}
	var out createOrderResponse
	if err := p.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("%w: create order returned no id", domain.ErrUpstreamProvider)
	}
	return out.OrderID, nil
}

func (p *HTTPProvider) GetOrder(ctx context.Context, orderID string) (domain.OrderStatusReport, error) {
	var report domain.OrderStatusReport
	if err := p.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &report); err != nil {
		return domain.OrderStatusReport{}, err
	}
	report.Status = strings.ToLower(strings.TrimSpace(report.Status))
	return report, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamProvider, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: status %d: %s", domain.ErrUpstreamProvider, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrUpstreamProvider, path, err)
	}
	return nil
}
