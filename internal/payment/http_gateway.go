package payment

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

    "github.com/google/uuid"
)

// HTTPGateway talks to the payment processor's REST API.  Requests carry a
// bearer API key and an Idempotency-Key header; the processor is expected
// to replay the original response for a repeated key, which makes every
// operation here safe to retry.
type HTTPGateway struct {
    baseURL string
    apiKey  string
    client  *http.Client
}

// NewHTTPGateway builds a gateway for the given processor base URL and API
// key.  A nil client falls back to a 10 second timeout client.
func NewHTTPGateway(baseURL, apiKey string, client *http.Client) *HTTPGateway {
    if client == nil {
        client = &http.Client{Timeout: 10 * time.Second}
    }
    return &HTTPGateway{
        baseURL: strings.TrimRight(baseURL, "/"),
        apiKey:  apiKey,
        client:  client,
    }
}

type holdRequest struct {
    AmountCents int64             `json:"amount_cents"`
    Currency    string            `json:"currency"`
    Metadata    map[string]string `json:"metadata,omitempty"`
}

type holdResponse struct {
    HoldRef string `json:"hold_ref"`
    Status  string `json:"status"`
}

type refundRequest struct {
    AmountCents int64 `json:"amount_cents,omitempty"`
}

// CreateHold places a hold for the amount and returns the processor's hold
// reference.  The idempotency key is derived from the request metadata
// when present so a duplicate submission of the same request cannot open
// two holds.
func (g *HTTPGateway) CreateHold(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (string, error) {
    key := "hold:" + metadata["request_id"]
    if metadata["request_id"] == "" {
        key = "hold:" + uuid.NewString()
    }
    var resp holdResponse
    err := g.post(ctx, "/v1/holds", key, holdRequest{
        AmountCents: amountCents,
        Currency:    currency,
        Metadata:    metadata,
    }, &resp)
    if err != nil {
        return "", err
    }
    if resp.HoldRef == "" {
        return "", fmt.Errorf("processor returned empty hold_ref")
    }
    return resp.HoldRef, nil
}

// Refund returns held funds to the requester.  amountCents = 0 asks the
// processor for a full refund of the hold.
func (g *HTTPGateway) Refund(ctx context.Context, holdRef string, amountCents int64) (RefundResult, error) {
    key := "refund:" + holdRef
    var resp RefundResult
    err := g.post(ctx, "/v1/holds/"+url.PathEscape(holdRef)+"/refund", key, refundRequest{AmountCents: amountCents}, &resp)
    if err != nil {
        return RefundResult{}, err
    }
    return resp, nil
}

// HoldStatus reports the processor-side status for a hold reference.
func (g *HTTPGateway) HoldStatus(ctx context.Context, holdRef string) (string, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/holds/"+url.PathEscape(holdRef), nil)
    if err != nil {
        return "", err
    }
    req.Header.Set("Authorization", "Bearer "+g.apiKey)
    res, err := g.client.Do(req)
    if err != nil {
        return "", err
    }
    defer res.Body.Close()
    if res.StatusCode != http.StatusOK {
        return "", readAPIError(res)
    }
    var body holdResponse
    if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
        return "", fmt.Errorf("decode hold status: %w", err)
    }
    return body.Status, nil
}

// post sends a JSON body with auth and idempotency headers and decodes a
// 2xx JSON response into out.
func (g *HTTPGateway) post(ctx context.Context, path, idemKey string, in, out any) error {
    payload, err := json.Marshal(in)
    if err != nil {
        return err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
    if err != nil {
        return err
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("Authorization", "Bearer "+g.apiKey)
    req.Header.Set("Idempotency-Key", idemKey)
    res, err := g.client.Do(req)
    if err != nil {
        return err
    }
    defer res.Body.Close()
    if res.StatusCode < 200 || res.StatusCode >= 300 {
        return readAPIError(res)
    }
    if out == nil {
        return nil
    }
    if err := json.NewDecoder(res.Body).Decode(out); err != nil {
        return fmt.Errorf("decode processor response: %w", err)
    }
    return nil
}

func readAPIError(res *http.Response) error {
    body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
    msg := strings.TrimSpace(string(body))
    if msg == "" {
        msg = res.Status
    }
    return fmt.Errorf("processor returned %d: %s", res.StatusCode, msg)
}
