package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEnvelopeSigner submits batch manifests to an external qualified
// signature provider over its REST API.
type HTTPEnvelopeSigner struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPEnvelopeSigner(baseURL, apiKey string) *HTTPEnvelopeSigner {
	return &HTTPEnvelopeSigner{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type envelopeRequest struct {
	ExternalID  string `json:"external_id"`
	BatchNumber string `json:"batch_number"`
	BatchHash   string `json:"batch_hash"`
	RecordCount int    `json:"record_count"`
	DocumentB64 []byte `json:"document"`
}

type envelopeResponse struct {
	SigningURL string `json:"signing_url"`
}

func (s *HTTPEnvelopeSigner) SubmitEnvelope(ctx context.Context, batch *Batch, document []byte) (string, error) {
	payload, err := json.Marshal(envelopeRequest{
		ExternalID:  batch.ID.String(),
		BatchNumber: batch.BatchNumber,
		BatchHash:   batch.BatchHash,
		RecordCount: batch.RecordCount,
		DocumentB64: document, // encoding/json base64-encodes []byte
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/envelopes", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("envelope provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("envelope provider returned %d: %s", resp.StatusCode, body)
	}

	var out envelopeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if out.SigningURL == "" {
		return "", fmt.Errorf("provider response missing signing_url")
	}
	return out.SigningURL, nil
}
