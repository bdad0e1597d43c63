// Package graphsink is the HTTP client for the external graph store.
// Extracted trees are published as node/relationship batches under a
// document id; node ids are document-local and the store remaps them on
// write.
package graphsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
)

// Client communicates with the graph store HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GraphBatch is the body for POST /graphs/{docID}/batches: one extracted
// tree with its validation verdict.
type GraphBatch struct {
	DocID         string          `json:"doc_id"`
	Title         string          `json:"title,omitempty"`
	GroupID       string          `json:"group_id,omitempty"`
	ContentHash   string          `json:"content_hash,omitempty"`
	Nodes         []decision.Node `json:"nodes"`
	Relationships []decision.Edge `json:"relationships"`
	Validation    any             `json:"validation,omitempty"`
}

// GraphInfo is one document graph from a listing.
type GraphInfo struct {
	DocID     string `json:"doc_id"`
	Title     string `json:"title,omitempty"`
	NodeCount int    `json:"node_count"`
	CreatedAt string `json:"created_at,omitempty"`
}

// PublishBatch stores one tree batch under its document id.
func (c *Client) PublishBatch(ctx context.Context, batch GraphBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	u := c.baseURL + "/graphs/" + url.PathEscape(batch.DocID) + "/batches"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("publish batch %s: status %d: %s", batch.DocID, resp.StatusCode, string(respBody))
	}
	return nil
}

// FindByHash returns the doc id already published for a content hash, or ""
// when the hash is new.
func (c *Client) FindByHash(ctx context.Context, hash string) (string, error) {
	u := c.baseURL + "/graphs/by-hash/" + url.PathEscape(hash)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("find by hash: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("find by hash: status %d: %s", resp.StatusCode, string(respBody))
	}

	var info GraphInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode graph info: %w", err)
	}
	return info.DocID, nil
}

// ListGraphs lists published document graphs.
func (c *Client) ListGraphs(ctx context.Context, limit int) ([]GraphInfo, error) {
	u := c.baseURL + "/graphs"
	if limit > 0 {
		u += "?limit=" + url.QueryEscape(fmt.Sprintf("%d", limit))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("list graphs: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Graphs []GraphInfo `json:"graphs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode graphs: %w", err)
	}
	return result.Graphs, nil
}

// DeleteGraph removes a document graph and all its batches.
func (c *Client) DeleteGraph(ctx context.Context, docID string) error {
	u := c.baseURL + "/graphs/" + url.PathEscape(docID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delete graph: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("delete graph %s: status %d: %s", docID, resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases any resources (currently a no-op).
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
