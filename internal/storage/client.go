// Package storage mirrors an object-storage area between two HTTP storage
// services. The whole stage is best effort: missing credentials skip it
// entirely and per-file failures are counted, never fatal.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Bucket is one storage bucket as the service reports it.
type Bucket struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

// Object is one stored file within a bucket.
type Object struct {
	Name string `json:"name"`
}

// Client talks to one storage service endpoint.
type Client struct {
	base string
	key  string
	http *http.Client
}

// NewClient creates a client for the service at baseURL authenticated with
// the given service key.
func NewClient(baseURL, key string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		key:  key,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("apikey", c.key)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return resp, nil
}

// ListBuckets returns all buckets on the service.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	resp, err := c.do(ctx, http.MethodGet, "/bucket", nil, "")
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer resp.Body.Close()

	var buckets []Bucket
	if err := json.NewDecoder(resp.Body).Decode(&buckets); err != nil {
		return nil, fmt.Errorf("decoding bucket list: %w", err)
	}
	return buckets, nil
}

// CreateBucket creates a bucket. An already-existing bucket is not an
// error.
func (c *Client) CreateBucket(ctx context.Context, name string, public bool) error {
	payload, err := json.Marshal(map[string]any{"id": name, "name": name, "public": public})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/bucket", bytes.NewReader(payload), "application/json")
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}
	return nil
}

// ListObjects returns object names in a bucket under the given prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	payload, err := json.Marshal(map[string]any{"prefix": prefix, "limit": 10000})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/object/list/"+bucket, bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, fmt.Errorf("listing objects in %s: %w", bucket, err)
	}
	defer resp.Body.Close()

	var objects []Object
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		return nil, fmt.Errorf("decoding object list for %s: %w", bucket, err)
	}
	return objects, nil
}

// Download fetches one object's bytes and content type.
func (c *Client) Download(ctx context.Context, bucket, name string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/object/"+bucket+"/"+name, nil, "")
	if err != nil {
		return nil, "", fmt.Errorf("downloading %s/%s: %w", bucket, name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s/%s: %w", bucket, name, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Upload stores one object, overwriting any existing copy.
func (c *Client) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) error {
	resp, err := c.do(ctx, http.MethodPost, "/object/"+bucket+"/"+name+"?upsert=true", bytes.NewReader(data), contentType)
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", bucket, name, err)
	}
	resp.Body.Close()
	return nil
}
