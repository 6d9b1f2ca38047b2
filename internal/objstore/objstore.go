// Package objstore is a small client for an S3-like object store exposing the
// storage REST API (upload, public URL, signed URL, delete).
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no store URL or key is set.
var ErrNotConfigured = errors.New("object storage is not configured")

// Store is the subset of object storage the backend uses.
type Store interface {
	Put(ctx context.Context, bucket, key, contentType string, body io.Reader) error
	PublicURL(bucket, key string) string
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Client implements Store over HTTP.
type Client struct {
	baseURL string
	http    *resty.Client
}

// New creates a client. baseURL is the project URL, e.g. https://xyz.example.co.
func New(baseURL, serviceKey string) (*Client, error) {
	if baseURL == "" || serviceKey == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(baseURL, "/") + "/storage/v1"
	http := resty.New().
		SetBaseURL(base).
		SetTimeout(2*time.Minute).
		SetRetryCount(2).
		SetAuthToken(serviceKey).
		SetHeader("apikey", serviceKey)
	return &Client{baseURL: base, http: http}, nil
}

func objectPath(bucket, key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(parts, "/")
}

// Put uploads body, replacing an existing object with the same key.
func (c *Client) Put(ctx context.Context, bucket, key, contentType string, body io.Reader) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "true").
		SetBody(body).
		Post("/object/" + objectPath(bucket, key))
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upload %s/%s: HTTP %d: %s", bucket, key, resp.StatusCode(), resp.String())
	}
	return nil
}

// PublicURL returns the URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, key string) string {
	return c.baseURL + "/object/public/" + objectPath(bucket, key)
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

// SignedURL returns a time-limited download URL for a private object.
func (c *Client) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	var out signResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]int{"expiresIn": int(ttl.Seconds())}).
		SetResult(&out).
		Post("/object/sign/" + objectPath(bucket, key))
	if err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", bucket, key, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("sign %s/%s: HTTP %d", bucket, key, resp.StatusCode())
	}
	if out.SignedURL == "" {
		return "", fmt.Errorf("sign %s/%s: empty signed url", bucket, key)
	}
	return c.baseURL + out.SignedURL, nil
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/object/" + objectPath(bucket, key))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	if resp.IsError() {
		return fmt.Errorf("delete %s/%s: HTTP %d", bucket, key, resp.StatusCode())
	}
	return nil
}
