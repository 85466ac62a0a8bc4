// Package auth provides authentication context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// clientContextKey is the key used to store the calling API client in context.
	clientContextKey contextKey = "client"
)

// Client is a product service authenticated by API key.
type Client struct {
	// Name identifies the key in logs and rate limiting.
	Name string
}

// GetClient retrieves the authenticated API client from the context.
//
// Returns nil if the request was not authenticated, which is the case when
// API key checking is disabled.
//
// Usage:
//
//	client := auth.GetClient(r.Context())
//	if client == nil {
//	    // Handle anonymous request
//	}
func GetClient(ctx context.Context) *Client {
	client, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return client
}

// GetClientFromRequest retrieves the authenticated client from the request context.
func GetClientFromRequest(r *http.Request) *Client {
	return GetClient(r.Context())
}

// SetClient stores a client in the context.
//
// This is called by the API key middleware after a key verifies.
func SetClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}
