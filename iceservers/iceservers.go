/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package iceservers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/meshcall-go-sdk/callsdk"
)

// Server is one STUN or TURN entry as served by the backend.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ListResponse is the body of GET calls/ice-servers.
type ListResponse struct {
	ICEServers []Server `json:"iceServers"`
	// TTL is the validity of TURN credentials in seconds, when provided.
	TTL int `json:"ttl,omitempty"`
}

// DefaultServers is the public STUN set used when the backend offers none.
func DefaultServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
		{URLs: []string{"stun:stun2.l.google.com:19302"}},
	}
}

// Config holds the configuration for the ICE servers plugin
type Config struct {
	// Path is the API path relative to the core BaseURL.
	Path string

	// Fallback is returned by ICEServers when the backend call fails or is empty.
	Fallback []webrtc.ICEServer

	// RateLimitBackoff is how long ICEServers skips the backend after a 429
	// that carried no Retry-After.
	RateLimitBackoff time.Duration
}

// DefaultConfig returns the default configuration for the ICE servers plugin
func DefaultConfig() *Config {
	return &Config{
		Path:             "calls/ice-servers",
		Fallback:         DefaultServers(),
		RateLimitBackoff: 30 * time.Second,
	}
}

// Client is the ICE servers API client
type Client struct {
	core   *callsdk.Client
	config *Config

	mu           sync.Mutex
	backoffUntil time.Time
}

// New creates a new ICE servers plugin
func New(core *callsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RateLimitBackoff <= 0 {
		config.RateLimitBackoff = DefaultConfig().RateLimitBackoff
	}
	return &Client{
		core:   core,
		config: config,
	}
}

// List fetches the ICE servers for chatID. chatID may be empty.
func (c *Client) List(ctx context.Context, chatID string) ([]webrtc.ICEServer, error) {
	var params url.Values
	if chatID != "" {
		params = url.Values{}
		params.Set("chatId", chatID)
	}

	resp, err := c.core.RequestWithRetry(ctx, http.MethodGet, c.config.Path, params, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching ice servers: %w", err)
	}

	var body ListResponse
	if err := callsdk.ParseResponse(resp, &body); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, s := range body.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		is := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			is.Credential = s.Credential
			is.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, is)
	}
	return servers, nil
}

// ICEServers implements the calling ICE server provider. Failures are logged
// by kind and answered with the configured fallback. After a 429 the backend
// is not asked again until Retry-After has passed.
func (c *Client) ICEServers(ctx context.Context, chatID string) ([]webrtc.ICEServer, error) {
	logger := c.core.GetLogger().With().Str("component", "iceservers").Str("chat_id", chatID).Logger()

	if wait := c.backoff(); wait > 0 {
		logger.Debug().Dur("retry_in", wait).Msg("rate limited, using fallback ICE servers")
		return c.config.Fallback, nil
	}

	servers, err := c.List(ctx, chatID)
	switch {
	case err == nil && len(servers) > 0:
		return servers, nil
	case err == nil:
		logger.Warn().Msg("backend returned no ICE servers, using fallback")
	case callsdk.IsRateLimited(err):
		wait := c.pause(err)
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("ICE server lookup rate limited, using fallback")
	case callsdk.IsAuthError(err), callsdk.IsForbidden(err):
		logger.Error().Err(err).Msg("ICE server lookup not authorized, using fallback")
	case callsdk.IsNotFound(err):
		logger.Info().Msg("backend has no ICE server endpoint, using fallback")
	case callsdk.IsServerError(err):
		logger.Warn().Err(err).Msg("backend failed to list ICE servers, using fallback")
	default:
		logger.Warn().Err(err).Msg("using fallback ICE servers")
	}
	return c.config.Fallback, nil
}

func (c *Client) backoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.backoffUntil)
}

// pause stops backend lookups for the Retry-After of err.
func (c *Client) pause(err error) time.Duration {
	wait := c.config.RateLimitBackoff
	var apiErr *callsdk.APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		wait = apiErr.RetryAfter
	}
	c.mu.Lock()
	c.backoffUntil = time.Now().Add(wait)
	c.mu.Unlock()
	return wait
}
