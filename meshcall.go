/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package meshcall

import (
	"context"
	"fmt"
	"sync"

	"github.com/tejzpr/meshcall-go-sdk/callsdk"
	"github.com/tejzpr/meshcall-go-sdk/calling"
	"github.com/tejzpr/meshcall-go-sdk/iceservers"
	"github.com/tejzpr/meshcall-go-sdk/relay"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

// MeshClient is the top-level client: REST core, ICE servers, the relay
// connection and the calling engine on top of it.
type MeshClient struct {
	// Core client for the REST API
	core *callsdk.Client

	mu              sync.Mutex
	iceClient       *iceservers.Client
	relayClient     *relay.Client
	signalingClient *signaling.Client
	callingClient   *calling.CallingClient
	callingConfig   *calling.Config
}

// NewClient creates a new client with the given access token and optional configuration
func NewClient(accessToken string, config *callsdk.Config) (*MeshClient, error) {
	core, err := callsdk.NewClient(accessToken, config)
	if err != nil {
		return nil, err
	}
	return &MeshClient{core: core}, nil
}

// Core returns the core REST client
func (c *MeshClient) Core() *callsdk.Client {
	return c.core
}

// ICEServers returns the ICE servers plugin
func (c *MeshClient) ICEServers() *iceservers.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iceClient == nil {
		c.iceClient = iceservers.New(c.core, nil)
	}
	return c.iceClient
}

// Relay returns the relay websocket client
func (c *MeshClient) Relay() *relay.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relayLocked()
}

func (c *MeshClient) relayLocked() *relay.Client {
	if c.relayClient == nil {
		c.relayClient = relay.New(c.core, nil)
	}
	return c.relayClient
}

// Signaling returns the typed signaling client wired to Relay()
func (c *MeshClient) Signaling() *signaling.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signalingLocked()
}

func (c *MeshClient) signalingLocked() *signaling.Client {
	if c.signalingClient == nil {
		logger := c.core.GetLogger()
		c.signalingClient = signaling.New(c.relayLocked(), &signaling.Config{Logger: &logger})
	}
	return c.signalingClient
}

// ConfigureCalling sets the configuration used when Calling() first builds
// the calling client. It has no effect afterwards.
func (c *MeshClient) ConfigureCalling(config *calling.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callingConfig = config
}

// Calling returns the calling client. Unless configured otherwise it fetches
// ICE servers from the ICE servers plugin and logs through the core logger.
func (c *MeshClient) Calling() *calling.CallingClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.callingClient != nil {
		return c.callingClient
	}

	cfg := calling.DefaultConfig()
	if c.callingConfig != nil {
		copied := *c.callingConfig
		cfg = &copied
	}
	if cfg.ICEServerProvider == nil {
		if c.iceClient == nil {
			c.iceClient = iceservers.New(c.core, nil)
		}
		cfg.ICEServerProvider = c.iceClient
	}
	if cfg.Logger == nil {
		logger := c.core.GetLogger()
		cfg.Logger = &logger
	}

	c.callingClient = calling.NewCallingClient(c.signalingLocked(), cfg)
	return c.callingClient
}

// Connect dials the relay and starts listening for incoming calls.
//
//	client, _ := meshcall.NewClient(token, cfg)
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close(ctx)
//	call, err := client.Calling().InitiateCall(ctx, chatID, calling.MediaTypeVideo)
func (c *MeshClient) Connect(ctx context.Context) error {
	if err := c.Relay().Connect(ctx); err != nil {
		return fmt.Errorf("relay connect failed: %w", err)
	}
	c.Calling().Start()
	return nil
}

// Close leaves any call, stops the calling client and disconnects the relay.
func (c *MeshClient) Close(ctx context.Context) error {
	c.mu.Lock()
	cc, sc, rc := c.callingClient, c.signalingClient, c.relayClient
	c.mu.Unlock()

	var err error
	if cc != nil {
		err = cc.Shutdown(ctx)
	}
	if sc != nil {
		sc.Close()
	}
	if rc != nil {
		if derr := rc.Disconnect(); err == nil {
			err = derr
		}
	}
	return err
}
