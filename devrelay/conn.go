/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package devrelay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/relay"
)

const (
	eventWelcome = "welcome"
	eventAck     = "ack"
)

// conn is one authenticated websocket client.
type conn struct {
	id       string
	userID   string
	username string
	ws       *websocket.Conn
	send     chan *relay.Frame
	done     chan struct{}
	server   *Server
	logger   zerolog.Logger

	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// push queues an event for delivery. A full queue drops the frame.
func (c *conn) push(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to encode frame")
		return
	}
	c.enqueue(&relay.Frame{Event: event, Data: raw})
}

func (c *conn) enqueue(f *relay.Frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		c.logger.Warn().Str("event", f.Event).Msg("send buffer full, dropping frame")
	}
}

func (c *conn) ack(id string, data interface{}) {
	if id == "" {
		return
	}
	f := &relay.Frame{Event: eventAck, Ack: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to encode ack")
			return
		}
		f.Data = raw
	}
	c.enqueue(f)
}

func (c *conn) nack(id, message string) {
	if id == "" {
		c.logger.Warn().Str("error", message).Msg("request refused")
		return
	}
	c.enqueue(&relay.Frame{Event: eventAck, Ack: id, Error: message})
}

func (c *conn) readPump() {
	defer func() {
		c.server.unregister(c)
		c.close()
	}()

	readWindow := 2 * c.server.config.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(readWindow))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWindow))
	})

	for {
		var f relay.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("unexpected close error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWindow))
		c.server.route(c, &f)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	timeout := c.server.config.WriteTimeout
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.ws.WriteJSON(f); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				return
			}
		}
	}
}
