/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/tabpilot/log"
)

const (
	closeWriteTimeout = 10 * time.Second
	// sendQueueSize lets requests be queued without blocking on the writer.
	sendQueueSize = 32
)

// conn is the websocket of one connected extension. Reads happen on the
// goroutine of the HTTP handler, writes on sendLoop.
type conn struct {
	id     string
	ws     *websocket.Conn
	logger *log.Logger

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	pendingMu sync.Mutex
	pending   map[int64]chan response
}

func newConn(id string, ws *websocket.Conn, logger *log.Logger) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		logger:  logger,
		sendCh:  make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		pending: make(map[int64]chan response),
	}
}

// close sends a close frame and releases everyone waiting on the connection.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		err := c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(closeWriteTimeout),
		)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debugf("relay:close", "conn:%s err:%v", c.id, err)
		}
		_ = c.ws.Close()
		close(c.done)
	})
}

func (c *conn) addPending(id int64, ch chan response) {
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
}

func (c *conn) removePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *conn) resolve(id int64, resp response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debugf("relay:recv", "conn:%s dropping response to unknown request %d", c.id, id)
		return
	}
	ch <- resp
}

func (c *conn) handleIOError(err error) {
	code := websocket.CloseGoingAway
	var cerr *websocket.CloseError
	if errors.As(err, &cerr) {
		code = cerr.Code
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warnf("relay:conn", "conn:%s unexpected close: %v", c.id, err)
	}
	c.close(code, "")
}

// recvLoop reads envelopes until the connection fails. Responses resolve
// pending requests, events are handed to onEvent.
func (c *conn) recvLoop(onEvent func(name string, params gjson.Result)) {
	for {
		_, buf, err := c.ws.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}
		c.logger.Tracef("relay:recv", "conn:%s <- %s", c.id, buf)

		if !gjson.ValidBytes(buf) {
			c.logger.Errorf("relay:recv", "conn:%s ignoring malformed message: %q", c.id, buf)
			continue
		}
		msg := gjson.ParseBytes(buf)
		switch {
		case msg.Get("event").Exists():
			onEvent(msg.Get("event").String(), msg.Get("params"))
		case msg.Get("id").Exists():
			c.resolve(msg.Get("id").Int(), parseResponse(msg))
		default:
			c.logger.Errorf("relay:recv", "conn:%s ignoring message without id or event: %s", c.id, buf)
		}
	}
}

func (c *conn) sendLoop() {
	for {
		select {
		case buf := <-c.sendCh:
			c.logger.Tracef("relay:send", "conn:%s -> %s", c.id, buf)
			if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}
