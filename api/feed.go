/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// QueueFeed streams the ordered view of a queue over a WebSocket: one snapshot on
// connect and one after every change. Closing the socket cancels the pending boosts
// of the session named by the "session" query parameter.
func (a Api) QueueFeed(c *gin.Context) {
	name := c.Param("name")
	session := c.Query("session")

	if _, err := a.satsqueue.GetQueue(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).WithField("queue", name).Debug("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		_ = conn.Close()
		if session != "" {
			if n := a.satsqueue.CancelSessionBoosts(session); n > 0 {
				logrus.WithFields(logrus.Fields{"session": session, "cancelled": n}).Info("feed closed, boosts cancelled")
			}
		}
	}()

	// Holds only the newest view; a slow reader skips intermediate ones.
	views := make(chan model.QueueView, 1)
	sub, err := a.satsqueue.Watch(ctx, name, func(v model.QueueView) {
		select {
		case <-views:
		default:
		}
		views <- v
	})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()), time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	go readPump(conn, cancel)
	writePump(ctx, conn, views)
}

// readPump discards client messages and cancels the feed once the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, views <-chan model.QueueView) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case view := <-views:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
