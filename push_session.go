// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package armet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pushWriteWait    = 10 * time.Second
	pushPongWait     = 60 * time.Second
	pushPingPeriod   = (pushPongWait * 9) / 10
	pushSessionQueue = 64
)

type unregisterFunc func(*pushSession)

// A pushSession streams events to one websocket client.
type pushSession struct {
	id         string
	conn       *websocket.Conn
	resources  map[string]struct{}
	events     chan *Event
	remoteAddr string
	startTime  time.Time
	unregister unregisterFunc
	closeCh    chan struct{}
	closeOnce  sync.Once
}

func newPushSession(request *http.Request, conn *websocket.Conn, unregister unregisterFunc) *pushSession {

	var resources map[string]struct{}
	if v := request.URL.Query().Get("resources"); v != "" {
		resources = map[string]struct{}{}
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				resources[r] = struct{}{}
			}
		}
	}

	return &pushSession{
		id:         uuid.Must(uuid.NewV4()).String(),
		conn:       conn,
		resources:  resources,
		events:     make(chan *Event, pushSessionQueue),
		remoteAddr: request.RemoteAddr,
		startTime:  time.Now().UTC(),
		unregister: unregister,
		closeCh:    make(chan struct{}),
	}
}

func (s *pushSession) String() string {
	return fmt.Sprintf("<pushsession id:%s client:%s>", s.id, s.remoteAddr)
}

// accepts returns true if the session wants the given event.
func (s *pushSession) accepts(event *Event) bool {

	if event.Timestamp.Before(s.startTime) {
		return false
	}

	if s.resources == nil {
		return true
	}

	_, ok := s.resources[event.Resource]

	return ok
}

// push queues the event. Events are dropped when the client is too slow.
func (s *pushSession) push(event *Event) {

	if !s.accepts(event) {
		return
	}

	select {
	case s.events <- event:
	case <-s.closeCh:
	default:
		zap.L().Warn("Push session queue full. Event dropped", zap.String("session", s.id), zap.Stringer("event", event))
	}
}

func (s *pushSession) close(code int) {

	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(pushWriteWait),
		)
		close(s.closeCh)
		_ = s.conn.Close()
	})
}

// read consumes the incoming frames so control frames are processed.
func (s *pushSession) read(done chan struct{}) {

	defer close(done)

	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pushPongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *pushSession) listen() {

	defer s.unregister(s)

	done := make(chan struct{})
	go s.read(done)

	ticker := time.NewTicker(pushPingPeriod)
	defer ticker.Stop()

	for {
		select {

		case event := <-s.events:

			data, err := json.Marshal(event)
			if err != nil {
				zap.L().Error("Unable to encode event", zap.Error(err))
				s.close(websocket.CloseInternalServerErr)
				return
			}

			_ = s.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close(websocket.CloseAbnormalClosure)
				return
			}

		case <-ticker.C:

			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pushWriteWait)); err != nil {
				s.close(websocket.CloseAbnormalClosure)
				return
			}

		case <-done:
			s.close(websocket.CloseNormalClosure)
			return

		case <-s.closeCh:
			return
		}
	}
}
