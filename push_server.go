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
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type pushServer struct {
	service        PubSubClient
	topic          string
	upgrader       websocket.Upgrader
	metricsManager MetricsManager
	sessions       map[string]*pushSession
	register       chan *pushSession
	unregister     chan *pushSession
	closeCh        chan struct{}
	sessionsLock   sync.RWMutex
}

func newPushServer(service PubSubClient, topic string, metricsManager MetricsManager) *pushServer {

	return &pushServer{
		service:        service,
		topic:          topic,
		metricsManager: metricsManager,
		sessions:       map[string]*pushSession{},
		register:       make(chan *pushSession),
		unregister:     make(chan *pushSession),
		closeCh:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (n *pushServer) registerSession(session *pushSession) bool {

	select {
	case n.register <- session:
		return true
	case <-n.closeCh:
		return false
	}
}

func (n *pushServer) unregisterSession(session *pushSession) {

	select {
	case n.unregister <- session:
	case <-n.closeCh:
	}
}

// ServeHTTP upgrades the connection and streams the events to the client.
func (n *pushServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("Unable to upgrade to websocket", zap.Error(err))
		return
	}

	session := newPushSession(r, conn, n.unregisterSession)

	if !n.registerSession(session) {
		session.close(websocket.CloseGoingAway)
		return
	}

	session.listen()
}

func (n *pushServer) readySessions() []*pushSession {

	n.sessionsLock.RLock()
	defer n.sessionsLock.RUnlock()

	out := make([]*pushSession, 0, len(n.sessions))
	for _, s := range n.sessions {
		out = append(out, s)
	}

	return out
}

// start starts the push server. It blocks until the context is done.
func (n *pushServer) start(ctx context.Context) {

	zap.L().Info("Push server started", zap.String("topic", n.topic))

	publications := make(chan *Publication, 1024)
	errs := make(chan error, 64)

	unsubscribe := n.service.Subscribe(publications, errs, n.topic)
	defer unsubscribe()

	for {
		select {

		case session := <-n.register:

			n.sessionsLock.Lock()
			n.sessions[session.id] = session
			total := len(n.sessions)
			n.sessionsLock.Unlock()

			if n.metricsManager != nil {
				n.metricsManager.RegisterWSConnection()
			}

			zap.L().Debug("Push session started",
				zap.String("id", session.id),
				zap.String("client", session.remoteAddr),
				zap.Int("total", total),
			)

		case session := <-n.unregister:

			n.sessionsLock.Lock()
			_, ok := n.sessions[session.id]
			delete(n.sessions, session.id)
			total := len(n.sessions)
			n.sessionsLock.Unlock()

			if ok && n.metricsManager != nil {
				n.metricsManager.UnregisterWSConnection()
			}

			zap.L().Debug("Push session closed",
				zap.String("id", session.id),
				zap.String("client", session.remoteAddr),
				zap.Int("total", total),
			)

		case publication := <-publications:

			event := &Event{}
			if err := publication.Decode(event); err != nil {
				zap.L().Error("Unable to decode event", zap.Error(err))
				break
			}

			for _, session := range n.readySessions() {
				session.push(event)
			}

		case err := <-errs:
			zap.L().Error("Error during pubsub consumption", zap.Error(err))

		case <-ctx.Done():
			n.stop()
			return
		}
	}
}

func (n *pushServer) stop() {

	close(n.closeCh)

	for _, session := range n.readySessions() {
		session.close(websocket.CloseGoingAway)
	}

	n.sessionsLock.Lock()
	n.sessions = map[string]*pushSession{}
	n.sessionsLock.Unlock()

	zap.L().Debug("Push server stopped")
}
