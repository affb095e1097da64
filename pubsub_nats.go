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
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when publishing on a disconnected client.
var ErrNotConnected = errors.New("not connected to nats")

// A NATSOption represents an option to the pubsub backed by nats
type NATSOption func(*natsPubSub)

// NATSOptConnectRetryInterval sets the connection retry interval
func NATSOptConnectRetryInterval(interval time.Duration) NATSOption {
	return func(n *natsPubSub) {
		n.retryInterval = interval
	}
}

// NATSOptCredentials sets the username and password to use to connect to nats.
func NATSOptCredentials(username string, password string) NATSOption {
	return func(n *natsPubSub) {
		n.username = username
		n.password = password
	}
}

// NATSOptClientID sets the client ID to use to connect to nats.
func NATSOptClientID(clientID string) NATSOption {
	return func(n *natsPubSub) {
		n.clientID = clientID
	}
}

// NATSOptTLS sets the tls config to use to connect nats.
func NATSOptTLS(tlsConfig *tls.Config) NATSOption {
	return func(n *natsPubSub) {
		n.tlsConfig = tlsConfig
	}
}

type natsPubSub struct {
	natsURL       string
	client        *nats.Conn
	retryInterval time.Duration
	clientID      string
	username      string
	password      string
	tlsConfig     *tls.Config
	lock          sync.RWMutex
}

func newNatsPubSub(natsURL string, options ...NATSOption) *natsPubSub {

	n := &natsPubSub{
		natsURL:       natsURL,
		retryInterval: 5 * time.Second,
		clientID:      uuid.Must(uuid.NewV4()).String(),
	}

	for _, opt := range options {
		opt(n)
	}

	return n
}

func (p *natsPubSub) conn() *nats.Conn {

	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.client
}

// Publish publishes the given publication.
func (p *natsPubSub) Publish(publication *Publication) error {

	client := p.conn()
	if client == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(publication)
	if err != nil {
		return fmt.Errorf("unable to encode publication: %w", err)
	}

	return client.Publish(publication.Topic, data)
}

// Subscribe subscribes the given channel to the given topic.
func (p *natsPubSub) Subscribe(pubs chan *Publication, errs chan error, topic string) func() {

	client := p.conn()
	if client == nil {
		notifyError(errs, ErrNotConnected)
		return func() {}
	}

	sub, err := client.Subscribe(topic, func(m *nats.Msg) {

		publication := NewPublication(topic)
		if err := json.Unmarshal(m.Data, publication); err != nil {
			zap.L().Error("Unable to decode publication", zap.String("topic", topic), zap.Error(err))
			notifyError(errs, err)
			return
		}

		pubs <- publication
	})

	if err != nil {
		notifyError(errs, err)
		return func() {}
	}

	return func() { _ = sub.Unsubscribe() }
}

// Connect connects to the nats server. It retries until it succeeds or
// the context is done.
func (p *natsPubSub) Connect(ctx context.Context) error {

	opts := []nats.Option{
		nats.Name(p.clientID),
		nats.MaxReconnects(-1),
	}

	if p.username != "" || p.password != "" {
		opts = append(opts, nats.UserInfo(p.username, p.password))
	}

	if p.tlsConfig != nil {
		opts = append(opts, nats.Secure(p.tlsConfig))
	}

	for {

		client, err := nats.Connect(p.natsURL, opts...)
		if err == nil {
			p.lock.Lock()
			p.client = client
			p.lock.Unlock()
			return nil
		}

		zap.L().Warn("Unable to connect to nats. Retrying",
			zap.String("url", p.natsURL),
			zap.Duration("retry", p.retryInterval),
			zap.Error(err),
		)

		select {
		case <-time.After(p.retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect drains and closes the connection.
func (p *natsPubSub) Disconnect() error {

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.client == nil {
		return nil
	}

	if err := p.client.Drain(); err != nil {
		p.client.Close()
	}

	p.client = nil

	return nil
}

// notifyError sends the error to the given channel, if any, without blocking.
func notifyError(errs chan error, err error) {

	if errs == nil {
		return
	}

	select {
	case errs <- err:
	default:
		zap.L().Debug("Dropped pubsub error", zap.Error(err))
	}
}
