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
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// A limitListener closes the accepted connections above maxConn
// simultaneous ones.
type limitListener struct {
	net.Listener
	nConn   int64
	maxConn int64
}

func newListener(l net.Listener, n int) net.Listener {

	return &limitListener{
		Listener: l,
		maxConn:  int64(n),
	}
}

func (l *limitListener) release() {
	atomic.AddInt64(&l.nConn, -1)
}

func (l *limitListener) Accept() (net.Conn, error) {

	for {

		c, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if atomic.AddInt64(&l.nConn, 1) > l.maxConn {
			zap.L().Debug("Too many connections. Connection dropped", zap.Stringer("client", c.RemoteAddr()))
			_ = c.Close()
			l.release()
			continue
		}

		return &limitListenerConn{Conn: c, release: l.release}, nil
	}
}

type limitListenerConn struct {
	net.Conn
	release     func()
	releaseOnce sync.Once
}

func (c *limitListenerConn) Close() error {
	c.releaseOnce.Do(c.release)
	return c.Conn.Close()
}
