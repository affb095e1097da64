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
	"sync"
)

type registration struct {
	ch    chan *Publication
	topic string
}

// A localPubSub dispatches publications to local subscribers.
type localPubSub struct {
	subscribers  map[string][]chan *Publication
	register     chan *registration
	unregister   chan *registration
	publications chan *Publication
	stop         chan struct{}

	lock *sync.Mutex
}

func newlocalPubSub() *localPubSub {

	return &localPubSub{
		subscribers:  map[string][]chan *Publication{},
		register:     make(chan *registration, 2),
		unregister:   make(chan *registration, 2),
		stop:         make(chan struct{}),
		publications: make(chan *Publication, 1024),
		lock:         &sync.Mutex{},
	}
}

// Publish publishes a publication.
func (p *localPubSub) Publish(publication *Publication) error {

	p.publications <- publication.Duplicate()

	return nil
}

// Subscribe will subscribe the given channel to the given topic
func (p *localPubSub) Subscribe(c chan *Publication, errors chan error, topic string) func() {

	select {
	case p.register <- &registration{ch: c, topic: topic}:
	case <-p.stop:
		return func() {}
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			select {
			case p.unregister <- &registration{ch: c, topic: topic}:
			case <-p.stop:
			}
		})
	}
}

// Connect starts dispatching publications.
func (p *localPubSub) Connect(ctx context.Context) error {

	go p.listen()

	return nil
}

// Disconnect stops dispatching publications.
func (p *localPubSub) Disconnect() error {

	close(p.stop)

	return nil
}

func (p *localPubSub) listen() {

	for {
		select {
		case reg := <-p.register:
			p.lock.Lock()
			p.subscribers[reg.topic] = append(p.subscribers[reg.topic], reg.ch)
			p.lock.Unlock()

		case reg := <-p.unregister:
			p.lock.Lock()
			subs := p.subscribers[reg.topic]
			for i, sub := range subs {
				if sub == reg.ch {
					p.subscribers[reg.topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			p.lock.Unlock()

		case publication := <-p.publications:
			p.lock.Lock()
			for _, sub := range p.subscribers[publication.Topic] {
				go func(c chan *Publication) {
					select {
					case c <- publication:
					case <-p.stop:
					}
				}(sub)
			}
			p.lock.Unlock()

		case <-p.stop:
			p.lock.Lock()
			p.subscribers = map[string][]chan *Publication{}
			p.lock.Unlock()
			return
		}
	}
}

func (p *localPubSub) chansForTopic(topic string) []chan *Publication {

	p.lock.Lock()
	defer p.lock.Unlock()

	return p.subscribers[topic]
}
