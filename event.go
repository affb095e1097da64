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
	"fmt"
	"time"
)

// An EventType is the type of a change event.
type EventType string

// Supported event types.
const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// An Event describes a change on an item.
type Event struct {
	Type      EventType `json:"type"`
	Resource  string    `json:"resource"`
	Slug      string    `json:"slug,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent returns a new *Event.
func NewEvent(typ EventType, resource string, slug string, data any) *Event {

	return &Event{
		Type:      typ,
		Resource:  resource,
		Slug:      slug,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Event) String() string {
	return fmt.Sprintf("<event type:%s resource:%s slug:%s>", e.Type, e.Resource, e.Slug)
}
