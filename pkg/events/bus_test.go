/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package events

import (
	"encoding/json"
	"testing"

	"gotest.tools/assert"
)

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	assert.NilError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestSubscribeDeliversConnectedGreeting(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe()
	doc := decode(t, <-ch)
	assert.Equal(t, doc["type"], EventConnected)
	assert.Assert(t, doc["timestamp"] != nil)
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe()
	<-ch // connected

	bus.PublishJobStatusChange("j1", "running", "")
	bus.PublishJobStatusChange("j1", "completed", "node-1")
	bus.PublishResultsUpdated()

	first := decode(t, <-ch)
	assert.Equal(t, first["type"], EventJobStatusChange)
	assert.Equal(t, first["status"], "running")
	_, hasNode := first["node_name"]
	assert.Assert(t, !hasNode)

	second := decode(t, <-ch)
	assert.Equal(t, second["status"], "completed")
	assert.Equal(t, second["node_name"], "node-1")

	third := decode(t, <-ch)
	assert.Equal(t, third["type"], EventResultsUpdated)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe()
	// never drained: greeting plus buffer fill, then one overflow
	for i := 0; i <= subscriberBuffer; i++ {
		bus.PublishResultsUpdated()
	}

	bus.mu.Lock()
	_, stillThere := bus.subscribers[ch]
	bus.mu.Unlock()
	assert.Assert(t, !stillThere)

	// dropped channel is closed after draining its backlog
	open := true
	for open {
		_, open = <-ch
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	bus.PublishResultsUpdated()
}
