/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package events is the in-process publish/subscribe bus behind the
// server-sent-event stream. Each subscriber owns a buffered channel; a
// subscriber that cannot keep up is dropped rather than blocking the
// publisher.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const (
	EventConnected       = "connected"
	EventHeartbeat       = "heartbeat"
	EventJobStatusChange = "job_status_change"
	EventResultsUpdated  = "diagnostic_results_updated"

	subscriberBuffer  = 16
	heartbeatInterval = 30 * time.Second
)

// Bus fans serialized event envelopes out to all subscribers.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	lastPublish time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

func NewBus() *Bus {
	b := &Bus{
		subscribers: make(map[chan []byte]struct{}),
		lastPublish: time.Now(),
		stopCh:      make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Close stops the heartbeat loop and closes every subscriber channel.
func (b *Bus) Close() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// Subscribe registers a new subscriber and delivers the connected greeting
// as its first event.
func (b *Bus) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	ch <- envelope(EventConnected, nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Safe to call twice.
func (b *Bus) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Publish enqueues one envelope on every subscriber channel, in publish
// order per subscriber. A full channel drops its subscriber.
func (b *Bus) Publish(eventType string, payload map[string]interface{}) {
	data := envelope(eventType, payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPublish = time.Now()
	for ch := range b.subscribers {
		select {
		case ch <- data:
		default:
			klog.Warningf("dropping slow event subscriber")
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// PublishJobStatusChange reports a job (and optionally one of its nodes)
// moving to a new status.
func (b *Bus) PublishJobStatusChange(jobID, status, nodeName string) {
	payload := map[string]interface{}{"job_id": jobID, "status": status}
	if nodeName != "" {
		payload["node_name"] = nodeName
	}
	b.Publish(EventJobStatusChange, payload)
}

// PublishResultsUpdated signals that ingestion changed the diagnostic
// results tables.
func (b *Bus) PublishResultsUpdated() {
	b.Publish(EventResultsUpdated, nil)
}

func (b *Bus) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			idle := time.Since(b.lastPublish) >= heartbeatInterval
			if idle {
				data := envelope(EventHeartbeat, nil)
				for ch := range b.subscribers {
					select {
					case ch <- data:
					default:
					}
				}
			}
			b.mu.Unlock()
		}
	}
}

func envelope(eventType string, payload map[string]interface{}) []byte {
	doc := map[string]interface{}{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for key, val := range payload {
		doc[key] = val
	}
	data, err := json.Marshal(doc)
	if err != nil {
		klog.ErrorS(err, "failed to marshal event envelope", "type", eventType)
		return []byte(`{"type":"` + eventType + `"}`)
	}
	return data
}
