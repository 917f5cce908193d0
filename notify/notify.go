//
// Copyright 2020-2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package notify fans out post-cap-deletion cleanup events (an IRQ that
// needs unmasking, a notification that needs unbinding, ...) to whatever
// outside component is watching, decoupling the capability core from
// knowing who's listening.
package notify

import (
	"fmt"
	"sync"

	"github.com/nestybox/sysbox-libs/cspace/cap"
)

// Cfg configures a Watcher's event buffering.
type Cfg struct {
	EventBufSize int
}

// event buffer size limits.
const (
	BufMin = 0
	BufMax = 4096
)

// Event carries the cleanup payload a deleted capability's finaliser
// produced.
type Event struct {
	CleanupInfo cap.Cap
}

// Watcher fans the cleanup information passed to PostCapDeletion out to a
// single buffered channel of subscribers.
type Watcher struct {
	mu      sync.Mutex
	cfg     Cfg
	eventCh chan Event
	closed  bool
}

// New creates a Watcher. cfg.EventBufSize must be within [BufMin, BufMax].
func New(cfg Cfg) (*Watcher, error) {
	if err := validateCfg(cfg); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:     cfg,
		eventCh: make(chan Event, cfg.EventBufSize),
	}, nil
}

func validateCfg(cfg Cfg) error {
	if cfg.EventBufSize < BufMin || cfg.EventBufSize > BufMax {
		return fmt.Errorf("notify: invalid config: event buffer size must be in range [%d, %d]; found %d", BufMin, BufMax, cfg.EventBufSize)
	}
	return nil
}

// Events returns the channel cleanup events are published on.
func (w *Watcher) Events() <-chan Event {
	return w.eventCh
}

// PostCapDeletion publishes cleanupInfo as an Event. It matches
// cspace.PostCapDeletionFunc / zombie.Hooks.PostCapDeletion's signature,
// so a Watcher can be wired in directly as either hook. A Null
// cleanupInfo (the common case — most deletions have nothing to clean up)
// is dropped rather than published. If the event channel is full, the
// event is dropped rather than blocking the deletion path.
func (w *Watcher) PostCapDeletion(cleanupInfo cap.Cap) {
	if cleanupInfo.GetCapType() == cap.NullCap {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.eventCh <- Event{CleanupInfo: cleanupInfo}:
	default:
	}
}

// Close closes the event channel. PostCapDeletion becomes a no-op
// afterwards.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.eventCh)
}
