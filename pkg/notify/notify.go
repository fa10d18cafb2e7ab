/*
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

// Package notify publishes lease/event lifecycle notifications. The
// transport is an external collaborator (spec §1); this package
// defines the Notifier contract plus an in-process reference publisher
// with dedupe, modeled on the teacher's events.Recorder.
package notify

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	v1 "github.com/4sarathbabu/blazar/pkg/apis/v1"
)

// Payload is the JSON-shaped body published for a notification (spec
// §6): the full lease document plus the topic it was published under.
type Payload struct {
	Topic string
	Lease v1.Lease
}

// Notifier publishes lease/event lifecycle notifications.
type Notifier interface {
	Publish(topic string, lease v1.Lease)
}

const defaultDedupeTimeout = 2 * time.Minute

// LoggingNotifier logs every publish and dedupes repeats of the same
// (topic, lease id) pair within a short window, the way the teacher's
// events.Recorder dedupes repeated controller events.
type LoggingNotifier struct {
	logger *zap.SugaredLogger
	cache  *gocache.Cache
}

var _ Notifier = (*LoggingNotifier)(nil)

// NewLoggingNotifier builds a Notifier that logs each publish via
// logger.
func NewLoggingNotifier(logger *zap.SugaredLogger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger, cache: gocache.New(defaultDedupeTimeout, time.Minute)}
}

func (n *LoggingNotifier) Publish(topic string, lease v1.Lease) {
	key := fmt.Sprintf("%s/%s", topic, lease.ID)
	if _, found := n.cache.Get(key); found {
		return
	}
	n.cache.SetDefault(key, true)
	n.logger.Infow("notification", "topic", topic, "lease_id", lease.ID, "status", lease.Status)
}

// LeaseTopic builds the "lease.<event>" topic for create/update/delete.
func LeaseTopic(action string) string { return "lease." + action }

// EventTopic builds the "event.<event_type>" topic.
func EventTopic(t v1.EventType) string { return "event." + string(t) }

// BeforeEndStopTopic is published when a completed before_end event is
// rescheduled back to UNDONE by an update (spec §4.1).
const BeforeEndStopTopic = "event.before_end_lease.stop"
