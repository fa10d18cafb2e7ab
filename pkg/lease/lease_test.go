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

package lease_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	faketime "k8s.io/utils/clock/testing"

	"github.com/4sarathbabu/blazar/pkg/enforcement"
	"github.com/4sarathbabu/blazar/pkg/lease"
	"github.com/4sarathbabu/blazar/pkg/notify"
	"github.com/4sarathbabu/blazar/pkg/plugin"
	"github.com/4sarathbabu/blazar/pkg/plugin/dummy"
	"github.com/4sarathbabu/blazar/pkg/repository/memstore"
)

// newTestService builds a Service over a fresh memstore, a registry
// with one "compute_host" dummy plugin seeded with the given hosts, and
// a fake clock pinned at now. Tests that need to observe time passing
// get the *faketime.FakeClock back to Step().
func newTestService(t *testing.T, now time.Time, hosts ...dummy.Host) (*lease.Service, *faketime.FakeClock) {
	t.Helper()
	clk := faketime.NewFakeClock(now)
	factories := map[string]plugin.Factory{
		"dummy.vm.plugin": func() plugin.Plugin { return dummy.New(hosts...) },
	}
	registry, err := plugin.NewRegistry(context.Background(), []string{"dummy.vm.plugin"}, factories, nil)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	pipeline := enforcement.New(nil)
	repo := memstore.New()
	notifier := notify.NewLoggingNotifier(zap.NewNop().Sugar())
	svc := lease.NewService(repo, registry, pipeline, notifier, clk, lease.Options{
		MinutesBeforeEndLease: 60,
		EventMaxRetries:       2,
	}, zap.NewNop().Sugar())
	return svc, clk
}

func fmtDate(t time.Time) string {
	return t.Format(lease.DateLayout)
}
