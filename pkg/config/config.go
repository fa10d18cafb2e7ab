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

// Package config declares the manager.* options (spec §6) and loads
// them from flags with environment-variable fallback, the same
// flag-then-env precedence the teacher's pkg/operator/options package
// uses for karpenter-core's Options.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/4sarathbabu/blazar/pkg/errs"
)

// Options holds every manager.* config key spec §6 recognizes.
type Options struct {
	Plugins               []string
	MinutesBeforeEndLease int
	EventMaxRetries       int
	EventInterval         time.Duration
	MonitorPollInterval   time.Duration
	MetricsPort           int

	// PluginConfigPath points at a TOML file of per-plugin option
	// groups, named by resource_type (spec §6).
	PluginConfigPath string
}

// AddFlags registers o's fields on fs, falling back to the matching
// environment variable when a flag is not explicitly set.
func (o *Options) AddFlags(fs *flag.FlagSet) {
	fs.Var(newStringSliceValue(&o.Plugins, []string{"dummy.vm.plugin"}), "plugins", "Comma-separated list of plugin names to load (manager.plugins)")
	fs.IntVar(&o.MinutesBeforeEndLease, "minutes-before-end-lease", withDefaultInt("MANAGER_MINUTES_BEFORE_END_LEASE", 60), "Minutes before end_date a before_end_lease event fires; 0 disables it (manager.minutes_before_end_lease)")
	fs.IntVar(&o.EventMaxRetries, "event-max-retries", withDefaultInt("MANAGER_EVENT_MAX_RETRIES", 1), "Retry window width, in ticks, before a failed event lands on ERROR (manager.event_max_retries)")
	fs.DurationVar(&o.EventInterval, "event-interval", withDefaultDuration("EVENT_INTERVAL", 10*time.Second), "EventEngine tick interval")
	fs.DurationVar(&o.MonitorPollInterval, "monitor-poll-interval", withDefaultDuration("MONITOR_POLL_INTERVAL", time.Minute), "Monitor health-poll interval")
	fs.IntVar(&o.MetricsPort, "metrics-port", withDefaultInt("METRICS_PORT", 8080), "The port the Prometheus metrics endpoint binds to")
	fs.StringVar(&o.PluginConfigPath, "plugin-config", withDefaultString("MANAGER_PLUGIN_CONFIG", ""), "Path to a TOML file of per-plugin option groups")
}

// Validate checks the bounded fields spec §6 constrains.
func (o *Options) Validate() error {
	if o.EventMaxRetries < 0 || o.EventMaxRetries > 50 {
		return errs.Newf(errs.InvalidInput, "manager.event_max_retries must be within 0-50, got %d", o.EventMaxRetries)
	}
	if o.MinutesBeforeEndLease < 0 {
		return errs.Newf(errs.InvalidInput, "manager.minutes_before_end_lease must be >= 0, got %d", o.MinutesBeforeEndLease)
	}
	return nil
}

// PluginGroups decodes PluginConfigPath, if set, into a map of
// resource_type -> flat string option group, the shape Plugin.Setup
// and plugin.Opts expect. An empty PluginConfigPath returns an empty
// map rather than an error.
func (o *Options) PluginGroups() (map[string]map[string]string, error) {
	if o.PluginConfigPath == "" {
		return map[string]map[string]string{}, nil
	}
	raw, err := os.ReadFile(o.PluginConfigPath)
	if err != nil {
		return nil, errs.Wrap(errs.PluginConfigurationError, err, "path", o.PluginConfigPath)
	}
	var groups map[string]map[string]string
	if err := toml.Unmarshal(raw, &groups); err != nil {
		return nil, errs.Wrap(errs.PluginConfigurationError, err, "path", o.PluginConfigPath)
	}
	return groups, nil
}

func withDefaultString(envVar, fallback string) string {
	if v, ok := os.LookupEnv(envVar); ok {
		return v
	}
	return fallback
}

func withDefaultInt(envVar string, fallback int) int {
	v, ok := os.LookupEnv(envVar)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func withDefaultDuration(envVar string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(envVar)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// stringSliceValue adapts a []string field to flag.Value so -plugins
// can be passed as a comma-separated list on the command line, with
// the same env-fallback precedence as the scalar flags.
type stringSliceValue struct {
	target *[]string
}

func newStringSliceValue(target *[]string, fallback []string) *stringSliceValue {
	if v, ok := os.LookupEnv("MANAGER_PLUGINS"); ok {
		*target = splitCSV(v)
	} else {
		*target = fallback
	}
	return &stringSliceValue{target: target}
}

func (s *stringSliceValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringSliceValue) Set(v string) error {
	*s.target = splitCSV(v)
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
