package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	"dailycast/pkg/logx"
)

// HotSections can be applied without a restart. Everything else is only
// picked up by the next process start.
var HotSections = []string{"logging"}

// SummarizeConfigChange returns (1) a compact sorted list of changed sections
// and (2) safe structured attrs for logging (never includes tokens, DSNs or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.LogChatID != nt.LogChatID || ot.LogThreadID != nt.LogThreadID ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.SendTimeout) != strings.TrimSpace(nt.SendTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Directory, newCfg.Directory) {
		changed = append(changed, "directory")
		attrs = append(attrs,
			logx.String("directory.driver", strings.TrimSpace(newCfg.Directory.Driver)),
			logx.Bool("directory.dsn_changed", oldCfg.Directory.DSN != newCfg.Directory.DSN),
		)
	}

	// Nil storage means memory.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
		attrs = append(attrs, logx.Int("broadcast.progress_every", newCfg.Broadcast.ProgressEvery))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	if streams := diffStreams(oldCfg.Streams, newCfg.Streams); len(streams) > 0 {
		changed = append(changed, "streams")
		attrs = append(attrs,
			logx.String("streams.changed", strings.Join(streams, ",")),
			logx.Int("streams.count", len(newCfg.Streams)),
		)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = "", ""
	if oo != no || (oldCfg.Ops.Token != "") != (newCfg.Ops.Token != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		enabled := newCfg.Notifier == nil || newCfg.Notifier.Enabled
		attrs = append(attrs, logx.Bool("notifier.enabled", enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the changed sections that are not hot-applied.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !slices.Contains(HotSections, s) {
			out = append(out, s)
		}
	}
	return out
}

// diffStreams returns the sorted names of streams added, removed or modified.
func diffStreams(oldS, newS []StreamConfig) []string {
	byName := func(in []StreamConfig) map[string]StreamConfig {
		m := make(map[string]StreamConfig, len(in))
		for _, s := range in {
			m[strings.TrimSpace(s.Name)] = s
		}
		return m
	}
	om, nm := byName(oldS), byName(newS)

	set := map[string]struct{}{}
	for k := range om {
		set[k] = struct{}{}
	}
	for k := range nm {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := om[name]
		n, nOK := nm[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
