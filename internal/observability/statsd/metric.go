package statsd

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the StatsD type suffix of a metric line.
type Kind string

const (
	KindCount  Kind = "c"
	KindGauge  Kind = "g"
	KindTiming Kind = "ms"
)

// Metric is one emission. Timing values are milliseconds.
type Metric struct {
	Kind  Kind
	Name  string
	Value float64
	Tags  map[string]string
}

func countMetric(name string, value int64, tags map[string]string) Metric {
	return Metric{Kind: KindCount, Name: name, Value: float64(value), Tags: tags}
}

func gaugeMetric(name string, value float64, tags map[string]string) Metric {
	return Metric{Kind: KindGauge, Name: name, Value: value, Tags: tags}
}

func timingMetric(name string, value time.Duration, tags map[string]string) Metric {
	return Metric{Kind: KindTiming, Name: name, Value: float64(value) / float64(time.Millisecond), Tags: tags}
}

// Line renders m as a DogStatsD line under prefix. Tags of m win over global tags with
// the same key. An empty name renders as "".
func (m Metric) Line(prefix string, global map[string]string) string {
	name := normalizeMetricName(m.Name)
	if name == "" {
		return ""
	}
	return joinName(prefix, name) + ":" + formatFloat(m.Value) + "|" + string(m.Kind) + formatTags(global, m.Tags)
}

func joinName(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "." + name
	}
}

func sanitizePrefix(prefix string) string {
	return strings.Trim(normalizeMetricName(prefix), ".")
}

// metricNameReplacer maps characters that would break the line protocol, or that
// aggregators split on, to underscores.
var metricNameReplacer = strings.NewReplacer(
	" ", "_",
	"/", "_",
	":", "_",
	"|", "_",
	"@", "_",
	"#", "_",
)

func normalizeMetricName(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	n = metricNameReplacer.Replace(n)
	for strings.Contains(n, "..") {
		n = strings.ReplaceAll(n, "..", ".")
	}
	return strings.Trim(n, ".")
}

var (
	tagKeyReplacer   = strings.NewReplacer(":", "_", "|", "_", ",", "_", "#", "_", " ", "_")
	tagValueReplacer = strings.NewReplacer("|", "_", ",", "_", "#", "_", "\n", " ")
)

func cleanTag(k, v string) (string, string, bool) {
	key := tagKeyReplacer.Replace(strings.TrimSpace(k))
	if key == "" {
		return "", "", false
	}
	return key, tagValueReplacer.Replace(strings.TrimSpace(v)), true
}

func formatTags(global, local map[string]string) string {
	if len(global)+len(local) == 0 {
		return ""
	}

	merged := make(map[string]string, len(global)+len(local))
	for _, tags := range []map[string]string{global, local} {
		for k, v := range tags {
			if key, val, ok := cleanTag(k, v); ok {
				merged[key] = val
			}
		}
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("|#")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(merged[k])
	}
	return b.String()
}

func cloneTags(tags map[string]string) map[string]string {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		if key, val, ok := cleanTag(k, v); ok {
			cp[key] = val
		}
	}
	return cp
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
