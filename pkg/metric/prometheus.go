// Copyright 2023 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metric

import (
	"fmt"
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// namespace prefixes every exported metric name.
const namespace = "tgos"

// PrometheusName converts a metric name such as "/kernel/syscalls" to its
// exported form, "tgos_kernel_syscalls".
func PrometheusName(name string) string {
	return namespace + strings.ReplaceAll(name, "/", "_")
}

// family converts one metric to its Prometheus representation.
func (m *Uint64Metric) family() *dto.MetricFamily {
	name := PrometheusName(m.name)
	help := m.description
	typ := dto.MetricType_GAUGE
	if m.cumulative {
		typ = dto.MetricType_COUNTER
	}
	f := &dto.MetricFamily{Name: &name, Help: &help, Type: &typ}
	for key := range m.fields {
		v := float64(m.fields[key].Load())
		pm := &dto.Metric{}
		if typ == dto.MetricType_COUNTER {
			pm.Counter = &dto.Counter{Value: &v}
		} else {
			pm.Gauge = &dto.Gauge{Value: &v}
		}
		for i, val := range m.fieldMapper.keyToMultiField(key) {
			fname, fval := m.fieldMapper.fields[i].name, val
			pm.Label = append(pm.Label, &dto.LabelPair{Name: &fname, Value: &fval})
		}
		f.Metric = append(f.Metric, pm)
	}
	return f
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	allMetrics.mu.Lock()
	metrics := make([]*Uint64Metric, 0, len(allMetrics.uint64Metrics))
	for _, m := range allMetrics.uint64Metrics {
		metrics = append(metrics, m)
	}
	allMetrics.mu.Unlock()
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].name < metrics[j].name })

	for _, m := range metrics {
		if _, err := expfmt.MetricFamilyToText(w, m.family()); err != nil {
			return fmt.Errorf("writing metric %q: %w", m.name, err)
		}
	}
	return nil
}
