package metrics

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"golang.org/x/sys/unix"
	"google.golang.org/protobuf/proto"
)

// familyPrefix marks the families accumulated across processes.
const familyPrefix = namespace + "_"

// Persist adds the corekeeper samples recorded by this process to the textfile at path.
// Each process must persist once, right before it exits.
func Persist(path string, live prometheus.Gatherer) error {
	families, err := live.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	own, _ := split(families)
	if len(own) == 0 {
		return nil
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	unlock, err := lockTextfile(path)
	if err != nil {
		return err
	}

	defer unlock()

	stored, err := ReadTextfile(path)
	if err != nil {
		return err
	}

	merged := Merge(stored, own)

	err = prometheus.WriteToTextfile(path, prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		return merged, nil
	}))
	if err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}

	return nil
}

// ReadTextfile parses the textfile at path. A missing file holds no families.
func ReadTextfile(path string) ([]*dto.MetricFamily, error) {
	file, err := os.Open(filepath.Clean(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("open metrics textfile: %w", err)
	}

	defer file.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)

	byName, err := parser.TextToMetricFamilies(file)
	if err != nil {
		return nil, fmt.Errorf("parse metrics textfile: %w", err)
	}

	families := make([]*dto.MetricFamily, 0, len(byName))
	for _, family := range byName {
		families = append(families, family)
	}

	sortFamilies(families)

	return families, nil
}

// Accumulated serves the live families with the persisted corekeeper samples added in.
func Accumulated(path string, live prometheus.Gatherer) prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		families, err := live.Gather()
		if err != nil || path == "" {
			return families, err
		}

		stored, err := ReadTextfile(path)
		if err != nil {
			return families, err
		}

		own, rest := split(families)

		result := append(rest, Merge(stored, own)...)
		sortFamilies(result)

		return result, nil
	})
}

// Merge adds b to a. Counters, histogram counts and sums are added; gauges and
// everything else take the value from b. The inputs are not modified.
func Merge(a, b []*dto.MetricFamily) []*dto.MetricFamily {
	byName := make(map[string]*dto.MetricFamily, len(a)+len(b))

	for _, family := range a {
		byName[family.GetName()] = proto.Clone(family).(*dto.MetricFamily)
	}

	for _, family := range b {
		current, ok := byName[family.GetName()]
		if !ok || current.GetType() != family.GetType() {
			byName[family.GetName()] = proto.Clone(family).(*dto.MetricFamily)
			continue
		}

		mergeFamily(current, family)
	}

	result := make([]*dto.MetricFamily, 0, len(byName))
	for _, family := range byName {
		result = append(result, family)
	}

	sortFamilies(result)

	return result
}

func mergeFamily(dst, src *dto.MetricFamily) {
	index := make(map[string]int, len(dst.GetMetric()))
	for i, metric := range dst.GetMetric() {
		index[signature(metric)] = i
	}

	for _, metric := range src.GetMetric() {
		i, ok := index[signature(metric)]
		if !ok {
			dst.Metric = append(dst.Metric, proto.Clone(metric).(*dto.Metric))
			continue
		}

		current := dst.Metric[i]

		switch dst.GetType() {
		case dto.MetricType_COUNTER:
			current.Counter = &dto.Counter{
				Value: proto.Float64(current.GetCounter().GetValue() + metric.GetCounter().GetValue()),
			}
		case dto.MetricType_HISTOGRAM:
			current.Histogram = mergeHistogram(current.GetHistogram(), metric.GetHistogram())
		default:
			dst.Metric[i] = proto.Clone(metric).(*dto.Metric)
		}
	}
}

// mergeHistogram adds bucket counts by upper bound. The +Inf bucket is implied by the sample count.
func mergeHistogram(a, b *dto.Histogram) *dto.Histogram {
	counts := make(map[float64]uint64)

	for _, h := range []*dto.Histogram{a, b} {
		for _, bucket := range h.GetBucket() {
			if math.IsInf(bucket.GetUpperBound(), 1) {
				continue
			}

			counts[bucket.GetUpperBound()] += bucket.GetCumulativeCount()
		}
	}

	bounds := make([]float64, 0, len(counts))
	for bound := range counts {
		bounds = append(bounds, bound)
	}

	slices.Sort(bounds)

	merged := &dto.Histogram{
		SampleCount: proto.Uint64(a.GetSampleCount() + b.GetSampleCount()),
		SampleSum:   proto.Float64(a.GetSampleSum() + b.GetSampleSum()),
		Bucket:      make([]*dto.Bucket, 0, len(bounds)),
	}

	for _, bound := range bounds {
		merged.Bucket = append(merged.Bucket, &dto.Bucket{
			UpperBound:      proto.Float64(bound),
			CumulativeCount: proto.Uint64(counts[bound]),
		})
	}

	return merged
}

func signature(metric *dto.Metric) string {
	pairs := make([]string, 0, len(metric.GetLabel()))
	for _, label := range metric.GetLabel() {
		pairs = append(pairs, label.GetName()+"="+label.GetValue())
	}

	sort.Strings(pairs)

	return strings.Join(pairs, "\xff")
}

// split separates the corekeeper families from the rest.
func split(families []*dto.MetricFamily) (own, rest []*dto.MetricFamily) {
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), familyPrefix) {
			own = append(own, family)
		} else {
			rest = append(rest, family)
		}
	}

	return own, rest
}

func sortFamilies(families []*dto.MetricFamily) {
	slices.SortFunc(families, func(a, b *dto.MetricFamily) int {
		return strings.Compare(a.GetName(), b.GetName())
	})
}

// lockTextfile serializes writers of the same textfile across processes.
func lockTextfile(path string) (func(), error) {
	file, err := os.OpenFile(filepath.Clean(path+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics lock: %w", err)
	}

	if err = unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("lock metrics textfile: %w", err)
	}

	return func() {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		_ = file.Close()
	}, nil
}
