package artifact

import (
	"math/big"
	"reflect"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ComparisonOverview summarizes the differences between two artifacts.
type ComparisonOverview struct {
	KeysCountCommon     int     `json:"keysCountCommon"`
	KeysCountFresh      int     `json:"keysCountFresh"`
	KeysCountMissing    int     `json:"keysCountMissing"`
	KeysScore           float64 `json:"keysScore"`
	MetricsCountCommon  int     `json:"metricsCountCommon"`
	MetricsCountFresh   int     `json:"metricsCountFresh"`
	MetricsCountMissing int     `json:"metricsCountMissing"`
	MetricsDurationHead int64   `json:"metricsDurationHead"`
	MetricsDurationBase int64   `json:"metricsDurationBase"`
	Identical           bool    `json:"identical"`
}

// CellComparison compares one key present in both artifacts. BaseValue is
// only set when the values differ.
type CellComparison struct {
	Key       string  `json:"name"`
	Score     float64 `json:"score"`
	HeadValue any     `json:"srcValue"`
	BaseValue any     `json:"dstValue,omitempty"`
}

type CellsComparison struct {
	Common  []CellComparison `json:"commonKeys"`
	Fresh   []Entry          `json:"newKeys"`
	Missing []Entry          `json:"missingKeys"`
}

type MetricComparison struct {
	Key      string `json:"name"`
	HeadMs   int64  `json:"srcValue"`
	BaseMs   int64  `json:"dstValue"`
	Duration int64  `json:"change"`
}

type MetricsComparison struct {
	Common  []MetricComparison `json:"commonKeys"`
	Fresh   []Metric           `json:"newKeys"`
	Missing []Metric           `json:"missingKeys"`
}

// ComparisonBody holds the per-key comparison of two artifacts.
type ComparisonBody struct {
	Head       Metadata          `json:"src"`
	Base       Metadata          `json:"dst"`
	Results    CellsComparison   `json:"results"`
	Assertions CellsComparison   `json:"assertions"`
	Metrics    MetricsComparison `json:"metrics"`
}

// ComparisonResult is the outcome of Artifact.Compare.
type ComparisonResult struct {
	overview ComparisonOverview
	body     ComparisonBody
}

func (r ComparisonResult) Overview() ComparisonOverview {
	return r.overview
}

func (r ComparisonResult) Body() ComparisonBody {
	return r.body
}

var valueOpts = cmp.Options{
	cmpopts.EquateApprox(0, 1e-9),
	cmpopts.EquateEmpty(),
}

// Compare compares a, the head, against base.
func (a *Artifact) Compare(base *Artifact) ComparisonResult {
	results := compareCells(a.doc.Results, base.doc.Results)
	assertions := compareCells(a.doc.Assertions, base.doc.Assertions)
	metrics := compareMetrics(a.doc.Metrics, base.doc.Metrics)

	overview := ComparisonOverview{
		KeysCountCommon:     len(results.Common),
		KeysCountFresh:      len(results.Fresh),
		KeysCountMissing:    len(results.Missing),
		KeysScore:           score(results),
		MetricsCountCommon:  len(metrics.Common),
		MetricsCountFresh:   len(metrics.Fresh),
		MetricsCountMissing: len(metrics.Missing),
		MetricsDurationHead: a.Overview().MetricsDuration,
		MetricsDurationBase: base.Overview().MetricsDuration,
		Identical:           a.digest != "" && a.digest == base.digest,
	}

	return ComparisonResult{
		overview: overview,
		body: ComparisonBody{
			Head:       a.doc.Metadata,
			Base:       base.doc.Metadata,
			Results:    results,
			Assertions: assertions,
			Metrics:    metrics,
		},
	}
}

func score(c CellsComparison) float64 {
	total := len(c.Common) + len(c.Fresh) + len(c.Missing)
	if total == 0 {
		return 1
	}
	var matched float64
	for _, cell := range c.Common {
		matched += cell.Score
	}
	return matched / float64(total)
}

func compareCells(head, base []Entry) CellsComparison {
	headByKey := indexEntries(head)
	baseByKey := indexEntries(base)

	out := CellsComparison{
		Common:  []CellComparison{},
		Fresh:   []Entry{},
		Missing: []Entry{},
	}
	for _, key := range sortedKeys(headByKey) {
		headValue := headByKey[key]
		baseValue, ok := baseByKey[key]
		if !ok {
			out.Fresh = append(out.Fresh, Entry{Key: key, Value: headValue})
			continue
		}
		cell := CellComparison{Key: key, HeadValue: headValue}
		if cmp.Equal(normalize(headValue), normalize(baseValue), valueOpts) {
			cell.Score = 1
		} else {
			cell.BaseValue = baseValue
		}
		out.Common = append(out.Common, cell)
	}
	for _, key := range sortedKeys(baseByKey) {
		if _, ok := headByKey[key]; !ok {
			out.Missing = append(out.Missing, Entry{Key: key, Value: baseByKey[key]})
		}
	}
	return out
}

func compareMetrics(head, base []Metric) MetricsComparison {
	headByKey := make(map[string]int64, len(head))
	for _, m := range head {
		headByKey[m.Key] = m.DurationMs
	}
	baseByKey := make(map[string]int64, len(base))
	for _, m := range base {
		baseByKey[m.Key] = m.DurationMs
	}

	out := MetricsComparison{
		Common:  []MetricComparison{},
		Fresh:   []Metric{},
		Missing: []Metric{},
	}
	for _, key := range sortedKeys(headByKey) {
		baseMs, ok := baseByKey[key]
		if !ok {
			out.Fresh = append(out.Fresh, Metric{Key: key, DurationMs: headByKey[key]})
			continue
		}
		out.Common = append(out.Common, MetricComparison{
			Key:      key,
			HeadMs:   headByKey[key],
			BaseMs:   baseMs,
			Duration: headByKey[key] - baseMs,
		})
	}
	for _, key := range sortedKeys(baseByKey) {
		if _, ok := headByKey[key]; !ok {
			out.Missing = append(out.Missing, Metric{Key: key, DurationMs: baseByKey[key]})
		}
	}
	return out
}

// indexEntries maps entries by key. A repeated key keeps its last value.
func indexEntries(entries []Entry) map[string]any {
	m := make(map[string]any, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// bigInt is the comparable form of an integer that does not fit in 64 bits.
type bigInt string

// equalValues reports whether two decoded values are equal. Values go-cmp
// cannot walk are compared with reflect.DeepEqual.
func equalValues(head, base any) (equal bool) {
	h, b := normalize(head), normalize(base)
	defer func() {
		if r := recover(); r != nil {
			equal = reflect.DeepEqual(h, b)
		}
	}()
	return cmp.Equal(h, b, valueOpts)
}

// normalize converts every number to float64 so that values decoded as
// different integer widths still compare equal. CBOR bignums outside the
// int64 range keep their exact decimal form.
func normalize(v any) any {
	switch t := v.(type) {
	case big.Int:
		return normalizeBigInt(&t)
	case *big.Int:
		if t == nil {
			return nil
		}
		return normalizeBigInt(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func normalizeBigInt(i *big.Int) any {
	if i.IsInt64() {
		return float64(i.Int64())
	}
	return bigInt(i.String())
}
