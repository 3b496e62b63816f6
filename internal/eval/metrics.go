// Package eval computes ranking, classification, calibration, and business
// metrics from held-out (predicted probability, true label) pairs.
package eval

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/retailml/propensity/internal/domain"
)

// Config holds the evaluation knobs. The decision threshold is an input,
// never inferred here.
type Config struct {
	Threshold       float64 `yaml:"threshold"`
	Ks              []int   `yaml:"ks"`
	CalibrationBins int     `yaml:"calibration_bins"`
	Deciles         int     `yaml:"deciles"`
	ConversionValue float64 `yaml:"conversion_value"`
	OutreachCost    float64 `yaml:"outreach_cost"`
}

// DefaultConfig returns the standard evaluation configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.5,
		Ks:              []int{10, 20, 50, 100},
		CalibrationBins: 10,
		Deciles:         10,
		ConversionValue: 100,
		OutreachCost:    10,
	}
}

// MetricValue is a metric that may be undefined for a degenerate fold. An
// undefined metric is reported explicitly instead of a NaN or a silent zero.
type MetricValue struct {
	Value   float64 `json:"value"`
	Defined bool    `json:"defined"`
	Reason  string  `json:"reason,omitempty"`
}

func defined(v float64) MetricValue {
	return MetricValue{Value: v, Defined: true}
}

func undefined(metric, reason string) MetricValue {
	return MetricValue{Defined: false, Reason: (&domain.UndefinedMetricError{Metric: metric, Reason: reason}).Error()}
}

// CalibrationBin is one bin of the predicted-vs-observed calibration curve.
type CalibrationBin struct {
	Low          float64 `json:"low"`
	High         float64 `json:"high"`
	Count        int     `json:"count"`
	MeanPred     float64 `json:"mean_predicted"`
	ObservedRate float64 `json:"observed_rate"`
}

// DecileLift is one row of the decile lift table. Deciles are ranked by
// score, decile 1 highest.
type DecileLift struct {
	Decile         int     `json:"decile"`
	Count          int     `json:"count"`
	Positives      int     `json:"positives"`
	ResponseRate   float64 `json:"response_rate"`
	Lift           float64 `json:"lift"`
	CumulativeLift float64 `json:"cumulative_lift"`
}

// BusinessAtK carries targeting economics for one cut depth.
type BusinessAtK struct {
	K                 int     `json:"k"`
	ExpectedNetProfit float64 `json:"expected_net_profit"`
	ROI               float64 `json:"roi"`
	ObservedPositives int     `json:"observed_positives"`
}

// Report is the full evaluation output for one held-out set.
type Report struct {
	Rows         int                 `json:"rows"`
	BaseRate     float64             `json:"base_rate"`
	Threshold    float64             `json:"threshold"`
	ROCAUC       MetricValue         `json:"roc_auc"`
	PRAUC        MetricValue         `json:"pr_auc"`
	Accuracy     float64             `json:"accuracy"`
	Precision    MetricValue         `json:"precision"`
	Recall       MetricValue         `json:"recall"`
	F1           MetricValue         `json:"f1"`
	PrecisionAtK map[int]float64     `json:"precision_at_k"`
	RecallAtK    map[int]MetricValue `json:"recall_at_k"`
	Calibration  []CalibrationBin    `json:"calibration"`
	Lift         []DecileLift        `json:"lift"`
	Business     []BusinessAtK       `json:"business"`
}

// Snapshot flattens the defined scalar metrics for artifact metadata.
func (r *Report) Snapshot() map[string]float64 {
	snap := map[string]float64{
		"rows":      float64(r.Rows),
		"base_rate": r.BaseRate,
		"accuracy":  r.Accuracy,
	}
	if r.ROCAUC.Defined {
		snap["roc_auc"] = r.ROCAUC.Value
	}
	if r.PRAUC.Defined {
		snap["pr_auc"] = r.PRAUC.Value
	}
	if r.Precision.Defined {
		snap["precision"] = r.Precision.Value
	}
	if r.Recall.Defined {
		snap["recall"] = r.Recall.Value
	}
	if r.F1.Defined {
		snap["f1"] = r.F1.Value
	}
	return snap
}

// Evaluate computes the full report. Degenerate folds (a single label class)
// yield explicitly undefined ranking metrics; the run itself never fails for
// that reason.
func Evaluate(probs []float64, labels []int, cfg Config) (*Report, error) {
	if len(probs) != len(labels) {
		return nil, fmt.Errorf("evaluate: %d probabilities vs %d labels", len(probs), len(labels))
	}
	if len(probs) == 0 {
		return nil, fmt.Errorf("evaluate: empty held-out set")
	}

	n := len(probs)
	var positives int
	for _, y := range labels {
		positives += y
	}
	baseRate := float64(positives) / float64(n)

	r := &Report{
		Rows:      n,
		BaseRate:  baseRate,
		Threshold: cfg.Threshold,
	}

	singleClass := positives == 0 || positives == n
	if singleClass {
		reason := fmt.Sprintf("all %d labels belong to one class", n)
		r.ROCAUC = undefined("roc_auc", reason)
		r.PRAUC = undefined("pr_auc", reason)
	} else {
		r.ROCAUC = defined(rocAUC(probs, labels))
		r.PRAUC = defined(averagePrecision(probs, labels))
	}

	r.Accuracy, r.Precision, r.Recall, r.F1 = pointMetrics(probs, labels, cfg.Threshold)

	order := rankOrder(probs)
	r.PrecisionAtK, r.RecallAtK = atK(order, labels, positives, cfg.Ks)
	r.Calibration = calibration(probs, labels, cfg.CalibrationBins)
	r.Lift = liftTable(order, labels, baseRate, cfg.Deciles)
	r.Business = business(order, probs, labels, cfg)

	log.Info().
		Int("rows", n).
		Float64("base_rate", baseRate).
		Bool("roc_auc_defined", r.ROCAUC.Defined).
		Float64("roc_auc", r.ROCAUC.Value).
		Msg("Evaluated held-out predictions")

	return r, nil
}

// rocAUC is the Mann-Whitney rank statistic with midrank tie handling.
func rocAUC(probs []float64, labels []int) float64 {
	n := len(probs)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[idx[j]] == probs[idx[i]] {
			j++
		}
		mid := float64(i+j+1) / 2 // average 1-based rank for the tie group
		for k := i; k < j; k++ {
			ranks[idx[k]] = mid
		}
		i = j
	}

	var pos int
	var rankSum float64
	for i, y := range labels {
		if y == 1 {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := n - pos
	u := rankSum - float64(pos)*float64(pos+1)/2
	return u / (float64(pos) * float64(neg))
}

// averagePrecision computes PR-AUC as average precision, processing equal
// scores as a group.
func averagePrecision(probs []float64, labels []int) float64 {
	order := rankOrder(probs)

	var totalPos int
	for _, y := range labels {
		totalPos += y
	}

	var ap float64
	tp, seen := 0, 0
	for i := 0; i < len(order); {
		j := i
		groupPos := 0
		for j < len(order) && probs[order[j]] == probs[order[i]] {
			groupPos += labels[order[j]]
			j++
		}
		tp += groupPos
		seen = j
		if groupPos > 0 {
			precision := float64(tp) / float64(seen)
			ap += precision * float64(groupPos)
		}
		i = j
	}
	return ap / float64(totalPos)
}

func pointMetrics(probs []float64, labels []int, threshold float64) (float64, MetricValue, MetricValue, MetricValue) {
	var tp, fp, tn, fn int
	for i, p := range probs {
		pred := 0
		if p >= threshold {
			pred = 1
		}
		switch {
		case pred == 1 && labels[i] == 1:
			tp++
		case pred == 1 && labels[i] == 0:
			fp++
		case pred == 0 && labels[i] == 0:
			tn++
		default:
			fn++
		}
	}

	accuracy := float64(tp+tn) / float64(len(probs))

	var precision, recall, f1 MetricValue
	if tp+fp == 0 {
		precision = undefined("precision", "no rows predicted positive at threshold")
	} else {
		precision = defined(float64(tp) / float64(tp+fp))
	}
	if tp+fn == 0 {
		recall = undefined("recall", "no positive labels in fold")
	} else {
		recall = defined(float64(tp) / float64(tp+fn))
	}
	if precision.Defined && recall.Defined && precision.Value+recall.Value > 0 {
		f1 = defined(2 * precision.Value * recall.Value / (precision.Value + recall.Value))
	} else {
		f1 = undefined("f1", "precision or recall undefined or zero")
	}

	return accuracy, precision, recall, f1
}

// rankOrder returns row indices sorted by descending probability, with a
// stable index tie-break for determinism.
func rankOrder(probs []float64) []int {
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if probs[order[a]] != probs[order[b]] {
			return probs[order[a]] > probs[order[b]]
		}
		return order[a] < order[b]
	})
	return order
}

func atK(order []int, labels []int, totalPos int, ks []int) (map[int]float64, map[int]MetricValue) {
	precisionAtK := make(map[int]float64, len(ks))
	recallAtK := make(map[int]MetricValue, len(ks))

	for _, k := range ks {
		kk := k
		if kk > len(order) {
			kk = len(order)
		}
		var hits int
		for _, i := range order[:kk] {
			hits += labels[i]
		}
		precisionAtK[k] = float64(hits) / float64(kk)
		if totalPos == 0 {
			recallAtK[k] = undefined("recall_at_k", "no positive labels in fold")
		} else {
			recallAtK[k] = defined(float64(hits) / float64(totalPos))
		}
	}
	return precisionAtK, recallAtK
}

func calibration(probs []float64, labels []int, bins int) []CalibrationBin {
	if bins < 1 {
		bins = 10
	}
	out := make([]CalibrationBin, bins)
	width := 1.0 / float64(bins)
	for b := range out {
		out[b].Low = float64(b) * width
		out[b].High = float64(b+1) * width
	}

	sums := make([]float64, bins)
	pos := make([]int, bins)
	for i, p := range probs {
		b := int(p / width)
		if b >= bins {
			b = bins - 1
		}
		out[b].Count++
		sums[b] += p
		pos[b] += labels[i]
	}
	for b := range out {
		if out[b].Count > 0 {
			out[b].MeanPred = sums[b] / float64(out[b].Count)
			out[b].ObservedRate = float64(pos[b]) / float64(out[b].Count)
		}
	}
	return out
}

func liftTable(order []int, labels []int, baseRate float64, deciles int) []DecileLift {
	if deciles < 1 {
		deciles = 10
	}
	n := len(order)
	out := make([]DecileLift, 0, deciles)

	cumCount, cumPos := 0, 0
	for d := 0; d < deciles; d++ {
		lo := d * n / deciles
		hi := (d + 1) * n / deciles
		if hi <= lo {
			continue
		}
		var positives int
		for _, i := range order[lo:hi] {
			positives += labels[i]
		}
		cumCount += hi - lo
		cumPos += positives

		row := DecileLift{
			Decile:       d + 1,
			Count:        hi - lo,
			Positives:    positives,
			ResponseRate: float64(positives) / float64(hi-lo),
		}
		if baseRate > 0 {
			row.Lift = row.ResponseRate / baseRate
			row.CumulativeLift = (float64(cumPos) / float64(cumCount)) / baseRate
		}
		out = append(out, row)
	}
	return out
}

// business computes expected net profit and ROI when targeting the top k
// customers by score: sum of conversion_value*p minus outreach cost per
// contact.
func business(order []int, probs []float64, labels []int, cfg Config) []BusinessAtK {
	out := make([]BusinessAtK, 0, len(cfg.Ks))
	for _, k := range cfg.Ks {
		kk := k
		if kk > len(order) {
			kk = len(order)
		}
		var expected float64
		var observed int
		for _, i := range order[:kk] {
			expected += cfg.ConversionValue*probs[i] - cfg.OutreachCost
			observed += labels[i]
		}
		row := BusinessAtK{K: k, ExpectedNetProfit: expected, ObservedPositives: observed}
		if cost := float64(kk) * cfg.OutreachCost; cost > 0 {
			row.ROI = expected / cost
		}
		out = append(out, row)
	}
	return out
}
