package vpsa

import "fmt"

// GroupMean decodes the weight documents of the models in the given domain
// and returns the per-key arithmetic mean, elementwise for vectors. A key is
// averaged over the models that actually carry it; keys absent from every
// member simply do not appear. An empty group yields an empty mapping.
func GroupMean(models []*LocalModel, domain string) (Weights, error) {
	var group []Weights
	for _, m := range models {
		if m.Domain != domain {
			continue
		}
		w, err := ParseWeights(m.Weights)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ModelID, err)
		}
		group = append(group, w)
	}
	return meanOf(group)
}

// meanOf averages a set of weight mappings key by key over the mappings that
// have each key.
func meanOf(group []Weights) (Weights, error) {
	out := Weights{}
	for _, key := range unionKeys(group) {
		mean, err := keyMean(group, key)
		if err != nil {
			return nil, err
		}
		out[key] = mean
	}
	return out, nil
}

// keyMean averages one key over the mappings that carry it. A key no mapping
// carries has nothing to divide by and is reported as an empty contribution
// group instead.
func keyMean(group []Weights, key string) (Value, error) {
	var sum Value
	n := 0
	for _, w := range group {
		v, ok := w[key]
		if !ok {
			continue
		}
		if n == 0 {
			sum = v
		} else {
			var err error
			sum, err = sum.Add(key, v)
			if err != nil {
				return Value{}, err
			}
		}
		n++
	}
	if n == 0 {
		return Value{}, &EmptyGroupError{Key: key}
	}
	return sum.Scale(1 / float64(n)), nil
}

func unionKeys(group []Weights) []string {
	all := Weights{}
	for _, w := range group {
		for k, v := range w {
			all[k] = v
		}
	}
	return all.Keys()
}

// WeightedMerge combines the source and target group means. Each side is
// scaled by its weight; a key present on both sides is the sum of the two
// scaled contributions, a key present on one side keeps that side's scaled
// contribution alone. No zero-fill happens for the missing side.
func WeightedMerge(src, tgt Weights, sourceWeight, targetWeight float64) (Weights, error) {
	out := Weights{}
	for k, v := range src {
		out[k] = v.Scale(sourceWeight)
	}
	for k, v := range tgt {
		scaled := v.Scale(targetWeight)
		if prev, ok := out[k]; ok {
			merged, err := prev.Add(k, scaled)
			if err != nil {
				return nil, err
			}
			out[k] = merged
		} else {
			out[k] = scaled
		}
	}
	return out, nil
}

// AggregateWeights computes the domain-weighted merged model weights: the
// source-domain group mean scaled by sourceWeight plus the target-domain
// group mean scaled by targetWeight.
func AggregateWeights(models []*LocalModel, sourceWeight, targetWeight float64) (Weights, error) {
	src, err := GroupMean(models, DomainSource)
	if err != nil {
		return nil, fmt.Errorf("source group: %w", err)
	}
	tgt, err := GroupMean(models, DomainTarget)
	if err != nil {
		return nil, fmt.Errorf("target group: %w", err)
	}
	return WeightedMerge(src, tgt, sourceWeight, targetWeight)
}

// AggregatePrototypes computes the unweighted per-key mean of every model's
// prototypes, regardless of domain.
//
// alignmentWeight is accepted for interface stability but currently has no
// effect: the aggregation scheme tracks alignment loss in the metrics instead
// of blending prototypes by it. A future domain-aware prototype blend would
// hook in here.
func AggregatePrototypes(models []*LocalModel, alignmentWeight float64) (Weights, error) {
	_ = alignmentWeight
	group := make([]Weights, 0, len(models))
	for _, m := range models {
		p, err := ParseWeights(m.Prototypes)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ModelID, err)
		}
		group = append(group, p)
	}
	return meanOf(group)
}

// ComputeMetrics returns the unweighted mean accuracy and loss across the
// models, and an alignment score of 1 minus the mean alignment loss. The
// score is not clamped, so a mean alignment loss above 1 produces a negative
// score. With no models every field is 0.
func ComputeMetrics(models []*LocalModel) Metrics {
	if len(models) == 0 {
		return Metrics{}
	}
	var acc, loss, align float64
	for _, m := range models {
		acc += m.Accuracy
		loss += m.Loss
		align += m.AlignmentLoss
	}
	n := float64(len(models))
	return Metrics{
		GlobalAccuracy: acc / n,
		GlobalLoss:     loss / n,
		AlignmentScore: 1 - align/n,
	}
}
