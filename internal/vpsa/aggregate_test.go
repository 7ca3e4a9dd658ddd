package vpsa

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func model(id, domain, weights, prototypes string) *LocalModel {
	return &LocalModel{
		ModelID:    id,
		Domain:     domain,
		Weights:    weights,
		Prototypes: prototypes,
	}
}

func TestAggregateWeightsScalarMerge(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": 2}`, "{}"),
		model("m2", DomainSource, `{"a": 6}`, "{}"),
		model("m3", DomainTarget, `{"a": 4}`, "{}"),
	}

	merged, err := AggregateWeights(models, 0.6, 0.4)
	require.NoError(t, err)

	// mean(2,6)*0.6 + 4*0.4 = 4.0
	require.Contains(t, merged, "a")
	assert.InDelta(t, 4.0, merged["a"].Float(), 1e-12)
}

func TestAggregateWeightsVectorMerge(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": [1, 3]}`, "{}"),
		model("m2", DomainSource, `{"a": [3, 5]}`, "{}"),
		model("m3", DomainTarget, `{"a": [10, 20]}`, "{}"),
	}

	merged, err := AggregateWeights(models, 0.6, 0.4)
	require.NoError(t, err)

	// source mean [2,4]*0.6 = [1.2,2.4]; target [10,20]*0.4 = [4,8]
	require.True(t, merged["a"].IsVector())
	vec := merged["a"].Vec()
	require.Len(t, vec, 2)
	assert.InDelta(t, 5.2, vec[0], 1e-12)
	assert.InDelta(t, 10.4, vec[1], 1e-12)
}

func TestAggregateWeightsTargetOnlyKey(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": 1}`, "{}"),
		model("m2", DomainTarget, `{"b": 5}`, "{}"),
	}

	// A key present only in the target group carries only the target
	// contribution, whatever the source weight is.
	for _, sw := range []float64{0.0, 0.6, 100.0} {
		merged, err := AggregateWeights(models, sw, 0.4)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, merged["b"].Float(), 1e-12, "sourceWeight=%v", sw)
	}
}

func TestAggregateWeightsKeyPartialPresence(t *testing.T) {
	// "b" is averaged only over the source models that carry it.
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": 2, "b": 10}`, "{}"),
		model("m2", DomainSource, `{"a": 4}`, "{}"),
	}

	merged, err := AggregateWeights(models, 1.0, 0.0)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, merged["a"].Float(), 1e-12)
	assert.InDelta(t, 10.0, merged["b"].Float(), 1e-12)
}

func TestAggregateWeightsShapeMismatch(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": [1, 2, 3]}`, "{}"),
		model("m2", DomainSource, `{"a": [1, 2]}`, "{}"),
	}

	_, err := AggregateWeights(models, 0.6, 0.4)
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "a", mismatch.Key)
}

func TestAggregateWeightsMixedScalarVector(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": 1}`, "{}"),
		model("m2", DomainSource, `{"a": [1, 2]}`, "{}"),
	}

	_, err := AggregateWeights(models, 0.6, 0.4)
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestAggregateWeightsCrossDomainShapeMismatch(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, `{"a": [1, 2]}`, "{}"),
		model("m2", DomainTarget, `{"a": [1, 2, 3]}`, "{}"),
	}

	_, err := AggregateWeights(models, 0.6, 0.4)
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestKeyMeanEmptyContributionGroup(t *testing.T) {
	group := []Weights{{"a": Scalar(1)}, {"a": Scalar(3)}}

	_, err := keyMean(group, "ghost")
	var empty *EmptyGroupError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, "ghost", empty.Key)

	mean, err := keyMean(group, "a")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mean.Float(), 1e-12)
}

func TestAggregatePrototypesPermutationInvariant(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, "{}", `{"c0": [1, 2], "c1": 3}`),
		model("m2", DomainTarget, "{}", `{"c0": [3, 4], "c1": 5}`),
		model("m3", DomainSource, "{}", `{"c0": [5, 6]}`),
	}

	want, err := AggregatePrototypes(models, 0.1)
	require.NoError(t, err)
	require.True(t, want["c0"].IsVector())
	assert.InDelta(t, 3.0, want["c0"].Vec()[0], 1e-12)
	assert.InDelta(t, 4.0, want["c0"].Vec()[1], 1e-12)
	assert.InDelta(t, 4.0, want["c1"].Float(), 1e-12)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := append([]*LocalModel(nil), models...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := AggregatePrototypes(shuffled, 0.1)
		require.NoError(t, err)
		assert.Equal(t, want.Keys(), got.Keys())
		for _, k := range want.Keys() {
			if want[k].IsVector() {
				for j, x := range want[k].Vec() {
					assert.InDelta(t, x, got[k].Vec()[j], 1e-12)
				}
			} else {
				assert.InDelta(t, want[k].Float(), got[k].Float(), 1e-12)
			}
		}
	}
}

func TestAggregatePrototypesIgnoresDomain(t *testing.T) {
	models := []*LocalModel{
		model("m1", DomainSource, "{}", `{"c": 2}`),
		model("m2", DomainTarget, "{}", `{"c": 4}`),
	}

	got, err := AggregatePrototypes(models, 0.9)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got["c"].Float(), 1e-12)
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil)
	assert.Zero(t, m.GlobalAccuracy)
	assert.Zero(t, m.GlobalLoss)
	assert.Zero(t, m.AlignmentScore)
}

func TestComputeMetricsUnclampedAlignment(t *testing.T) {
	models := []*LocalModel{
		{ModelID: "m1", Accuracy: 0.8, Loss: 0.4, AlignmentLoss: 1.2},
		{ModelID: "m2", Accuracy: 0.6, Loss: 0.2, AlignmentLoss: 1.4},
	}

	m := ComputeMetrics(models)
	assert.InDelta(t, 0.7, m.GlobalAccuracy, 1e-12)
	assert.InDelta(t, 0.3, m.GlobalLoss, 1e-12)
	// mean alignment loss 1.3 -> score -0.3, preserved unclamped
	assert.InDelta(t, -0.3, m.AlignmentScore, 1e-12)
}

func TestParseWeightsRoundTrip(t *testing.T) {
	w, err := ParseWeights(`{"a": 1.5, "b": [1, 2, 3]}`)
	require.NoError(t, err)
	assert.False(t, w["a"].IsVector())
	assert.True(t, w["b"].IsVector())

	doc, err := w.Encode()
	require.NoError(t, err)
	again, err := ParseWeights(doc)
	require.NoError(t, err)
	assert.Equal(t, w.Keys(), again.Keys())
}

func TestParseWeightsEmptyDocument(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		w, err := ParseWeights(doc)
		require.NoError(t, err)
		assert.Empty(t, w)
	}
}

func TestParseWeightsRejectsNonNumeric(t *testing.T) {
	_, err := ParseWeights(`{"a": "not a number"}`)
	require.Error(t, err)
}
