package vectors

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}

	if math.Abs(sumSquares-1.0) > 1e-6 {
		t.Errorf("normalized vector has magnitude^2 = %v, want 1", sumSquares)
	}
}

func TestNormalizeL2ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeL2(v)

	for i, x := range v {
		if x != 0 {
			t.Errorf("zero vector changed at index %d: %v", i, x)
		}
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "mismatched dims", a: []float32{1, 0}, b: []float32{1}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunningMeanMatchesBatchMean(t *testing.T) {
	members := [][]float32{
		{1, 2},
		{3, 4},
		{5, 0},
	}

	centroid := RunningMean(nil, members[0], 0)
	centroid = RunningMean(centroid, members[1], 1)
	centroid = RunningMean(centroid, members[2], 2)

	batch := Mean(members)

	for i := range centroid {
		if math.Abs(float64(centroid[i])-float64(batch[i])) > 1e-5 {
			t.Errorf("running mean diverged from batch mean at %d: %v vs %v", i, centroid[i], batch[i])
		}
	}
}

func TestMeanEmpty(t *testing.T) {
	if Mean(nil) != nil {
		t.Error("Mean(nil) should be nil")
	}
}
