package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePoints(n int) []Point {
	t0 := time.Unix(1000, 0)
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{At: t0.Add(time.Duration(i) * 10 * time.Millisecond), DutyCycle: float32(i) / float32(n)}
	}
	return points
}

func TestDownsample_NoDownsampling(t *testing.T) {
	points := makePoints(3)

	result := Downsample(nil, points, 10)
	require.Len(t, result, 3)
	assert.Equal(t, points, result)

	dst := make([]Point, 0, 10)
	result = Downsample(dst, points, 10)
	require.Len(t, result, 3)
	assert.Equal(t, cap(dst), cap(result), "should reuse dst")
}

func TestDownsample_WithDownsampling(t *testing.T) {
	points := makePoints(100)

	dst := make([]Point, 0, 20)
	result := Downsample(dst, points, 10)
	require.Len(t, result, 10)
	assert.Equal(t, points[0], result[0])
	assert.Equal(t, points[99], result[9], "newest point is always kept")
	assert.Equal(t, 20, cap(result))

	for i := 1; i < len(result); i++ {
		assert.True(t, result[i].At.After(result[i-1].At), "order preserved")
	}
}

func TestDownsample_DestinationReuse(t *testing.T) {
	dst := make([]float32, 0, 10)
	first := Downsample(dst, []float32{0.1, 0.2}, 10)
	require.Len(t, first, 2)

	second := Downsample(first, []float32{0.3, 0.4, 0.5}, 10)
	require.Len(t, second, 3)
	assert.Equal(t, []float32{0.3, 0.4, 0.5}, second)
	assert.Equal(t, cap(first), cap(second))
}

func TestDownsample_Edges(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		maxPoints int
		wantLen   int
	}{
		{name: "empty", n: 0, maxPoints: 10, wantLen: 0},
		{name: "exact", n: 10, maxPoints: 10, wantLen: 10},
		{name: "one point", n: 50, maxPoints: 1, wantLen: 1},
		{name: "unlimited", n: 50, maxPoints: 0, wantLen: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := makePoints(tt.n)
			result := Downsample(nil, points, tt.maxPoints)
			require.Len(t, result, tt.wantLen)
			if tt.wantLen > 0 {
				assert.Equal(t, points[len(points)-1], result[len(result)-1])
			}
		})
	}
}
