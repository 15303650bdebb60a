package activity

import (
	"slices"

	"github.com/overwasher/sensor-node/internal/models"
)

// RangeMetric x、y 两轴各自的 p90-p10 区间之和（milli-g）
// z 轴带重力分量，不参与计算
func RangeMetric(frames []models.SensorFrame) int {
	n := len(frames)
	if n == 0 {
		return 0
	}

	xs := make([]int16, n)
	ys := make([]int16, n)
	for i, f := range frames {
		xs[i] = f.X
		ys[i] = f.Y
	}
	return percentileRange(xs) + percentileRange(ys)
}

func percentileRange(v []int16) int {
	slices.Sort(v)
	n := len(v)
	return int(v[n*9/10]) - int(v[n/10])
}
