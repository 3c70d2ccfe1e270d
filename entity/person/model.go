package person

import (
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/microsim/utils/config"
)

const (
	stripeWidth = 0.65  // 条纹宽度（米）
	pedLength   = 0.215 // 行人身体前后尺寸（米）
	pedMinGap   = 0.25  // 行人之间的最小间距（米）
)

// Model 行人运动模型
type Model interface {
	Name() string
	// Advance 计算行人本步在当前人行道上的前进距离与所在条纹
	// 参数：p-行人，want-不考虑其他行人时希望前进的距离
	Advance(p *Pedestrian, want float64) (dist float64, stripe int)
}

// NewModel 根据名称创建行人模型
func NewModel(name string) (Model, error) {
	switch name {
	case config.PedestrianStriping, "":
		return striping{}, nil
	case config.PedestrianNonInteracting:
		return nonInteracting{}, nil
	}
	return nil, fmt.Errorf("unknown pedestrian model %q", name)
}

// nonInteracting 行人之间互不影响，以期望速度行走
type nonInteracting struct{}

func (nonInteracting) Name() string { return config.PedestrianNonInteracting }

func (nonInteracting) Advance(p *Pedestrian, want float64) (float64, int) {
	return want, 0
}

// striping 条纹模型
// 功能：人行道按宽度划分为若干条纹，行人只受同一条纹内同向前方行人的阻挡，受阻时换到间距更大的相邻条纹
type striping struct{}

func (striping) Name() string { return config.PedestrianStriping }

// Advance 条纹模型的前进距离
// 算法说明：
// 1. 统计每个条纹内同向行走的最近前方行人的净间距（上一步状态）
// 2. 当前条纹间距足够时保持；否则在当前与相邻条纹中选择间距最大者，相同时保持当前条纹，再选序号小者
// 3. 前进距离不超过所选条纹的净间距
func (striping) Advance(p *Pedestrian, want float64) (float64, int) {
	n := stripes(p.lane.Width())
	cur := min(p.stripe, n-1)
	gaps := make([]float64, n)
	for i := range gaps {
		gaps[i] = math.Inf(1)
	}
	for node := p.lane.Pedestrians().First(); node != nil; node = node.Next() {
		q, ok := node.Value.(*Pedestrian)
		if !ok || q == p || q.IsForward() != p.IsForward() {
			continue
		}
		ahead := q.s - p.s
		if !p.IsForward() {
			ahead = -ahead
		}
		if ahead <= 0 {
			continue
		}
		k := min(q.stripe, n-1)
		gaps[k] = math.Min(gaps[k], ahead-pedLength-pedMinGap)
	}
	best := cur
	if gaps[cur] < want {
		for _, k := range []int{cur - 1, cur + 1} {
			if k >= 0 && k < n && gaps[k] > gaps[best] {
				best = k
			}
		}
	}
	return math.Max(0, math.Min(want, gaps[best])), best
}

// stripes 人行道的条纹数
func stripes(width float64) int {
	return max(1, int(width/stripeWidth))
}
