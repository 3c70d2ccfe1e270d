package lanechange

import (
	"math"

	"github.com/tsinghua-fib-lab/microsim/entity"
)

// MOBIL 最小化变道引起的总制动（Minimizing Overall Braking Induced by Lane changes）
// -----------------------
//
//	[3]   [n0] [4]  现在假设0->n0的变道(n = next)
//
// -----------------------
//
//	[2]      [0]    [1]
//
// -----------------------
// 要求变道后：
// 1. [3]不会追尾本车，即[3]的预期加速度不能小于舒适减速度加偏置
// 2. 整体加速度提升大于阈值: \Delta_a0 + p(\Delta_a2+\Delta_a3) > threshold
type MOBIL struct {
	Politeness float64 // 礼让系数p
	Threshold  float64 // 变道收益阈值
}

func (m *MOBIL) Name() string { return "mobil" }

// SpeedGain MOBIL主动变道决策
// 算法说明：
// 1. 计算本车在当前车道与目标车道的预期加速度
// 2. 计算当前车道后车[2]与目标车道后车[3]的加速度变化
// 3. 收益大于阈值的一侧进入候选，按收益大小的概率选择方向
func (m *MOBIL) SpeedGain(in *Input) (Decision, bool) {
	v0 := in.Ego.V
	gap1, v1 := in.Leader.leaderOrFree()
	a0 := accel(in, v0, gap1, v1, in.Leader.Exists, in.MaxV)
	deltaA2 := 0.0
	if in.Follower.Exists {
		// 2号车在本车离开后跟随1号车
		v2 := in.Follower.V
		newGap := gap1 + in.Length + in.Follower.Gap
		deltaA2 = accel(in, v2, newGap, v1, in.Leader.Exists, in.MaxV) -
			accel(in, v2, in.Follower.Gap, v0, true, in.MaxV)
	}
	deltas := [2]float64{}
	for _, side := range []int{entity.LEFT, entity.RIGHT} {
		e := in.Sides[side]
		if e.Lane == nil || !e.InBest {
			continue
		}
		gap4, v4 := e.Leader.leaderOrFree()
		an0 := accel(in, v0, gap4, v4, e.Leader.Exists, e.MaxV)
		deltaA3 := 0.0
		if e.Follower.Exists {
			// 判决规则1: 如果3号车会追尾本车，那么不变道
			if !followerSafe(in, e, lcSafeBrakingABias) {
				continue
			}
			v3 := e.Follower.V
			an3 := accel(in, v3, e.Follower.Gap, v0, true, e.MaxV)
			oldGap := e.Follower.Gap + in.Length + gap4
			deltaA3 = an3 - accel(in, v3, oldGap, v4, e.Leader.Exists, e.MaxV)
		}
		if delta := an0 - a0 + m.Politeness*(deltaA2+deltaA3); delta > m.Threshold && !math.IsInf(delta, 0) {
			deltas[side] = delta - m.Threshold
		}
	}
	u := deltas[entity.LEFT] + deltas[entity.RIGHT]
	if u <= 0 {
		return Decision{}, false
	}
	pLC := math.Min(0.9, 0.9*u)
	if !in.Ego.Rand.PTrue(pLC) {
		return Decision{}, false
	}
	side := int(in.Ego.Rand.DiscreteDistribution(deltas[:]))
	return Decision{Side: side, Priority: entity.LCSpeedGain}, true
}
