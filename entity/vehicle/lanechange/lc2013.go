package lanechange

import (
	"math"

	"github.com/tsinghua-fib-lab/microsim/entity"
)

const (
	lc2013KeepRightSlack = 0.1 // 右侧车道速度不低于当前的(1-slack)时认为可以靠右
)

// LC2013 累积速度收益的变道模型
// 每步比较相邻车道与当前车道的预期速度，收益按时间累积，超过1时提出变道；
// 右侧车道不慢于当前车道时累积靠右意愿
type LC2013 struct {
	SpeedGain     float64 // 速度收益权重
	KeepRight     float64 // 靠右权重
	SpeedGainTime float64 // 收益累积的时间尺度（秒）
	KeepRightTime float64 // 靠右累积的时间尺度（秒）
}

func (m *LC2013) Name() string { return "lc2013" }

// anticipated 车辆在给定车道环境下本步的预期速度
func anticipated(in *Input, leader Neighbor, maxV float64) float64 {
	gap, v := leader.leaderOrFree()
	return math.Max(0, in.Ego.V+accel(in, in.Ego.V, gap, v, leader.Exists, maxV)*in.Ego.DT)
}

// SpeedGain LC2013主动变道决策
// 算法说明：
// 1. 两侧分别累积相对速度收益 (v_side - v_cur)/vmax，无收益时衰减
// 2. 右侧可行驶时累积靠右意愿
// 3. 收益或意愿超过1且目标车道后车安全时提出变道
func (m *LC2013) SpeedGain(in *Input) (Decision, bool) {
	dt := in.Ego.DT
	vCur := anticipated(in, in.Leader, in.MaxV)
	vMax := math.Max(math.Min(in.Ego.MaxV, in.MaxV), 0.1)
	st := in.State
	for _, side := range []int{entity.LEFT, entity.RIGHT} {
		e := in.Sides[side]
		if e.Lane == nil || !e.InBest {
			st.SpeedGainProb[side] = 0
			continue
		}
		gain := (anticipated(in, e.Leader, e.MaxV) - vCur) / vMax
		if gain > 0 {
			st.SpeedGainProb[side] += m.SpeedGain * gain * dt / m.SpeedGainTime * 10
		} else {
			st.SpeedGainProb[side] *= 0.5
		}
	}
	right := in.Sides[entity.RIGHT]
	if right.Lane != nil && right.InBest &&
		anticipated(in, right.Leader, right.MaxV) >= vCur*(1-lc2013KeepRightSlack) {
		st.KeepRightProb += m.KeepRight * dt / m.KeepRightTime
	} else {
		st.KeepRightProb = 0
	}

	best, side := 0.0, -1
	for _, s := range []int{entity.LEFT, entity.RIGHT} {
		if st.SpeedGainProb[s] > 1 && st.SpeedGainProb[s] > best {
			best, side = st.SpeedGainProb[s], s
		}
	}
	if side < 0 && st.KeepRightProb > 1 {
		side = entity.RIGHT
	}
	if side < 0 || !followerSafe(in, in.Sides[side], 0) {
		return Decision{}, false
	}
	return Decision{Side: side, Priority: entity.LCSpeedGain}, true
}
