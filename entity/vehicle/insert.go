package vehicle

import (
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
)

// departPosOn 在出发车道上的车头位置
// 算法说明：
// 1. base：车尾位于车道起点
// 2. random：车身在车道内均匀随机
// 3. free：车道上最大空隙的中点
// 4. 数值：指定位置
// 结果限制在[车长, 车道长度]内
func (v *Vehicle) departPosOn(lane entity.ILane) float64 {
	length, laneLength := v.Length(), lane.Length()
	pos := length
	switch v.departPos.policy {
	case policyRandom:
		if laneLength > length {
			pos = v.rng.Uniform(length, laneLength)
		}
	case policyFree:
		pos = freeGapCenter(lane) + length/2
	case policyValue:
		pos = v.departPos.value
	}
	return lo.Clamp(pos, math.Min(length, laneLength), laneLength)
}

// freeGapCenter 车道上最大空隙（车尾到后车车头之间）的中点，空车道返回车道中点
func freeGapCenter(lane entity.ILane) float64 {
	start, bestLen, bestMid := 0.0, -1.0, lane.Length()/2
	consider := func(end float64) {
		if end-start > bestLen {
			bestLen, bestMid = end-start, (start+end)/2
		}
	}
	for node := lane.FirstVehicle(); node != nil; node = node.Next() {
		consider(node.S - node.L())
		start = node.S + node.Value.MinGap()
	}
	consider(lane.Length())
	return bestMid
}

// departSpeedOn 出发速度与是否允许为满足前车约束降低
func (v *Vehicle) departSpeedOn(lane entity.ILane) (float64, bool) {
	switch v.departSpeed.policy {
	case policyMax:
		return v.limit(lane), true
	case policyDesired:
		return v.limit(lane), false
	default:
		return math.Min(v.departSpeed.value, v.vtype.MaxSpeed), false
	}
}

// tryInsert 尝试进入路网
// 功能：按出发车道、位置与速度策略在路径第一条道路上插入车辆
// 返回：是否成功，失败表示本步重试
func (v *Vehicle) tryInsert() bool {
	edge := v.route.At(0)
	lane := edge.DepartLane(v.departLane, v.Class(), v.route.At(1), v.rng)
	if lane == nil {
		return false
	}
	pos := v.departPosOn(lane)
	speed, reducible := v.departSpeedOn(lane)
	v.ego.V = speed
	node, speed, ok := lane.InsertVehicle(v, pos, speed, reducible)
	if !ok {
		v.ego.V = 0
		return false
	}
	t := v.ctx.Clock().T + v.ctx.Clock().DT
	v.node = node
	v.lane, v.s, v.v, v.a = lane, pos, speed, 0
	v.ego.V = speed
	v.cursor = 0
	v.trail = v.trail[:0]
	v.grant = nil
	v.state = entity.VehicleInserted
	v.inserted = t
	v.lastReroute = t
	return true
}
