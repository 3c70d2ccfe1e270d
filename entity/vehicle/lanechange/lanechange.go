// Package lanechange 变道决策模型
// 模型只根据本车与周边车辆的快照状态给出变道意图，
// 目标车道上的最终安全检查与冲突消解在仿真的变道阶段进行
package lanechange

import (
	"errors"
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/carfollow"
)

var (
	ErrUnknownModel = errors.New("unknown lane-change model")
)

const (
	lcLengthFactor     = 5  // 变道长度与当前车速的关系（即几秒完成变道）
	lcSafeBrakingABias = 1  // 目标车道后车可接受的减速度与舒适减速度之差
	lcLaneEnd          = 20 // 车道最末端禁止主动变道的距离
)

// Neighbor 周边车辆
// 说明：Gap为净车距（已扣除后方车辆的最小间距），不存在时Exists=false
type Neighbor struct {
	Exists bool
	Gap    float64
	V      float64
}

// leaderOrFree 不存在时视为无穷远
func (n Neighbor) leaderOrFree() (gap, v float64) {
	if !n.Exists {
		return mathutil.INF, mathutil.INF
	}
	return n.Gap, n.V
}

// Side 一侧相邻车道的环境
type Side struct {
	Lane     entity.ILane // 相邻车道，为nil表示不可变道
	MaxV     float64      // 相邻车道限速
	Leader   Neighbor     // 变道后的前车
	Follower Neighbor     // 变道后的后车，Gap为本车车尾到后车车头的净距
	InBest   bool         // 相邻车道是否能沿路径继续行驶
}

// Input 变道决策输入
type Input struct {
	Ego   *carfollow.Ego
	CF    carfollow.Model
	Now   float64
	State *State

	Length   float64 // 本车长度
	MaxV     float64 // 当前车道限速
	Leader   Neighbor
	Follower Neighbor // 当前车道后车，Gap为本车车尾到后车车头的净距
	Sides    [2]Side  // [LEFT, RIGHT]

	// 战略变道：需要向BestSide变道BestCount次，BestCount为0表示当前车道可沿路径行驶
	BestSide  int
	BestCount int
	// 距离必须完成车道选择位置的剩余距离
	DistToEnd float64
}

// State 车辆的变道模型状态
type State struct {
	LastChange    float64    // 上次变道时刻
	Interval      float64    // 本次变道间隔
	SpeedGainProb [2]float64 // LC2013左右两侧的速度收益累积
	KeepRightProb float64    // LC2013靠右行驶意愿累积
}

// NewState 初始化变道状态
func NewState() *State {
	return &State{LastChange: -mathutil.INF}
}

// Decision 变道决策
type Decision struct {
	Side     int
	Priority entity.LCPriority
	Urgency  float64
}

// Model 变道模型接口
type Model interface {
	Name() string
	// SpeedGain 战术（速度收益）变道决策
	SpeedGain(in *Input) (Decision, bool)
}

// New 创建变道模型
// 参数：name-模型名称（mobil|lc2013，空为mobil），params-模型参数
func New(name string, params map[string]float64) (Model, error) {
	get := func(key string, def float64) float64 {
		if v, ok := params[key]; ok {
			return v
		}
		return def
	}
	switch name {
	case "", "mobil":
		m := &MOBIL{Politeness: get("politeness", 0.1), Threshold: get("threshold", 0)}
		if m.Politeness < 0 || m.Politeness > 1 {
			return nil, fmt.Errorf("bad mobil politeness %v", m.Politeness)
		}
		return m, nil
	case "lc2013":
		m := &LC2013{
			SpeedGain:     get("speed_gain", 1),
			KeepRight:     get("keep_right", 1),
			SpeedGainTime: get("speed_gain_time", 5),
			KeepRightTime: get("keep_right_time", 10),
		}
		if m.SpeedGain < 0 || m.KeepRight < 0 || m.SpeedGainTime <= 0 || m.KeepRightTime <= 0 {
			return nil, fmt.Errorf("bad lc2013 params %+v", *m)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// Decide 变道决策主函数
// 功能：根据路径需求与周边环境决定是否提出变道
// 参数：m-变道模型，in-决策输入，remain-到当前车道末端的距离
// 返回：决策与是否变道
// 算法说明：
// 1. 战略变道：当前车道无法沿路径行驶时提出强制变道，紧迫度随剩余距离减小而增大
// 2. 车道末端、变道间隔过短时不进行主动变道
// 3. 主动变道交由变道模型判断
func Decide(m Model, in *Input, remain float64) (Decision, bool) {
	if in.BestCount > 0 {
		if in.Sides[in.BestSide].Lane == nil {
			return Decision{}, false
		}
		lcLength := math.Max(in.Ego.V*lcLengthFactor, in.Length)
		urgency := mathutil.INF
		if in.DistToEnd > 0 {
			urgency = lcLength * float64(in.BestCount) / in.DistToEnd
		}
		return Decision{Side: in.BestSide, Priority: entity.LCMandatory, Urgency: urgency}, true
	}
	if remain < lcLaneEnd {
		return Decision{}, false
	}
	if in.Now-in.State.LastChange < in.State.Interval {
		return Decision{}, false
	}
	if in.Sides[entity.LEFT].Lane == nil && in.Sides[entity.RIGHT].Lane == nil {
		return Decision{}, false
	}
	return m.SpeedGain(in)
}

// Committed 记录一次变道，抽取下一次的最小间隔
func Committed(in *Input) {
	in.State.LastChange = in.Now
	in.State.Interval = in.Ego.Rand.Float64()*2 + 4
	in.State.SpeedGainProb = [2]float64{}
	in.State.KeepRightProb = 0
}

// accel 以本车参数推断车辆在给定前车下的加速度
func accel(in *Input, v float64, gap, leaderV float64, hasLeader bool, maxV float64) float64 {
	ego := *in.Ego
	ego.V = v
	return carfollow.Acceleration(in.CF, &ego, gap, leaderV, hasLeader, maxV)
}

// followerSafe 目标车道后车在本车切入后是否需要超过可接受减速度的制动
func followerSafe(in *Input, side Side, bias float64) bool {
	if !side.Follower.Exists {
		return true
	}
	if side.Follower.Gap < 0 {
		return false
	}
	a := accel(in, side.Follower.V, side.Follower.Gap, in.Ego.V, true, side.MaxV)
	return a >= -in.Ego.Decel+bias
}
