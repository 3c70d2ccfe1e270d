// 最大压力信号控制
// 每个绿灯相位结束时重新计算各候选相位的压力，选取压力最大的相位，相位之间插入过渡相位
package trafficlight

import (
	"cmp"
	"errors"
	"flag"
	"slices"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
)

var (
	yellowTime          = flag.Float64("tl.mp_yellow_time", 3, "最大压力法黄灯时间")
	pedestrianClearTime = flag.Float64("tl.mp_pedestrian_clear_time", 5, "最大压力法行人清空时间")
	allRedTime          = flag.Float64("tl.mp_all_red_time", 3, "最大压力法全红时间")
	phaseTime           = flag.Float64("tl.mp_phase_time", 15, "最大压力法相位时间")
	maxRepeatCount      = flag.Int("tl.mp_max_repeat_count", 6, "最大压力法每个相位最多重复的次数")
)

var (
	ErrMaxPressure = errors.New("mp: cannot set traffic light with traffic light algorithm")
)

// interval 过渡相位
type interval struct {
	states   []mapv2.LightState
	duration float64
}

// mpTrafficLight 最大压力信号控制器
type mpTrafficLight struct {
	junctionID int32
	lanes      []entity.ILaneTrafficLightSetter // 信号车道，与相位状态逐一对应
	phases     [][]mapv2.LightState             // 候选相位，少于两个时不做信控

	current   int        // 当前（或过渡结束后将离开的）候选相位
	next      int        // 过渡结束后进入的候选相位
	repeat    int        // 当前相位连续延长的次数
	pending   []interval // 尚未结束的过渡相位，第一个为正在显示的相位
	total     float64    // 正在显示的相位总时长
	remaining float64    // 正在显示的相位剩余时长

	snapshotRemaining float64
	ok, okBuffer      bool
}

// NewMaxPressureTrafficLight 创建最大压力信号控制器
// 参数：junctionID-路口ID，lanes-信号车道，phases-候选相位
func NewMaxPressureTrafficLight(junctionID int32, lanes []entity.ILaneTrafficLightSetter, phases [][]mapv2.LightState) *mpTrafficLight {
	return &mpTrafficLight{
		junctionID: junctionID,
		lanes:      lanes,
		phases:     phases,
		ok:         true,
		okBuffer:   true,
	}
}

func (l *mpTrafficLight) active() bool {
	return len(l.phases) >= 2 && l.ok
}

// showing 正在显示的信号状态与随后显示的信号状态
func (l *mpTrafficLight) showing() (cur, after []mapv2.LightState) {
	switch len(l.pending) {
	case 0:
		return l.phases[l.current], nil
	case 1:
		return l.pending[0].states, l.phases[l.next]
	default:
		return l.pending[0].states, l.pending[1].states
	}
}

// Prepare 把正在显示的相位写入车道
// 说明：过渡相位中，随后仍为绿灯的车道会额外加上一个相位时间，便于车辆判断能否通过
func (l *mpTrafficLight) Prepare() {
	l.ok = l.okBuffer
	l.snapshotRemaining = l.remaining
	if !l.active() {
		for _, lane := range l.lanes {
			lane.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, mathutil.INF, mathutil.INF)
		}
		return
	}
	cur, after := l.showing()
	for i, lane := range l.lanes {
		if after != nil && cur[i] == mapv2.LightState_LIGHT_STATE_GREEN && after[i] == mapv2.LightState_LIGHT_STATE_GREEN {
			lane.SetLight(cur[i], l.total+*phaseTime, l.remaining+*phaseTime)
		} else {
			lane.SetLight(cur[i], l.total, l.remaining)
		}
	}
}

// rank 候选相位按压力（绿灯车道压力之和）从大到小排序，压力相同时序号小的优先
func (l *mpTrafficLight) rank() []int {
	pressure := lo.Map(l.lanes, func(lane entity.ILaneTrafficLightSetter, _ int) float64 {
		return lane.GetPressure()
	})
	sums := lo.Map(l.phases, func(phase []mapv2.LightState, _ int) float64 {
		var sum float64
		for j, state := range phase {
			if state == mapv2.LightState_LIGHT_STATE_GREEN {
				sum += pressure[j]
			}
		}
		return sum
	})
	order := lo.Range(len(l.phases))
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(sums[b], sums[a]) })
	return order
}

// transition 从from切换到to所需的过渡相位
// 算法说明：
// 1. 行人清空：由绿转红的人行横道先变黄，其余保持from
// 2. 黄灯：由绿转红的车道全部变黄
// 3. 全红：由红转绿的机动车连接在to之前多保持一段红灯
func transition(from, to []mapv2.LightState, lanes []entity.ILaneTrafficLightSetter) []interval {
	clearing, yellow, allRed := slices.Clone(from), slices.Clone(from), slices.Clone(to)
	hasClear, hasAllRed := false, false
	for i := range from {
		switch {
		case from[i] == mapv2.LightState_LIGHT_STATE_GREEN && to[i] == mapv2.LightState_LIGHT_STATE_RED:
			yellow[i] = mapv2.LightState_LIGHT_STATE_YELLOW
			if lanes[i].IsWalkLane() {
				clearing[i] = mapv2.LightState_LIGHT_STATE_YELLOW
				hasClear = true
			}
		case from[i] == mapv2.LightState_LIGHT_STATE_RED && to[i] == mapv2.LightState_LIGHT_STATE_GREEN && !lanes[i].IsWalkLane():
			allRed[i] = mapv2.LightState_LIGHT_STATE_RED
			hasAllRed = true
		}
	}
	var res []interval
	if hasClear {
		res = append(res, interval{clearing, *pedestrianClearTime})
	}
	res = append(res, interval{yellow, *yellowTime})
	if hasAllRed {
		res = append(res, interval{allRed, *allRedTime})
	}
	return res
}

// Update 推进计时
// 算法说明：
// 1. 过渡相位结束时进入下一个过渡相位，全部结束后进入选中的候选相位
// 2. 候选相位结束时重新排序：压力最大的仍是当前相位且未达到最大延长次数时延长一个相位时间，
// 达到次数时改选压力第二大的相位
// 3. 切换相位时生成过渡相位
func (l *mpTrafficLight) Update(dt float64) {
	if !l.active() {
		return
	}
	l.remaining -= dt
	if l.remaining > 0 {
		return
	}
	switch len(l.pending) {
	case 0:
		order := l.rank()
		best := order[0]
		if best == l.current {
			if l.repeat < *maxRepeatCount {
				l.repeat++
				l.remaining += *phaseTime
				break
			}
			best = order[1]
		}
		l.next, l.repeat = best, 1
		l.pending = transition(l.phases[l.current], l.phases[best], l.lanes)
		l.remaining += l.pending[0].duration
	case 1:
		l.current, l.pending = l.next, nil
		l.remaining += *phaseTime
	default:
		l.pending = l.pending[1:]
		l.remaining += l.pending[0].duration
	}
	if l.remaining <= 0 {
		log.Warnf("traffic light %d remaining time %f <= 0", l.junctionID, l.remaining)
	}
	l.total = l.remaining
}

// Get 以单相位程序的形式返回正在显示的信号状态
func (l *mpTrafficLight) Get() *mapv2.TrafficLight {
	if !l.active() {
		return nil
	}
	cur, _ := l.showing()
	return &mapv2.TrafficLight{
		JunctionId: l.junctionID,
		Phases:     []*mapv2.Phase{{Duration: l.total, States: cur}},
	}
}

func (l *mpTrafficLight) Set(tl *mapv2.TrafficLight) error {
	return ErrMaxPressure
}

// Unset 最大压力信控不支持删除程序，等价于关闭
func (l *mpTrafficLight) Unset() {
	l.okBuffer = false
}

func (l *mpTrafficLight) SetPhase(offset int32, remainingTime float64) error {
	return ErrMaxPressure
}

// SetOk 开关信控，下一步准备阶段生效，关闭时全部绿灯
func (l *mpTrafficLight) SetOk(ok bool) {
	l.okBuffer = ok
}

// Step 当前候选相位的序号，过渡相位中返回-1
func (l *mpTrafficLight) Step() int32 {
	if len(l.pending) > 0 {
		return -1
	}
	return int32(l.current)
}

func (l *mpTrafficLight) RemainingTime() float64 {
	return l.snapshotRemaining
}

func (l *mpTrafficLight) Ok() bool {
	return l.ok
}
