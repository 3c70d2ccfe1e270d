package trafficlight

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/microsim/entity"
)

// localTlRuntime 本地信号灯运行时数据结构
// 功能：存储固定相位信号灯的运行时状态，包括程序、相位索引、时间控制等
type localTlRuntime struct {
	tl           *mapv2.TrafficLight
	tlStep       int32
	tlTotalTime  float64
	tlRemainingT float64
}

// localTrafficLight 本地固定相位信号灯控制器
// 功能：实现基于固定程序的信号灯控制，按照预设的相位顺序和时间进行切换
type localTrafficLight struct {
	JunctionID int32                            // 所属junction ID
	lanes      []entity.ILaneTrafficLightSetter // 信号车道，与相位状态逐一对应

	timeBeforeChange [][]float64     // [车道][相位]该相位结束后信号状态保持不变的时长
	snapshot         localTlRuntime  // snapshot，用于保存输出的数据
	runtime          localTlRuntime  // 运行时数据
	buffer           *localTlRuntime // 数据buffer，用于交互式接口写入(optional)
	ok               bool            // 信号灯状态，true为开启，false为关闭
	okBuffer         bool            // 信号灯状态buffer，用于交互式接口写入
}

// NewLocalTrafficLight 创建固定相位信号灯控制器
// 功能：初始化本地信号灯控制器，设置基础参数和车道映射
// 参数：junctionID-路口ID，lanes-信号车道列表
// 返回：初始化完成的本地信号灯控制器实例
func NewLocalTrafficLight(junctionID int32, lanes []entity.ILaneTrafficLightSetter) *localTrafficLight {
	return &localTrafficLight{
		JunctionID: junctionID,
		lanes:      lanes,
		ok:         true,
		okBuffer:   true,
	}
}

// Prepare 准备阶段
// 功能：应用交互式接口写入的buffer，更新snapshot，并将当前相位写入车道
// 说明：没有信号灯程序或信号灯关闭时所有车道为绿灯
func (l *localTrafficLight) Prepare() {
	l.ok = l.okBuffer
	l.applyBuffer()
	l.snapshot = l.runtime
	if l.snapshot.tl == nil || !l.ok {
		for _, lane := range l.lanes {
			lane.SetLight(mapv2.LightState_LIGHT_STATE_GREEN, mathutil.INF, mathutil.INF)
		}
		return
	}
	p := l.snapshot.tl.Phases[l.snapshot.tlStep]
	for i, lane := range l.lanes {
		lane.SetLight(
			p.States[i],
			l.snapshot.tlTotalTime+l.timeBeforeChange[i][l.snapshot.tlStep],
			l.snapshot.tlRemainingT+l.timeBeforeChange[i][l.snapshot.tlStep],
		)
	}
}

// applyBuffer 应用buffer中的程序与相位
// 算法说明：
// 1. 对每条车道从后往前累计相邻相位状态相同的时长
// 2. 所有相位状态都相同的车道时长为无穷大
// 3. 首尾相位状态相同时，尾部相位的时长需要加上首部连续相同状态的时长（循环）
func (l *localTrafficLight) applyBuffer() {
	if l.buffer == nil {
		return
	}
	l.runtime = *l.buffer
	l.buffer = nil
	l.timeBeforeChange = l.timeBeforeChange[:0]
	if l.runtime.tl == nil {
		return
	}
	if l.runtime.tlTotalTime == 0 {
		l.runtime.tlTotalTime = l.runtime.tlRemainingT
	}
	phases := l.runtime.tl.Phases
	numPhases := len(phases)
	for laneIndex := range l.lanes {
		time := make([]float64, numPhases)
		allTheSame := true
		for phaseIndex := numPhases - 2; phaseIndex >= 0; phaseIndex-- {
			next := phases[phaseIndex+1]
			if next.States[laneIndex] == phases[phaseIndex].States[laneIndex] {
				time[phaseIndex] = time[phaseIndex+1] + next.Duration
			} else {
				allTheSame = false
			}
		}
		if allTheSame {
			for idx := range time {
				time[idx] = mathutil.INF
			}
		} else if phases[numPhases-1].States[laneIndex] == phases[0].States[laneIndex] {
			// 尾部连续相同状态的相位加上首部相位及其后连续相同状态的时长
			t0 := time[0] + phases[0].Duration
			state := phases[0].States[laneIndex]
			for phaseIndex := numPhases - 1; phaseIndex >= 0; phaseIndex-- {
				if phases[phaseIndex].States[laneIndex] != state {
					break
				}
				time[phaseIndex] += t0
			}
		}
		l.timeBeforeChange = append(l.timeBeforeChange, time)
	}
}

// Update 更新阶段，按程序推进相位
// 参数：dt-时间步长
func (l *localTrafficLight) Update(dt float64) {
	if l.runtime.tl == nil || !l.ok {
		return
	}
	l.runtime.tlRemainingT -= dt
	if l.runtime.tlRemainingT <= 0 {
		l.runtime.tlTotalTime = 0
		for {
			l.runtime.tlStep = (l.runtime.tlStep + 1) % int32(len(l.runtime.tl.Phases))
			l.runtime.tlRemainingT += l.runtime.tl.Phases[l.runtime.tlStep].Duration
			if l.runtime.tlRemainingT > 0 {
				l.runtime.tlTotalTime = l.runtime.tl.Phases[l.runtime.tlStep].Duration
				break
			}
		}
	}
}

// Get 获取当前信号灯程序
func (l *localTrafficLight) Get() *mapv2.TrafficLight {
	return l.snapshot.tl
}

// Set 设置信号灯程序
// 功能：校验程序后写入buffer，下一步准备阶段生效，从第0相位开始
// 参数：tl-信号灯程序
// 返回：程序与路口或信号车道不匹配时返回错误
func (l *localTrafficLight) Set(tl *mapv2.TrafficLight) error {
	if tl.JunctionId != l.JunctionID {
		return fmt.Errorf("set junction %d with wrong traffic light id %d", l.JunctionID, tl.JunctionId)
	}
	if len(l.lanes) == 0 {
		return fmt.Errorf("no lane data in junction %d", l.JunctionID)
	}
	if len(tl.Phases) == 0 {
		return fmt.Errorf("set with empty traffic light")
	}
	total := 0.0
	for _, p := range tl.Phases {
		if len(p.States) != len(l.lanes) {
			return fmt.Errorf("number of lanes %d and traffic light states %d does not match", len(l.lanes), len(p.States))
		}
		if p.Duration < 0 {
			return fmt.Errorf("negative phase duration %v", p.Duration)
		}
		total += p.Duration
	}
	if total <= 0 {
		return fmt.Errorf("traffic light cycle of junction %d has zero length", l.JunctionID)
	}
	l.buffer = &localTlRuntime{tl: tl, tlStep: 0, tlRemainingT: tl.Phases[0].Duration}
	return nil
}

// Unset 取消信号灯程序（全绿），下一步准备阶段生效
func (l *localTrafficLight) Unset() {
	l.buffer = &localTlRuntime{}
}

// SetPhase 设置当前相位与剩余时间，下一步准备阶段生效
// 说明：已有待生效的程序时修改该程序的相位
func (l *localTrafficLight) SetPhase(offset int32, remainingT float64) error {
	tl := l.runtime.tl
	if l.buffer != nil {
		tl = l.buffer.tl
	}
	if tl == nil {
		return fmt.Errorf("junction %d has no traffic light program", l.JunctionID)
	}
	if offset < 0 || int(offset) >= len(tl.Phases) {
		return fmt.Errorf("phase index %d out of range [0, %d)", offset, len(tl.Phases))
	}
	if l.buffer != nil {
		l.buffer.tlStep = offset
		l.buffer.tlRemainingT = remainingT
		l.buffer.tlTotalTime = 0
	} else {
		l.buffer = &localTlRuntime{tl: tl, tlStep: offset, tlRemainingT: remainingT}
	}
	return nil
}

// SetOk 设置信号灯开关（true信控工作|false信控失效-全绿）
func (l *localTrafficLight) SetOk(ok bool) {
	l.okBuffer = ok
}

// Step 当前相位索引
func (l *localTrafficLight) Step() int32 {
	return l.snapshot.tlStep
}

// RemainingTime 当前相位剩余时间
func (l *localTrafficLight) RemainingTime() float64 {
	return l.snapshot.tlRemainingT
}

func (l *localTrafficLight) Ok() bool {
	return l.ok
}
