package trafficlight

import (
	"testing"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/entity"
)

const (
	g = mapv2.LightState_LIGHT_STATE_GREEN
	y = mapv2.LightState_LIGHT_STATE_YELLOW
	r = mapv2.LightState_LIGHT_STATE_RED
)

type fakeLane struct {
	pressure  float64
	walk      bool
	state     mapv2.LightState
	remaining float64
}

func (l *fakeLane) GetPressure() float64 { return l.pressure }
func (l *fakeLane) SetLight(state mapv2.LightState, total, remaining float64) {
	l.state, l.remaining = state, remaining
}
func (l *fakeLane) IsWalkLane() bool             { return l.walk }
func (l *fakeLane) IsRightTurnDrivingLane() bool { return false }

func states(lanes []*fakeLane) []mapv2.LightState {
	res := make([]mapv2.LightState, len(lanes))
	for i, l := range lanes {
		res[i] = l.state
	}
	return res
}

func TestMaxPressureSwitchesThroughTransitions(t *testing.T) {
	// 南北车道，东西车道，与南北同相位的人行横道
	lanes := []*fakeLane{{}, {pressure: 10}, {walk: true}}
	setters := []entity.ILaneTrafficLightSetter{lanes[0], lanes[1], lanes[2]}
	tl := NewMaxPressureTrafficLight(1, setters, [][]mapv2.LightState{{g, r, g}, {r, g, r}})

	tl.Prepare()
	assert.Equal(t, []mapv2.LightState{g, r, g}, states(lanes))

	steps := []struct {
		dt     float64
		states []mapv2.LightState
		step   int32
	}{
		{1, []mapv2.LightState{g, r, y}, -1}, // 行人清空
		{4, []mapv2.LightState{y, r, y}, -1}, // 黄灯
		{3, []mapv2.LightState{r, r, r}, -1}, // 全红
		{3, []mapv2.LightState{r, g, r}, 1},
	}
	for i, s := range steps {
		tl.Update(s.dt)
		tl.Prepare()
		assert.Equal(t, s.states, states(lanes), "step %d", i)
		assert.Equal(t, s.step, tl.Step(), "step %d", i)
	}
	assert.InDelta(t, *phaseTime, lanes[1].remaining, 1e-9)
	pb := tl.Get()
	require.Len(t, pb.Phases, 1)
	assert.Equal(t, []mapv2.LightState{r, g, r}, pb.Phases[0].States)
}

func TestMaxPressureRepeatLimit(t *testing.T) {
	lanes := []*fakeLane{{pressure: 10}, {}}
	tl := NewMaxPressureTrafficLight(1, []entity.ILaneTrafficLightSetter{lanes[0], lanes[1]}, [][]mapv2.LightState{{g, r}, {r, g}})
	tl.Prepare()
	// 首次结束时延长，之后每个相位时间延长一次，达到次数后切换
	for range *maxRepeatCount {
		tl.Update(*phaseTime)
		assert.Equal(t, int32(0), tl.Step())
	}
	tl.Update(*phaseTime)
	assert.Equal(t, int32(-1), tl.Step())
	assert.Equal(t, 1, tl.next)
}

func TestMaxPressureDisabled(t *testing.T) {
	lane := &fakeLane{}
	tl := NewMaxPressureTrafficLight(1, []entity.ILaneTrafficLightSetter{lane}, [][]mapv2.LightState{{r}})
	tl.Prepare()
	assert.Equal(t, g, lane.state)
	assert.Nil(t, tl.Get())
	assert.ErrorIs(t, tl.Set(&mapv2.TrafficLight{}), ErrMaxPressure)

	tl = NewMaxPressureTrafficLight(1, []entity.ILaneTrafficLightSetter{lane}, [][]mapv2.LightState{{r}, {g}})
	tl.SetOk(false)
	tl.Prepare()
	assert.False(t, tl.Ok())
	assert.Equal(t, g, lane.state)
}
