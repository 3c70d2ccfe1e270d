package vehicle

import (
	"errors"
	"fmt"
	"math"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/route"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

var (
	ErrVehicleNotRunning = errors.New("vehicle is not on the road")
)

// 外部控制接口
// 查询返回上一步提交后的状态；设置类指令在下一步准备阶段生效，只作用一步

// running 查找在路网中的车辆
func (m *VehicleManager) running(id int32) (*Vehicle, error) {
	v, err := m.GetOrError(id)
	if err != nil {
		return nil, err
	}
	if !v.state.OnRoad() {
		return nil, fmt.Errorf("%w: vehicle %d is %v", ErrVehicleNotRunning, id, v.state)
	}
	return v, nil
}

// pendingCommand 取得车辆的待生效指令
func (m *VehicleManager) pendingCommand(id int32) *command {
	cmd, ok := m.commands[id]
	if !ok {
		cmd = &command{lane: -1}
		m.commands[id] = cmd
	}
	return cmd
}

// GetSpeed 查询车辆速度
func (m *VehicleManager) GetSpeed(id int32) (float64, error) {
	v, err := m.running(id)
	if err != nil {
		return 0, err
	}
	return v.v, nil
}

// SetSpeed 设置车辆下一步的速度
// 说明：设定速度优先于跟车模型，但车辆仍不会越过前车与没有通行许可的停止线
func (m *VehicleManager) SetSpeed(id int32, speed float64) error {
	if speed < 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("bad speed %v", speed)
	}
	if _, err := m.running(id); err != nil {
		return err
	}
	m.commandMtx.Lock()
	defer m.commandMtx.Unlock()
	m.pendingCommand(id).speed = &speed
	return nil
}

// GetLane 查询车辆所在车道与位置
func (m *VehicleManager) GetLane(id int32) (laneID int32, s float64, err error) {
	v, err := m.running(id)
	if err != nil {
		return 0, 0, err
	}
	return v.lane.ID(), v.s, nil
}

// ChangeLane 要求车辆下一步向所在道路的第index条车道变道（每步最多变一条车道）
func (m *VehicleManager) ChangeLane(id int32, index int) error {
	v, err := m.running(id)
	if err != nil {
		return err
	}
	if !v.lane.InEdge() {
		return fmt.Errorf("vehicle %d is in junction", id)
	}
	if l := v.lane.ParentEdge().Lane(index); l == nil {
		return fmt.Errorf("no lane index %d in edge %d", index, v.lane.ParentID())
	}
	m.commandMtx.Lock()
	defer m.commandMtx.Unlock()
	m.pendingCommand(id).lane = index
	return nil
}

// GetRoute 查询车辆路径（道路ID序列）与当前所在道路的下标
func (m *VehicleManager) GetRoute(id int32) ([]int32, int, error) {
	v, err := m.GetOrError(id)
	if err != nil {
		return nil, 0, err
	}
	if v.route == nil {
		return nil, 0, nil
	}
	return v.route.IDs(), v.cursor, nil
}

// SetRoute 替换车辆路径
// 参数：ids-新路径，必须从车辆当前所在道路开始
func (m *VehicleManager) SetRoute(id int32, ids []int32) error {
	v, err := m.running(id)
	if err != nil {
		return err
	}
	r, err := route.FromIDs(m.ctx.EdgeManager(), ids)
	if err != nil {
		return err
	}
	if err := checkClass(r, v.Class()); err != nil {
		return err
	}
	m.commandMtx.Lock()
	defer m.commandMtx.Unlock()
	m.pendingCommand(id).route = r
	return nil
}

// Reroute 要求车辆下一步按当前路况重新规划到终点的路径
func (m *VehicleManager) Reroute(id int32) error {
	if _, err := m.running(id); err != nil {
		return err
	}
	m.commandMtx.Lock()
	defer m.commandMtx.Unlock()
	m.pendingCommand(id).reroute = true
	return nil
}

// replaceRoute 替换路径
// 功能：新路径必须从当前所在道路开始；在路口内时第二条道路必须是正在驶向的道路
// 说明：持有的路口许可不再通往新路径的下一道路时失效
func (v *Vehicle) replaceRoute(r *route.Route) error {
	cur := v.Edge()
	if r.At(0) != cur {
		return fmt.Errorf("%w: new route starts at edge %d but vehicle is on edge %d", input.ErrInvalidRoute, r.At(0).ID(), cur.ID())
	}
	if v.lane.InJunction() && r.At(1) != v.route.At(v.cursor+1) {
		return fmt.Errorf("%w: vehicle is heading to edge %d in junction", input.ErrInvalidRoute, v.route.At(v.cursor+1).ID())
	}
	if v.grant != nil {
		if out, err := v.grant.UniqueSuccessor(); err != nil || out.ParentEdge() != r.At(1) {
			v.grant = nil
		}
	}
	v.route = r
	v.cursor = 0
	return nil
}

// reroute 按当前路况重新规划从所在道路到终点道路的路径
func (v *Vehicle) reroute() error {
	if v.route.Len()-1 == v.cursor {
		return nil
	}
	start := &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: v.lane.ID(), S: v.s}}
	r, err := v.m.routeBetween(v.Edge(), v.route.Last(), start)
	if err != nil {
		return err
	}
	if err := checkClass(r, v.Class()); err != nil {
		return err
	}
	return v.replaceRoute(r)
}

// 保证Vehicle满足依赖倒置接口
var _ entity.IVehicle = (*Vehicle)(nil)
