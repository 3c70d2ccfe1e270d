package entity

import (
	"fmt"
	"strconv"
)

// VehicleState 车辆生命周期状态
// Pending -> Inserted -> Running -> Arrived -> Removed
type VehicleState int32

const (
	VehiclePending  VehicleState = iota // 等待出发
	VehicleInserted                     // 本步刚进入路网
	VehicleRunning                      // 行驶中
	VehicleArrived                      // 本步到达终点
	VehicleRemoved                      // 已移出仿真
)

func (s VehicleState) String() string {
	switch s {
	case VehiclePending:
		return "pending"
	case VehicleInserted:
		return "inserted"
	case VehicleRunning:
		return "running"
	case VehicleArrived:
		return "arrived"
	case VehicleRemoved:
		return "removed"
	default:
		return fmt.Sprintf("VehicleState(%d)", int32(s))
	}
}

// OnRoad 车辆是否在路网中
func (s VehicleState) OnRoad() bool {
	return s == VehicleInserted || s == VehicleRunning
}

// VehicleClass 车辆类别，用于车道通行权限
type VehicleClass string

const (
	ClassPassenger VehicleClass = "passenger"
	ClassBus       VehicleClass = "bus"
	ClassTruck     VehicleClass = "truck"
	ClassBicycle   VehicleClass = "bicycle"
	ClassEmergency VehicleClass = "emergency"
	ClassRail      VehicleClass = "rail"
)

// RoadClasses 行车道默认允许的类别
var RoadClasses = []VehicleClass{ClassPassenger, ClassBus, ClassTruck, ClassBicycle, ClassEmergency}

// ParseVehicleClass 解析车辆类别，空字符串视为小汽车
func ParseVehicleClass(s string) (VehicleClass, error) {
	if s == "" {
		return ClassPassenger, nil
	}
	c := VehicleClass(s)
	switch c {
	case ClassPassenger, ClassBus, ClassTruck, ClassBicycle, ClassEmergency, ClassRail:
		return c, nil
	}
	return "", fmt.Errorf("unknown vehicle class %q", s)
}

// JunctionKind 路口类型
type JunctionKind int32

const (
	JunctionPriority     JunctionKind = iota // 无控优先路口
	JunctionTrafficLight                     // 信号控制路口
	JunctionAllWayStop                       // 全向停车路口
	JunctionRailSignal                       // 轨道闭塞信号
)

func (k JunctionKind) String() string {
	switch k {
	case JunctionPriority:
		return "priority"
	case JunctionTrafficLight:
		return "traffic_light"
	case JunctionAllWayStop:
		return "all_way_stop"
	case JunctionRailSignal:
		return "rail_signal"
	default:
		return fmt.Sprintf("JunctionKind(%d)", int32(k))
	}
}

// Request 路口通行请求
type Request struct {
	Vehicle     IVehicle
	Link        ILane   // 请求进入的连接车道
	Dist        float64 // 本步规划结束时车头到停止线的距离
	V           float64 // 本步规划结束时速度
	ArrivalTime float64 // 预计到达停止线的时刻，停车等待的车辆为开始等待的时刻
	CanStop     bool    // 能否以舒适减速度在停止线前停车
	Stopped     bool    // 是否已停在停止线前
	Holding     bool    // 是否已持有该连接的许可
}

// DepartLane 出发车道策略
type DepartLane struct {
	Policy string // first|random|free|best|index
	Index  int
}

// ParseDepartLane 解析出发车道策略，默认best
func ParseDepartLane(s string) (DepartLane, error) {
	switch s {
	case "":
		return DepartLane{Policy: "best"}, nil
	case "first", "random", "free", "best":
		return DepartLane{Policy: s}, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return DepartLane{}, fmt.Errorf("bad depart lane %q", s)
	}
	return DepartLane{Policy: "index", Index: i}, nil
}
