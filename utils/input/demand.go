package input

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/graph/simple"
)

// ModelSpec 模型选择与参数
type ModelSpec struct {
	Model  string             `yaml:"model,omitempty"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// VehicleTypeSpec 车辆类型定义
type VehicleTypeSpec struct {
	ID             string    `yaml:"id"`
	Class          string    `yaml:"class,omitempty"`
	Length         float64   `yaml:"length,omitempty"`
	MinGap         float64   `yaml:"min_gap,omitempty"`
	MaxSpeed       float64   `yaml:"max_speed,omitempty"`
	SpeedFactor    float64   `yaml:"speed_factor,omitempty"`
	SpeedDev       float64   `yaml:"speed_dev,omitempty"`
	Accel          float64   `yaml:"accel,omitempty"`
	Decel          float64   `yaml:"decel,omitempty"`
	EmergencyDecel float64   `yaml:"emergency_decel,omitempty"`
	CarFollowing   ModelSpec `yaml:"car_following,omitempty"`
	LaneChange     ModelSpec `yaml:"lane_change,omitempty"`
}

// VehicleSpec 单车出行定义
// 说明：Route为空时由路由器根据From/To计算路径
type VehicleSpec struct {
	ID            int32   `yaml:"id"`
	Type          string  `yaml:"type"`
	Depart        float64 `yaml:"depart"`
	Route         []int32 `yaml:"route,omitempty"`
	From          int32   `yaml:"from,omitempty"`
	To            int32   `yaml:"to,omitempty"`
	DepartLane    string  `yaml:"depart_lane,omitempty"`  // first|random|free|best|<index>
	DepartPos     string  `yaml:"depart_pos,omitempty"`   // base|random|free|<meters>
	DepartSpeed   string  `yaml:"depart_speed,omitempty"` // max|desired|<m/s>
	ArrivalPos    string  `yaml:"arrival_pos,omitempty"`  // max|<meters>
	ReroutePeriod float64 `yaml:"reroute_period,omitempty"`
}

// FlowSpec 车流定义，按固定间隔展开为车辆，车辆ID从ID开始递增
type FlowSpec struct {
	VehicleSpec `yaml:",inline"`
	End         float64 `yaml:"end"`
	Period      float64 `yaml:"period,omitempty"`
	Number      int32   `yaml:"number,omitempty"`
}

// WalkSegmentSpec 行人路径段
type WalkSegmentSpec struct {
	Lane      int32  `yaml:"lane"`
	Direction string `yaml:"direction,omitempty"` // forward|backward，默认forward
}

// Backward 是否逆车道方向行走
func (s WalkSegmentSpec) Backward() bool {
	return s.Direction == "backward"
}

// PersonSpec 行人出行定义
type PersonSpec struct {
	ID     int32             `yaml:"id"`
	Depart float64           `yaml:"depart"`
	Speed  float64           `yaml:"speed,omitempty"`
	Route  []WalkSegmentSpec `yaml:"route"`
}

// Demand 出行需求
type Demand struct {
	VehicleTypes []VehicleTypeSpec `yaml:"vtypes"`
	Vehicles     []VehicleSpec     `yaml:"vehicles,omitempty"`
	Flows        []FlowSpec        `yaml:"flows,omitempty"`
	Persons      []PersonSpec      `yaml:"persons,omitempty"`
}

// Expand 展开车流
// 功能：将车流展开为单车定义，并与单车定义合并
// 返回：按(出发时间, ID)排序的全部车辆
// 算法说明：
// 1. Period>0时按间隔出发，否则按Number在[Depart, End)内均匀出发
// 2. 车辆ID为车流ID加上序号
func (d *Demand) Expand() []VehicleSpec {
	res := append([]VehicleSpec{}, d.Vehicles...)
	for _, f := range d.Flows {
		period := f.Period
		if period <= 0 && f.Number > 0 {
			period = (f.End - f.Depart) / float64(f.Number)
		}
		if period <= 0 {
			continue
		}
		for k := int32(0); ; k++ {
			t := f.Depart + float64(k)*period
			if t >= f.End || (f.Number > 0 && k >= f.Number) {
				break
			}
			v := f.VehicleSpec
			v.ID = f.ID + k
			v.Depart = t
			v.Route = append([]int32{}, f.Route...)
			res = append(res, v)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Depart != res[j].Depart {
			return res[i].Depart < res[j].Depart
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// Validate 检查出行需求与路网的一致性
// 功能：检查类型与ID唯一性、引用存在性、路径连通性
// 参数：n-已校验的路网
// 返回：第一个错误（包装ErrInvalidDemand或ErrInvalidRoute）
func (d *Demand) Validate(n *Network) error {
	types := make(map[string]struct{}, len(d.VehicleTypes))
	for _, t := range d.VehicleTypes {
		if t.ID == "" {
			return fmt.Errorf("%w: vehicle type without id", ErrInvalidDemand)
		}
		if _, ok := types[t.ID]; ok {
			return fmt.Errorf("%w: duplicate vehicle type %q", ErrInvalidDemand, t.ID)
		}
		types[t.ID] = struct{}{}
	}
	for _, f := range d.Flows {
		if f.End <= f.Depart {
			return fmt.Errorf("%w: flow %d ends at %v before it begins at %v", ErrInvalidDemand, f.ID, f.End, f.Depart)
		}
		if f.Period <= 0 && f.Number <= 0 {
			return fmt.Errorf("%w: flow %d needs period or number", ErrInvalidDemand, f.ID)
		}
	}
	g := n.EdgeGraph()
	ids := make(map[int32]struct{})
	for _, v := range d.Expand() {
		if _, ok := ids[v.ID]; ok {
			return fmt.Errorf("%w: duplicate vehicle id %d", ErrInvalidDemand, v.ID)
		}
		ids[v.ID] = struct{}{}
		if _, ok := types[v.Type]; !ok {
			return fmt.Errorf("%w: vehicle %d has unknown type %q", ErrInvalidDemand, v.ID, v.Type)
		}
		if v.Depart < 0 || math.IsNaN(v.Depart) {
			return fmt.Errorf("%w: vehicle %d has bad depart time %v", ErrInvalidDemand, v.ID, v.Depart)
		}
		if len(v.Route) == 0 {
			if g.Node(int64(v.From)) == nil || g.Node(int64(v.To)) == nil {
				return fmt.Errorf("%w: vehicle %d has no route and bad from/to %d/%d", ErrInvalidRoute, v.ID, v.From, v.To)
			}
			continue
		}
		if err := ValidateRoute(g, v.Route); err != nil {
			return fmt.Errorf("vehicle %d: %w", v.ID, err)
		}
	}
	lanes := lo.SliceToMap(n.Lanes, func(l LaneSpec) (int32, LaneSpec) {
		return l.ID, l
	})
	personIDs := make(map[int32]struct{}, len(d.Persons))
	for _, p := range d.Persons {
		if _, ok := personIDs[p.ID]; ok {
			return fmt.Errorf("%w: duplicate person id %d", ErrInvalidDemand, p.ID)
		}
		personIDs[p.ID] = struct{}{}
		if len(p.Route) == 0 {
			return fmt.Errorf("%w: person %d has empty route", ErrInvalidRoute, p.ID)
		}
		for i, seg := range p.Route {
			l, ok := lanes[seg.Lane]
			if !ok || l.Type != "walking" {
				return fmt.Errorf("%w: person %d segment %d uses non-walking lane %d", ErrInvalidRoute, p.ID, i, seg.Lane)
			}
			if i == 0 {
				continue
			}
			prev := p.Route[i-1]
			if !walkConnected(lanes[prev.Lane], prev.Backward(), seg.Lane) {
				return fmt.Errorf("%w: person %d segments %d and %d are not connected", ErrInvalidRoute, p.ID, i-1, i)
			}
		}
	}
	return nil
}

// walkConnected 人行道在行进方向末端是否与下一段相连
func walkConnected(prev LaneSpec, backward bool, next int32) bool {
	if backward {
		return lo.Contains(prev.Predecessors, next)
	}
	return lo.Contains(prev.Successors, next)
}

// ValidateRoute 检查道路序列在道路连通图上连续
func ValidateRoute(g *simple.DirectedGraph, route []int32) error {
	for i, id := range route {
		if g.Node(int64(id)) == nil {
			return fmt.Errorf("%w: unknown edge %d", ErrInvalidRoute, id)
		}
		if i > 0 && !g.HasEdgeFromTo(int64(route[i-1]), int64(id)) {
			return fmt.Errorf("%w: edge %d does not lead to edge %d", ErrInvalidRoute, route[i-1], id)
		}
	}
	return nil
}
