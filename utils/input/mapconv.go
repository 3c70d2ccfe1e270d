package input

import (
	"fmt"
	"strings"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
)

// FromMap 将mapv2地图转换为路网
// 功能：把protobuf地图中的车道、道路、路口映射到路网定义
// 参数：m-mapv2地图
// 返回：路网及转换错误
// 算法说明：
// 1. 车道：保留ID、类型、限速、宽度、中心线与前驱后继
// 2. 道路：行车道按地图顺序（从左到右），人行道单独列出
// 3. 路口：行车道作为连接车道，冲突关系来自同路口行车道的重叠，
// 重叠中非自身优先的一方让行；人行道作为人行横道
// 4. 信号：存在固定配时或可用相位的路口为信号路口，相位状态按路口车道顺序编码
func FromMap(m *mapv2.Map) (*Network, error) {
	n := &Network{Map: m}
	laneTypes := make(map[int32]mapv2.LaneType, len(m.Lanes))
	for _, l := range m.Lanes {
		laneTypes[l.Id] = l.Type
		spec := LaneSpec{
			ID:       l.Id,
			Width:    l.Width,
			MaxSpeed: l.MaxSpeed,
			Predecessors: lo.Map(l.Predecessors, func(c *mapv2.LaneConnection, _ int) int32 {
				return c.Id
			}),
			Successors: lo.Map(l.Successors, func(c *mapv2.LaneConnection, _ int) int32 {
				return c.Id
			}),
		}
		switch l.Type {
		case mapv2.LaneType_LANE_TYPE_DRIVING:
			spec.Type = "driving"
		case mapv2.LaneType_LANE_TYPE_WALKING:
			spec.Type = "walking"
		case mapv2.LaneType_LANE_TYPE_RAIL_TRANSIT:
			spec.Type = "rail"
		default:
			return nil, fmt.Errorf("%w: lane %d has type %v", ErrInvalidNetwork, l.Id, l.Type)
		}
		switch l.Turn {
		case mapv2.LaneTurn_LANE_TURN_LEFT:
			spec.Turn = "left"
		case mapv2.LaneTurn_LANE_TURN_RIGHT:
			spec.Turn = "right"
		case mapv2.LaneTurn_LANE_TURN_AROUND:
			spec.Turn = "around"
		}
		if l.CenterLine != nil {
			for _, node := range l.CenterLine.Nodes {
				spec.Shape = append(spec.Shape, Point{X: node.X, Y: node.Y})
			}
		}
		n.Lanes = append(n.Lanes, spec)
	}
	for _, r := range m.Roads {
		e := EdgeSpec{ID: r.Id, Name: r.Name}
		for _, id := range r.LaneIds {
			if laneTypes[id] == mapv2.LaneType_LANE_TYPE_WALKING {
				e.WalkingLanes = append(e.WalkingLanes, id)
			} else {
				e.Lanes = append(e.Lanes, id)
			}
		}
		n.Edges = append(n.Edges, e)
	}
	lanes := lo.SliceToMap(m.Lanes, func(l *mapv2.Lane) (int32, *mapv2.Lane) {
		return l.Id, l
	})
	for _, j := range m.Junctions {
		spec := JunctionSpec{ID: j.Id, Kind: JunctionPriority, Signal: j.LaneIds}
		inJunction := lo.SliceToMap(j.LaneIds, func(id int32) (int32, struct{}) {
			return id, struct{}{}
		})
		for _, id := range j.LaneIds {
			l, ok := lanes[id]
			if !ok {
				return nil, fmt.Errorf("%w: junction %d has unknown lane %d", ErrInvalidNetwork, j.Id, id)
			}
			if l.Type == mapv2.LaneType_LANE_TYPE_WALKING {
				spec.Crossings = append(spec.Crossings, id)
				continue
			}
			link := LinkSpec{Lane: id}
			for _, o := range l.Overlaps {
				other := o.Other.LaneId
				if _, ok := inJunction[other]; !ok || laneTypes[other] == mapv2.LaneType_LANE_TYPE_WALKING {
					continue
				}
				if other == id || lo.Contains(link.Foes, other) {
					continue
				}
				link.Foes = append(link.Foes, other)
				if !o.SelfFirst && !otherYields(lanes[other], id) {
					link.YieldTo = append(link.YieldTo, other)
				}
			}
			spec.Links = append(spec.Links, link)
		}
		symmetrizeFoes(spec.Links)
		if j.FixedProgram != nil && len(j.FixedProgram.Phases) > 0 {
			spec.Kind = JunctionTrafficLight
			for _, p := range j.FixedProgram.Phases {
				spec.Program = append(spec.Program, PhaseSpec{Duration: p.Duration, States: encodeLightStates(p.States)})
			}
		}
		if len(j.Phases) > 0 {
			spec.Kind = JunctionTrafficLight
			for _, p := range j.Phases {
				spec.Phases = append(spec.Phases, encodeLightStates(p.States))
			}
		}
		n.Junctions = append(n.Junctions, spec)
	}
	return n, nil
}

// otherYields 另一条车道是否已经对id让行（只保留单向让行）
func otherYields(other *mapv2.Lane, id int32) bool {
	for _, o := range other.Overlaps {
		if o.Other.LaneId == id && !o.SelfFirst && other.Id < id {
			return true
		}
	}
	return false
}

// symmetrizeFoes 补全对称的冲突关系
func symmetrizeFoes(links []LinkSpec) {
	index := make(map[int32]int, len(links))
	for i, l := range links {
		index[l.Lane] = i
	}
	for i := range links {
		for _, foe := range links[i].Foes {
			j := index[foe]
			if !lo.Contains(links[j].Foes, links[i].Lane) {
				links[j].Foes = append(links[j].Foes, links[i].Lane)
			}
		}
	}
}

func encodeLightStates(states []mapv2.LightState) string {
	var b strings.Builder
	for _, s := range states {
		switch s {
		case mapv2.LightState_LIGHT_STATE_GREEN:
			b.WriteByte('G')
		case mapv2.LightState_LIGHT_STATE_YELLOW:
			b.WriteByte('y')
		default:
			b.WriteByte('r')
		}
	}
	return b.String()
}
