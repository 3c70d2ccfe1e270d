package input

import (
	"errors"
	"fmt"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/graph/simple"
)

var (
	ErrInvalidNetwork = errors.New("invalid network")
	ErrInvalidDemand  = errors.New("invalid demand")
	ErrInvalidRoute   = errors.New("invalid route")
)

// 路口类型
const (
	JunctionPriority     = "priority"
	JunctionTrafficLight = "traffic_light"
	JunctionAllWayStop   = "all_way_stop"
	JunctionRailSignal   = "rail_signal"
)

// Point 折线点
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// LaneSpec 车道定义
type LaneSpec struct {
	ID           int32    `yaml:"id"`
	Type         string   `yaml:"type,omitempty"` // driving|walking|rail，默认driving
	Length       float64  `yaml:"length,omitempty"`
	Width        float64  `yaml:"width,omitempty"`
	MaxSpeed     float64  `yaml:"max_speed"`
	Turn         string   `yaml:"turn,omitempty"`     // straight|left|right|around
	Allow        []string `yaml:"allow,omitempty"`    // 允许的车辆类别，为空表示按车道类型默认
	Disallow     []string `yaml:"disallow,omitempty"` // 禁止的车辆类别
	Shape        []Point  `yaml:"shape,omitempty"`    // 中心线，为空时沿x轴生成直线
	Predecessors []int32  `yaml:"predecessors,omitempty"`
	Successors   []int32  `yaml:"successors,omitempty"`
}

// LaneType 车道类型
func (l *LaneSpec) LaneType() mapv2.LaneType {
	switch l.Type {
	case "", "driving":
		return mapv2.LaneType_LANE_TYPE_DRIVING
	case "walking":
		return mapv2.LaneType_LANE_TYPE_WALKING
	case "rail":
		return mapv2.LaneType_LANE_TYPE_RAIL_TRANSIT
	default:
		return mapv2.LaneType_LANE_TYPE_UNSPECIFIED
	}
}

// LaneTurn 转向类型
func (l *LaneSpec) LaneTurn() mapv2.LaneTurn {
	switch l.Turn {
	case "left":
		return mapv2.LaneTurn_LANE_TURN_LEFT
	case "right":
		return mapv2.LaneTurn_LANE_TURN_RIGHT
	case "around":
		return mapv2.LaneTurn_LANE_TURN_AROUND
	default:
		return mapv2.LaneTurn_LANE_TURN_STRAIGHT
	}
}

// EdgeSpec 道路（边）定义
type EdgeSpec struct {
	ID           int32   `yaml:"id"`
	Name         string  `yaml:"name,omitempty"`
	Lanes        []int32 `yaml:"lanes"`                   // 行车道，从左到右
	WalkingLanes []int32 `yaml:"walking_lanes,omitempty"` // 人行道
}

// LinkSpec 路口内连接车道
type LinkSpec struct {
	Lane    int32   `yaml:"lane"`
	Foes    []int32 `yaml:"foes,omitempty"`     // 冲突连接
	YieldTo []int32 `yaml:"yield_to,omitempty"` // 需要让行的冲突连接（必须是Foes的子集）
}

// PhaseSpec 信号相位，States按路口信号车道顺序逐字符给出：G绿 y黄 r红
type PhaseSpec struct {
	Duration float64 `yaml:"duration"`
	States   string  `yaml:"states"`
}

// JunctionSpec 路口定义
type JunctionSpec struct {
	ID        int32       `yaml:"id"`
	Kind      string      `yaml:"kind,omitempty"` // priority|traffic_light|all_way_stop|rail_signal
	Links     []LinkSpec  `yaml:"links"`
	Crossings []int32     `yaml:"crossings,omitempty"`    // 路口内人行横道
	Signal    []int32     `yaml:"signal_lanes,omitempty"` // 信号车道顺序，默认为Links后接Crossings
	Program   []PhaseSpec `yaml:"program,omitempty"`      // 固定配时方案
	Phases    []string    `yaml:"phases,omitempty"`       // 感应控制的可用相位
}

// SignalLanes 信号状态对应的车道顺序
func (j *JunctionSpec) SignalLanes() []int32 {
	if len(j.Signal) > 0 {
		return j.Signal
	}
	ids := lo.Map(j.Links, func(l LinkSpec, _ int) int32 { return l.Lane })
	return append(ids, j.Crossings...)
}

// DetectorSpec 线圈检测器定义
type DetectorSpec struct {
	ID   int32   `yaml:"id"`
	Lane int32   `yaml:"lane"`
	Pos  float64 `yaml:"pos"`
}

// Network 路网
// 功能：描述车道、道路、路口与检测器，作为仿真的静态输入
// 说明：道路车道之间只能通过路口连接车道相连，每个连接车道有唯一前驱和唯一后继
type Network struct {
	Lanes     []LaneSpec     `yaml:"lanes"`
	Edges     []EdgeSpec     `yaml:"edges"`
	Junctions []JunctionSpec `yaml:"junctions"`
	Detectors []DetectorSpec `yaml:"detectors,omitempty"`

	// 从mapv2地图转换时保留原始地图，供fiblab路由使用
	Map *mapv2.Map `yaml:"-"`
}

// ParseLightStates 将相位字符串转换为信号灯状态
func ParseLightStates(states string) ([]mapv2.LightState, error) {
	res := make([]mapv2.LightState, 0, len(states))
	for i, c := range states {
		switch c {
		case 'G', 'g':
			res = append(res, mapv2.LightState_LIGHT_STATE_GREEN)
		case 'y', 'Y':
			res = append(res, mapv2.LightState_LIGHT_STATE_YELLOW)
		case 'r', 'R':
			res = append(res, mapv2.LightState_LIGHT_STATE_RED)
		default:
			return nil, fmt.Errorf("bad light state %q at %d in %q", c, i, states)
		}
	}
	return res, nil
}

// Validate 检查路网的结构约束
// 功能：检查ID唯一性、引用完整性和拓扑约束
// 返回：第一个违反约束的错误（包装ErrInvalidNetwork）
// 算法说明：
// 1. 车道ID唯一、类型合法、长度与限速为正
// 2. 前驱后继互相对应，构成有向图
// 3. 道路车道不得直接相连，只能通过路口连接车道相连
// 4. 路口连接车道有唯一前驱和唯一后继，且都是道路车道
// 5. 每条道路的上游和下游路口唯一
// 6. 冲突关系对称，让行关系是冲突关系的子集
func (n *Network) Validate() error {
	lanes := make(map[int32]*LaneSpec, len(n.Lanes))
	g := simple.NewDirectedGraph()
	for i := range n.Lanes {
		l := &n.Lanes[i]
		if _, ok := lanes[l.ID]; ok {
			return fmt.Errorf("%w: duplicate lane id %d", ErrInvalidNetwork, l.ID)
		}
		if l.LaneType() == mapv2.LaneType_LANE_TYPE_UNSPECIFIED {
			return fmt.Errorf("%w: lane %d has unknown type %q", ErrInvalidNetwork, l.ID, l.Type)
		}
		if l.Length <= 0 && len(l.Shape) < 2 {
			return fmt.Errorf("%w: lane %d has neither positive length nor shape", ErrInvalidNetwork, l.ID)
		}
		if l.MaxSpeed <= 0 {
			return fmt.Errorf("%w: lane %d has non-positive max speed %v", ErrInvalidNetwork, l.ID, l.MaxSpeed)
		}
		lanes[l.ID] = l
		g.AddNode(simple.Node(l.ID))
	}
	for _, l := range n.Lanes {
		for _, id := range l.Successors {
			succ, ok := lanes[id]
			if !ok {
				return fmt.Errorf("%w: lane %d has unknown successor %d", ErrInvalidNetwork, l.ID, id)
			}
			if !lo.Contains(succ.Predecessors, l.ID) {
				return fmt.Errorf("%w: lane %d lists successor %d which does not list it as predecessor", ErrInvalidNetwork, l.ID, id)
			}
			if id == l.ID {
				return fmt.Errorf("%w: lane %d connects to itself", ErrInvalidNetwork, l.ID)
			}
			g.SetEdge(simple.Edge{F: simple.Node(l.ID), T: simple.Node(id)})
		}
		for _, id := range l.Predecessors {
			if _, ok := lanes[id]; !ok {
				return fmt.Errorf("%w: lane %d has unknown predecessor %d", ErrInvalidNetwork, l.ID, id)
			}
			if !g.HasEdgeFromTo(int64(id), int64(l.ID)) {
				return fmt.Errorf("%w: lane %d lists predecessor %d which does not list it as successor", ErrInvalidNetwork, l.ID, id)
			}
		}
	}

	owner := make(map[int32]string, len(n.Lanes))
	edgeOf := make(map[int32]int32)
	edgeIDs := make(map[int32]struct{}, len(n.Edges))
	for _, e := range n.Edges {
		if _, ok := edgeIDs[e.ID]; ok {
			return fmt.Errorf("%w: duplicate edge id %d", ErrInvalidNetwork, e.ID)
		}
		edgeIDs[e.ID] = struct{}{}
		if len(e.Lanes) == 0 && len(e.WalkingLanes) == 0 {
			return fmt.Errorf("%w: edge %d has no lane", ErrInvalidNetwork, e.ID)
		}
		for _, id := range e.Lanes {
			l, ok := lanes[id]
			if !ok {
				return fmt.Errorf("%w: edge %d has unknown lane %d", ErrInvalidNetwork, e.ID, id)
			}
			if l.LaneType() == mapv2.LaneType_LANE_TYPE_WALKING {
				return fmt.Errorf("%w: edge %d lists walking lane %d as driving lane", ErrInvalidNetwork, e.ID, id)
			}
			if o, ok := owner[id]; ok {
				return fmt.Errorf("%w: lane %d belongs to both %s and edge %d", ErrInvalidNetwork, id, o, e.ID)
			}
			owner[id] = fmt.Sprintf("edge %d", e.ID)
			edgeOf[id] = e.ID
		}
		for _, id := range e.WalkingLanes {
			l, ok := lanes[id]
			if !ok || l.LaneType() != mapv2.LaneType_LANE_TYPE_WALKING {
				return fmt.Errorf("%w: edge %d has bad walking lane %d", ErrInvalidNetwork, e.ID, id)
			}
			if o, ok := owner[id]; ok {
				return fmt.Errorf("%w: lane %d belongs to both %s and edge %d", ErrInvalidNetwork, id, o, e.ID)
			}
			owner[id] = fmt.Sprintf("edge %d", e.ID)
		}
	}

	junctionOf := make(map[int32]int32)
	junctionIDs := make(map[int32]struct{}, len(n.Junctions))
	for _, j := range n.Junctions {
		if _, ok := junctionIDs[j.ID]; ok {
			return fmt.Errorf("%w: duplicate junction id %d", ErrInvalidNetwork, j.ID)
		}
		junctionIDs[j.ID] = struct{}{}
		switch j.Kind {
		case "", JunctionPriority, JunctionTrafficLight, JunctionAllWayStop, JunctionRailSignal:
		default:
			return fmt.Errorf("%w: junction %d has unknown kind %q", ErrInvalidNetwork, j.ID, j.Kind)
		}
		links := make(map[int32]*LinkSpec, len(j.Links))
		for i := range j.Links {
			link := &j.Links[i]
			l, ok := lanes[link.Lane]
			if !ok {
				return fmt.Errorf("%w: junction %d has unknown link lane %d", ErrInvalidNetwork, j.ID, link.Lane)
			}
			if l.LaneType() == mapv2.LaneType_LANE_TYPE_WALKING {
				return fmt.Errorf("%w: junction %d lists walking lane %d as link", ErrInvalidNetwork, j.ID, link.Lane)
			}
			if o, ok := owner[link.Lane]; ok {
				return fmt.Errorf("%w: lane %d belongs to both %s and junction %d", ErrInvalidNetwork, link.Lane, o, j.ID)
			}
			owner[link.Lane] = fmt.Sprintf("junction %d", j.ID)
			junctionOf[link.Lane] = j.ID
			if len(l.Predecessors) != 1 || len(l.Successors) != 1 {
				return fmt.Errorf("%w: link %d in junction %d must have exactly one predecessor and one successor", ErrInvalidNetwork, link.Lane, j.ID)
			}
			links[link.Lane] = link
		}
		for _, link := range j.Links {
			for _, foe := range link.Foes {
				other, ok := links[foe]
				if !ok {
					return fmt.Errorf("%w: link %d in junction %d has foe %d outside the junction", ErrInvalidNetwork, link.Lane, j.ID, foe)
				}
				if !lo.Contains(other.Foes, link.Lane) {
					return fmt.Errorf("%w: foe relation %d-%d in junction %d is not symmetric", ErrInvalidNetwork, link.Lane, foe, j.ID)
				}
			}
			for _, y := range link.YieldTo {
				if !lo.Contains(link.Foes, y) {
					return fmt.Errorf("%w: link %d in junction %d yields to non-foe %d", ErrInvalidNetwork, link.Lane, j.ID, y)
				}
				if lo.Contains(links[y].YieldTo, link.Lane) {
					return fmt.Errorf("%w: links %d and %d in junction %d yield to each other", ErrInvalidNetwork, link.Lane, y, j.ID)
				}
			}
		}
		for _, id := range j.Crossings {
			l, ok := lanes[id]
			if !ok || l.LaneType() != mapv2.LaneType_LANE_TYPE_WALKING {
				return fmt.Errorf("%w: junction %d has bad crossing %d", ErrInvalidNetwork, j.ID, id)
			}
			if o, ok := owner[id]; ok {
				return fmt.Errorf("%w: lane %d belongs to both %s and junction %d", ErrInvalidNetwork, id, o, j.ID)
			}
			owner[id] = fmt.Sprintf("junction %d", j.ID)
		}
		signal := j.SignalLanes()
		for _, p := range j.Program {
			states, err := ParseLightStates(p.States)
			if err != nil {
				return fmt.Errorf("%w: junction %d: %v", ErrInvalidNetwork, j.ID, err)
			}
			if len(states) != len(signal) {
				return fmt.Errorf("%w: junction %d program phase %q has %d states, want %d", ErrInvalidNetwork, j.ID, p.States, len(states), len(signal))
			}
			if p.Duration <= 0 {
				return fmt.Errorf("%w: junction %d program phase %q has non-positive duration", ErrInvalidNetwork, j.ID, p.States)
			}
		}
		for _, p := range j.Phases {
			states, err := ParseLightStates(p)
			if err != nil {
				return fmt.Errorf("%w: junction %d: %v", ErrInvalidNetwork, j.ID, err)
			}
			if len(states) != len(signal) {
				return fmt.Errorf("%w: junction %d phase %q has %d states, want %d", ErrInvalidNetwork, j.ID, p, len(states), len(signal))
			}
		}
		if j.Kind == JunctionTrafficLight && len(j.Program) == 0 && len(j.Phases) == 0 {
			return fmt.Errorf("%w: traffic light junction %d has neither program nor phases", ErrInvalidNetwork, j.ID)
		}
	}
	for _, l := range n.Lanes {
		if _, ok := owner[l.ID]; !ok {
			return fmt.Errorf("%w: lane %d belongs to no edge or junction", ErrInvalidNetwork, l.ID)
		}
	}

	// 道路车道只能经由路口连接车道相连，且每条道路的上下游路口唯一
	from := make(map[int32]int32)
	to := make(map[int32]int32)
	for _, l := range n.Lanes {
		eid, ok := edgeOf[l.ID]
		if !ok {
			continue
		}
		for _, id := range l.Successors {
			jid, ok := junctionOf[id]
			if !ok {
				return fmt.Errorf("%w: edge lane %d connects to lane %d outside any junction", ErrInvalidNetwork, l.ID, id)
			}
			if old, ok := to[eid]; ok && old != jid {
				return fmt.Errorf("%w: edge %d leads to junctions %d and %d", ErrInvalidNetwork, eid, old, jid)
			}
			to[eid] = jid
		}
		for _, id := range l.Predecessors {
			jid, ok := junctionOf[id]
			if !ok {
				return fmt.Errorf("%w: edge lane %d is reached from lane %d outside any junction", ErrInvalidNetwork, l.ID, id)
			}
			if old, ok := from[eid]; ok && old != jid {
				return fmt.Errorf("%w: edge %d is reached from junctions %d and %d", ErrInvalidNetwork, eid, old, jid)
			}
			from[eid] = jid
		}
	}
	for _, l := range n.Lanes {
		if _, ok := junctionOf[l.ID]; !ok {
			continue
		}
		if _, ok := edgeOf[l.Predecessors[0]]; !ok {
			return fmt.Errorf("%w: link %d starts from lane %d which is not an edge lane", ErrInvalidNetwork, l.ID, l.Predecessors[0])
		}
		if _, ok := edgeOf[l.Successors[0]]; !ok {
			return fmt.Errorf("%w: link %d ends at lane %d which is not an edge lane", ErrInvalidNetwork, l.ID, l.Successors[0])
		}
	}

	for _, d := range n.Detectors {
		l, ok := lanes[d.Lane]
		if !ok {
			return fmt.Errorf("%w: detector %d on unknown lane %d", ErrInvalidNetwork, d.ID, d.Lane)
		}
		if d.Pos < 0 || (l.Length > 0 && d.Pos > l.Length) {
			return fmt.Errorf("%w: detector %d position %v outside lane %d", ErrInvalidNetwork, d.ID, d.Pos, d.Lane)
		}
	}
	return nil
}

// EdgeGraph 道路连通图
// 功能：构建以道路为节点、以路口连接为边的有向图，用于路径校验
// 返回：gonum有向图，节点ID为道路ID
func (n *Network) EdgeGraph() *simple.DirectedGraph {
	lanes := lo.SliceToMap(n.Lanes, func(l LaneSpec) (int32, *LaneSpec) {
		return l.ID, &l
	})
	edgeOf := make(map[int32]int32)
	g := simple.NewDirectedGraph()
	for _, e := range n.Edges {
		g.AddNode(simple.Node(e.ID))
		for _, id := range e.Lanes {
			edgeOf[id] = e.ID
		}
	}
	for _, e := range n.Edges {
		for _, id := range e.Lanes {
			for _, link := range lanes[id].Successors {
				next := lanes[link].Successors[0]
				if to, ok := edgeOf[next]; ok && to != e.ID {
					g.SetEdge(simple.Edge{F: simple.Node(e.ID), T: simple.Node(to)})
				}
			}
		}
	}
	return g
}
