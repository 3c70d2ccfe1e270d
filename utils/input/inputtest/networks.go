// Package inputtest 提供测试用的小型路网与出行需求
package inputtest

import (
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

const (
	LinkLength = 10.0 // 路口连接车道长度
)

// EdgeLaneID 走廊路网中第edge条道路第index条车道的ID
func EdgeLaneID(edge int32, index int32) int32 {
	return edge*100 + index
}

// LinkID 走廊路网中第edge条道路第index条车道驶出的连接车道ID
func LinkID(edge int32, index int32) int32 {
	return 10000 + edge*100 + index
}

// Corridor 直线走廊路网
// 功能：生成numEdges条首尾相接的道路，每条道路numLanes条车道，
// 相邻道路之间是优先路口，同序号车道直行相连
// 参数：numEdges-道路数，numLanes-每条道路车道数，length-道路长度，maxSpeed-限速
// 返回：路网，道路ID为1..numEdges，路口ID为1..numEdges-1
func Corridor(numEdges, numLanes int32, length, maxSpeed float64) *input.Network {
	n := &input.Network{}
	for e := int32(1); e <= numEdges; e++ {
		edge := input.EdgeSpec{ID: e}
		for i := int32(0); i < numLanes; i++ {
			l := input.LaneSpec{
				ID:       EdgeLaneID(e, i),
				Length:   length,
				Width:    3.2,
				MaxSpeed: maxSpeed,
			}
			if e > 1 {
				l.Predecessors = []int32{LinkID(e-1, i)}
			}
			if e < numEdges {
				l.Successors = []int32{LinkID(e, i)}
			}
			n.Lanes = append(n.Lanes, l)
			edge.Lanes = append(edge.Lanes, l.ID)
		}
		n.Edges = append(n.Edges, edge)
	}
	for e := int32(1); e < numEdges; e++ {
		j := input.JunctionSpec{ID: e, Kind: input.JunctionPriority}
		for i := int32(0); i < numLanes; i++ {
			n.Lanes = append(n.Lanes, input.LaneSpec{
				ID:           LinkID(e, i),
				Length:       LinkLength,
				Width:        3.2,
				MaxSpeed:     maxSpeed,
				Predecessors: []int32{EdgeLaneID(e, i)},
				Successors:   []int32{EdgeLaneID(e+1, i)},
			})
			j.Links = append(j.Links, input.LinkSpec{Lane: LinkID(e, i)})
		}
		n.Junctions = append(n.Junctions, j)
	}
	return n
}

// LaneDrop 车道缩减路网
// 功能：道路1有两条车道，只有车道1经优先路口1连接到单车道的道路2，车道0在路口前终止
// 参数：length-道路长度，maxSpeed-限速
// 返回：路网，车道与连接车道ID沿用走廊路网的编号
func LaneDrop(length, maxSpeed float64) *input.Network {
	lane := func(id int32) input.LaneSpec {
		return input.LaneSpec{ID: id, Length: length, Width: 3.2, MaxSpeed: maxSpeed}
	}
	l0, l1, out := lane(EdgeLaneID(1, 0)), lane(EdgeLaneID(1, 1)), lane(EdgeLaneID(2, 0))
	l1.Successors = []int32{LinkID(1, 1)}
	out.Predecessors = []int32{LinkID(1, 1)}
	link := input.LaneSpec{
		ID:           LinkID(1, 1),
		Length:       LinkLength,
		Width:        3.2,
		MaxSpeed:     maxSpeed,
		Predecessors: []int32{l1.ID},
		Successors:   []int32{out.ID},
	}
	return &input.Network{
		Lanes: []input.LaneSpec{l0, l1, out, link},
		Edges: []input.EdgeSpec{
			{ID: 1, Lanes: []int32{l0.ID, l1.ID}},
			{ID: 2, Lanes: []int32{out.ID}},
		},
		Junctions: []input.JunctionSpec{
			{ID: 1, Kind: input.JunctionPriority, Links: []input.LinkSpec{{Lane: link.ID}}},
		},
	}
}

// 菱形路网的道路ID
const (
	DiamondIn    int32 = 1
	DiamondShort int32 = 2
	DiamondLong  int32 = 3
	DiamondOut   int32 = 4

	DiamondSplit int32 = 1
	DiamondMerge int32 = 2
)

// DiamondLinkID 菱形路网中道路from驶向道路to的连接车道ID
func DiamondLinkID(from, to int32) int32 {
	return 1000 + from*10 + to
}

// Diamond 菱形路网
// 功能：单车道道路In在分流路口分为Short与Long两条路径，在合流路口汇入Out，两个合流连接互相冲突
// 参数：length-In、Short、Out的长度，longLength-Long的长度，maxSpeed-限速
// 返回：路网，车道ID为EdgeLaneID(道路, 0)
func Diamond(length, longLength, maxSpeed float64) *input.Network {
	n := &input.Network{}
	lengths := map[int32]float64{DiamondIn: length, DiamondShort: length, DiamondLong: longLength, DiamondOut: length}
	succ := map[int32][]int32{
		DiamondIn:    {DiamondShort, DiamondLong},
		DiamondShort: {DiamondOut},
		DiamondLong:  {DiamondOut},
	}
	pred := map[int32][]int32{
		DiamondShort: {DiamondIn},
		DiamondLong:  {DiamondIn},
		DiamondOut:   {DiamondShort, DiamondLong},
	}
	for _, e := range []int32{DiamondIn, DiamondShort, DiamondLong, DiamondOut} {
		l := input.LaneSpec{ID: EdgeLaneID(e, 0), Length: lengths[e], Width: 3.2, MaxSpeed: maxSpeed}
		for _, to := range succ[e] {
			l.Successors = append(l.Successors, DiamondLinkID(e, to))
		}
		for _, from := range pred[e] {
			l.Predecessors = append(l.Predecessors, DiamondLinkID(from, e))
		}
		n.Lanes = append(n.Lanes, l)
		n.Edges = append(n.Edges, input.EdgeSpec{ID: e, Lanes: []int32{l.ID}})
	}
	link := func(from, to int32) input.LaneSpec {
		return input.LaneSpec{
			ID:           DiamondLinkID(from, to),
			Length:       LinkLength,
			Width:        3.2,
			MaxSpeed:     maxSpeed,
			Predecessors: []int32{EdgeLaneID(from, 0)},
			Successors:   []int32{EdgeLaneID(to, 0)},
		}
	}
	n.Lanes = append(n.Lanes,
		link(DiamondIn, DiamondShort), link(DiamondIn, DiamondLong),
		link(DiamondShort, DiamondOut), link(DiamondLong, DiamondOut),
	)
	fromShort, fromLong := DiamondLinkID(DiamondShort, DiamondOut), DiamondLinkID(DiamondLong, DiamondOut)
	n.Junctions = append(n.Junctions,
		input.JunctionSpec{ID: DiamondSplit, Kind: input.JunctionPriority, Links: []input.LinkSpec{
			{Lane: DiamondLinkID(DiamondIn, DiamondShort)},
			{Lane: DiamondLinkID(DiamondIn, DiamondLong)},
		}},
		input.JunctionSpec{ID: DiamondMerge, Kind: input.JunctionPriority, Links: []input.LinkSpec{
			{Lane: fromShort, Foes: []int32{fromLong}},
			{Lane: fromLong, Foes: []int32{fromShort}},
		}},
	)
	return n
}

// 十字路口各方向的驶入、驶出道路ID
const (
	CrossNorthIn  int32 = 1
	CrossEastIn   int32 = 2
	CrossSouthIn  int32 = 3
	CrossWestIn   int32 = 4
	CrossSouthOut int32 = 5
	CrossWestOut  int32 = 6
	CrossNorthOut int32 = 7
	CrossEastOut  int32 = 8

	CrossJunction int32 = 1
)

// CrossLinkID 十字路口中由驶入道路in出发的直行连接车道ID
func CrossLinkID(in int32) int32 {
	return 1000 + in
}

// Cross 单车道十字路口
// 功能：四个方向各一条驶入道路和一条驶出道路，路口内只有直行连接，
// 南北向与东西向连接互相冲突
// 参数：kind-路口类型，length-道路长度，maxSpeed-限速
// 返回：路网。信号路口的信号车道顺序为[北进, 东进, 南进, 西进]，
// 固定配时方案依次为南北绿、南北黄、东西绿、东西黄；
// 优先路口中东西向让行南北向
func Cross(kind string, length, maxSpeed float64) *input.Network {
	n := &input.Network{}
	outOf := map[int32]int32{
		CrossNorthIn: CrossSouthOut,
		CrossEastIn:  CrossWestOut,
		CrossSouthIn: CrossNorthOut,
		CrossWestIn:  CrossEastOut,
	}
	for _, in := range []int32{CrossNorthIn, CrossEastIn, CrossSouthIn, CrossWestIn} {
		out := outOf[in]
		n.Lanes = append(n.Lanes,
			input.LaneSpec{ID: in * 100, Length: length, MaxSpeed: maxSpeed, Successors: []int32{CrossLinkID(in)}},
			input.LaneSpec{ID: out * 100, Length: length, MaxSpeed: maxSpeed, Predecessors: []int32{CrossLinkID(in)}},
			input.LaneSpec{
				ID: CrossLinkID(in), Length: 20, MaxSpeed: maxSpeed,
				Predecessors: []int32{in * 100}, Successors: []int32{out * 100},
			},
		)
		n.Edges = append(n.Edges,
			input.EdgeSpec{ID: in, Lanes: []int32{in * 100}},
			input.EdgeSpec{ID: out, Lanes: []int32{out * 100}},
		)
	}
	ns := []int32{CrossLinkID(CrossNorthIn), CrossLinkID(CrossSouthIn)}
	ew := []int32{CrossLinkID(CrossEastIn), CrossLinkID(CrossWestIn)}
	j := input.JunctionSpec{ID: CrossJunction, Kind: kind}
	for _, id := range ns {
		j.Links = append(j.Links, input.LinkSpec{Lane: id, Foes: ew})
	}
	for _, id := range ew {
		link := input.LinkSpec{Lane: id, Foes: ns}
		if kind == input.JunctionPriority {
			link.YieldTo = ns
		}
		j.Links = append(j.Links, link)
	}
	// 链接顺序：北进、南进、东进、西进
	j.Signal = []int32{CrossLinkID(CrossNorthIn), CrossLinkID(CrossEastIn), CrossLinkID(CrossSouthIn), CrossLinkID(CrossWestIn)}
	if kind == input.JunctionTrafficLight {
		j.Program = []input.PhaseSpec{
			{Duration: 20, States: "GrGr"},
			{Duration: 3, States: "yryr"},
			{Duration: 20, States: "rGrG"},
			{Duration: 3, States: "ryry"},
		}
		j.Phases = []string{"GrGr", "rGrG"}
	}
	n.Junctions = append(n.Junctions, j)
	return n
}

// Passenger 常用小汽车类型
func Passenger(id string, carFollowing string) input.VehicleTypeSpec {
	return input.VehicleTypeSpec{
		ID:             id,
		Class:          "passenger",
		Length:         5,
		MinGap:         2.5,
		MaxSpeed:       33,
		Accel:          2.6,
		Decel:          4.5,
		EmergencyDecel: 9,
		CarFollowing:   input.ModelSpec{Model: carFollowing},
		LaneChange:     input.ModelSpec{Model: "mobil"},
	}
}
