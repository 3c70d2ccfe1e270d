package route

import (
	"fmt"
	"math"
	"sync"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	routingv2 "git.fiblab.net/sim/protos/v2/go/city/routing/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	minMeanSpeed = 0.5  // 计算通行时间时平均车速的下限
	tieBreak     = 1e-9 // 按道路ID区分等价路径的权重增量
)

// GraphRouter 道路图上的最短时间路由
// 功能：以道路为节点、以路口连接为边，按当前各道路平均车速估计通行时间，用Dijkstra搜索路径
// 说明：每次请求按当时的路况重新构造带权图
type GraphRouter struct {
	ctx entity.ITaskContext

	wg sync.WaitGroup
}

// NewGraphRouter 创建道路图路由
func NewGraphRouter(ctx entity.ITaskContext) *GraphRouter {
	return &GraphRouter{ctx: ctx}
}

// GetRoute 路径规划（回调版本）
func (r *GraphRouter) GetRoute(
	in *routingv2.GetRouteRequest,
	process func(res *routingv2.GetRouteResponse),
) chan struct{} {
	ch := make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		process(r.GetRouteSync(in))
		close(ch)
	}()
	return ch
}

// GetRouteSync 路径规划（同步版本）
// 功能：仅支持驾车路径，起终点必须是车道位置
// 返回：找到路径时包含一段驾车行程，否则为空响应
func (r *GraphRouter) GetRouteSync(in *routingv2.GetRouteRequest) *routingv2.GetRouteResponse {
	res := &routingv2.GetRouteResponse{}
	switch in.GetType() {
	case routingv2.RouteType_ROUTE_TYPE_DRIVING, routingv2.RouteType_ROUTE_TYPE_TAXI:
	default:
		log.Warnf("graph router: unsupported route type %v", in.GetType())
		return res
	}
	from, err := r.edgeOf(in.Start)
	if err != nil {
		log.Warnf("graph router: bad start: %v", err)
		return res
	}
	to, err := r.edgeOf(in.End)
	if err != nil {
		log.Warnf("graph router: bad end: %v", err)
		return res
	}
	ids, eta, err := r.Search(from, to)
	if err != nil {
		log.Debugf("graph router: %v", err)
		return res
	}
	res.Journeys = append(res.Journeys, &routingv2.Journey{
		Type: routingv2.JourneyType_JOURNEY_TYPE_DRIVING,
		Driving: &routingv2.DrivingJourneyBody{
			RoadIds: ids,
			Eta:     eta,
		},
	})
	return res
}

// edgeOf 车道位置所在道路，路口内车道取其驶出道路
func (r *GraphRouter) edgeOf(pos *geov2.Position) (entity.IEdge, error) {
	if pos.GetLanePosition() == nil {
		return nil, fmt.Errorf("position %v is not a lane position", pos)
	}
	lane, err := r.ctx.LaneManager().GetOrError(pos.GetLanePosition().GetLaneId())
	if err != nil {
		return nil, err
	}
	if lane.InEdge() {
		return lane.ParentEdge(), nil
	}
	out, err := lane.UniqueSuccessor()
	if err != nil {
		return nil, err
	}
	return out.ParentEdge(), nil
}

// travelTime 按平均车速估计的道路通行时间
func travelTime(e entity.IEdge) float64 {
	return e.Length() / math.Max(e.MeanSpeed(), minMeanSpeed)
}

// Search 搜索from到to的最短时间路径
// 返回：道路ID序列（包含起终点道路）、预计通行时间
// 算法说明：
// 1. 构造带权有向图，边from->to的权重为道路from的通行时间加上按to的ID计的微小增量，使等价路径有确定的选择
// 2. Dijkstra求最短路，预计时间加上终点道路的通行时间
func (r *GraphRouter) Search(from, to entity.IEdge) ([]int32, float64, error) {
	if from == to {
		return []int32{from.ID()}, travelTime(from), nil
	}
	g := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	edges := r.ctx.EdgeManager().Edges()
	for _, e := range edges {
		g.AddNode(simple.Node(e.ID()))
	}
	for _, e := range edges {
		w := travelTime(e)
		nexts := lo.Uniq(lo.FlatMap(e.Lanes(), func(l entity.ILane, _ int) []int32 {
			return lo.FilterMap(l.Successors(), func(link entity.ILane, _ int) (int32, bool) {
				out, err := link.UniqueSuccessor()
				if err != nil || out.ParentEdge() == nil || out.ParentEdge() == e {
					return 0, false
				}
				return out.ParentEdge().ID(), true
			})
		}))
		for _, next := range nexts {
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(e.ID()),
				T: simple.Node(next),
				W: w + tieBreak*float64(next),
			})
		}
	}
	shortest := path.DijkstraFrom(simple.Node(from.ID()), g)
	nodes, cost := shortest.To(int64(to.ID()))
	if len(nodes) == 0 || math.IsInf(cost, 1) {
		return nil, 0, fmt.Errorf("no route from edge %d to edge %d", from.ID(), to.ID())
	}
	ids := lo.Map(nodes, func(n graph.Node, _ int) int32 { return int32(n.ID()) })
	return ids, cost + travelTime(to), nil
}
