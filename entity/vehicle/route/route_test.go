package route

import (
	"testing"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	routingv2 "git.fiblab.net/sim/protos/v2/go/city/routing/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/edge"
	"github.com/tsinghua-fib-lab/microsim/entity/junction"
	"github.com/tsinghua-fib-lab/microsim/entity/lane"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"github.com/tsinghua-fib-lab/microsim/utils/input/inputtest"
)

type fakeCtx struct {
	entity.ITaskContext
	clock *clock.Clock
	cfg   *config.RuntimeConfig
	lanes *lane.LaneManager
	edges *edge.EdgeManager
}

func (c *fakeCtx) Clock() *clock.Clock                  { return c.clock }
func (c *fakeCtx) RuntimeConfig() *config.RuntimeConfig { return c.cfg }
func (c *fakeCtx) LaneManager() entity.ILaneManager     { return c.lanes }
func (c *fakeCtx) EdgeManager() entity.IEdgeManager     { return c.edges }

func build(t *testing.T, net *input.Network) *fakeCtx {
	require.NoError(t, net.Validate())
	ctx := &fakeCtx{
		clock: clock.New(config.ControlStep{Total: 100, Interval: 1}),
		cfg:   &config.RuntimeConfig{},
	}
	ctx.lanes = lane.NewManager(ctx)
	require.NoError(t, ctx.lanes.Init(net.Lanes))
	ctx.edges = edge.NewManager(ctx)
	ctx.edges.Init(net.Edges, ctx.lanes)
	jm := junction.NewManager(ctx)
	require.NoError(t, jm.Init(net.Junctions, ctx.lanes))
	require.NoError(t, ctx.edges.InitAfterJunction())
	return ctx
}

func TestFromIDs(t *testing.T) {
	ctx := build(t, inputtest.Corridor(3, 2, 100, 15))

	r, err := FromIDs(ctx.edges, []int32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int32{1, 2, 3}, r.IDs())
	assert.Equal(t, int32(3), r.Last().ID())
	assert.Nil(t, r.At(3))
	assert.Nil(t, r.At(-1))
	assert.InDelta(t, 200, r.Length(1), 1e-9)

	for _, ids := range [][]int32{{}, {1, 3}, {2, 1}, {1, 9}} {
		_, err := FromIDs(ctx.edges, ids)
		assert.ErrorIs(t, err, input.ErrInvalidRoute, "route %v", ids)
	}
}

func TestGraphRouterSearch(t *testing.T) {
	ctx := build(t, inputtest.Cross(input.JunctionPriority, 100, 15))
	r := NewGraphRouter(ctx)
	edges := ctx.edges

	ids, eta, err := r.Search(edges.Get(inputtest.CrossNorthIn), edges.Get(inputtest.CrossSouthOut))
	require.NoError(t, err)
	assert.Equal(t, []int32{inputtest.CrossNorthIn, inputtest.CrossSouthOut}, ids)
	assert.Greater(t, eta, 0.0)

	// 只有直行连接，无法从北进驶向北出
	_, _, err = r.Search(edges.Get(inputtest.CrossNorthIn), edges.Get(inputtest.CrossNorthOut))
	assert.Error(t, err)

	ids, _, err = r.Search(edges.Get(inputtest.CrossEastIn), edges.Get(inputtest.CrossEastIn))
	require.NoError(t, err)
	assert.Equal(t, []int32{inputtest.CrossEastIn}, ids)
}

func TestGraphRouterPrefersShorterRoute(t *testing.T) {
	// 1 -> 2 -> 4 与 1 -> 3 -> 4，道路3更短
	net := &input.Network{}
	addEdge := func(id int32, length float64, preds, succs []int32) {
		net.Lanes = append(net.Lanes, input.LaneSpec{
			ID: id * 100, Length: length, MaxSpeed: 10, Predecessors: preds, Successors: succs,
		})
		net.Edges = append(net.Edges, input.EdgeSpec{ID: id, Lanes: []int32{id * 100}})
	}
	addLink := func(id, from, to int32) input.LinkSpec {
		net.Lanes = append(net.Lanes, input.LaneSpec{
			ID: id, Length: 5, MaxSpeed: 10, Predecessors: []int32{from * 100}, Successors: []int32{to * 100},
		})
		return input.LinkSpec{Lane: id}
	}
	addEdge(1, 100, nil, []int32{1012, 1013})
	addEdge(2, 300, []int32{1012}, []int32{1024})
	addEdge(3, 100, []int32{1013}, []int32{1034})
	addEdge(4, 100, []int32{1024, 1034}, nil)
	net.Junctions = []input.JunctionSpec{
		{ID: 1, Kind: input.JunctionPriority, Links: []input.LinkSpec{addLink(1012, 1, 2), addLink(1013, 1, 3)}},
		{ID: 2, Kind: input.JunctionPriority, Links: []input.LinkSpec{addLink(1024, 2, 4), addLink(1034, 3, 4)}},
	}
	ctx := build(t, net)
	r := NewGraphRouter(ctx)

	res := r.GetRouteSync(&routingv2.GetRouteRequest{
		Type:  routingv2.RouteType_ROUTE_TYPE_DRIVING,
		Start: &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: 100}},
		End:   &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: 400}},
	})
	require.Len(t, res.Journeys, 1)
	assert.Equal(t, []int32{1, 3, 4}, res.Journeys[0].GetDriving().GetRoadIds())

	route, err := FromIDs(ctx.edges, res.Journeys[0].GetDriving().GetRoadIds())
	require.NoError(t, err)
	assert.Equal(t, "Route[1 3 4]", route.String())

	walking := r.GetRouteSync(&routingv2.GetRouteRequest{
		Type:  routingv2.RouteType_ROUTE_TYPE_WALKING,
		Start: &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: 100}},
		End:   &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: 400}},
	})
	assert.Empty(t, walking.Journeys)

	done := make(chan []int32, 1)
	<-r.GetRoute(&routingv2.GetRouteRequest{
		Type:  routingv2.RouteType_ROUTE_TYPE_DRIVING,
		Start: &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: 1013}},
		End:   &geov2.Position{LanePosition: &geov2.LanePosition{LaneId: 400}},
	}, func(res *routingv2.GetRouteResponse) {
		done <- res.Journeys[0].GetDriving().GetRoadIds()
	})
	// 路口内车道以其驶出道路为起点
	assert.Equal(t, []int32{3, 4}, <-done)
}
