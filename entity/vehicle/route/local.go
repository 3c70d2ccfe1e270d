package route

import (
	"sync"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	routingv2 "git.fiblab.net/sim/protos/v2/go/city/routing/v2"
	"git.fiblab.net/sim/routing/v2/router"
)

// LocalRouter 基于mapv2地图的fiblab本地路由
// 说明：仅在路网由mapv2地图转换而来时可用，地图的道路ID即仿真中的道路ID
type LocalRouter struct {
	router *router.Router

	wg sync.WaitGroup
}

// NewLocalRouter 创建本地路由
func NewLocalRouter(mapData *mapv2.Map) *LocalRouter {
	return &LocalRouter{
		router: router.New(mapData, nil),
	}
}

// GetRoute 路径规划（回调版本）
func (l *LocalRouter) GetRoute(
	in *routingv2.GetRouteRequest,
	process func(res *routingv2.GetRouteResponse),
) chan struct{} {
	ch := make(chan struct{})
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		res := &routingv2.GetRouteResponse{}
		start, end := in.Start, in.End
		switch in.GetType() {
		case routingv2.RouteType_ROUTE_TYPE_DRIVING, routingv2.RouteType_ROUTE_TYPE_TAXI:
			if roadIDs, cost, err := l.router.SearchDriving(start, end, in.Time); err != nil {
				log.Debugf("search driving failed from %v to %v at t=%f: %v", start, end, in.Time, err)
			} else {
				res.Journeys = append(res.Journeys, &routingv2.Journey{
					Type: routingv2.JourneyType_JOURNEY_TYPE_DRIVING,
					Driving: &routingv2.DrivingJourneyBody{
						RoadIds: roadIDs,
						Eta:     cost,
					},
				})
			}
		default:
			log.Warnf("local router: unsupported route type %v", in.GetType())
		}
		process(res)
		close(ch)
	}()
	return ch
}

// GetRouteSync 路径规划（同步版本）
func (l *LocalRouter) GetRouteSync(in *routingv2.GetRouteRequest) *routingv2.GetRouteResponse {
	var res *routingv2.GetRouteResponse
	<-l.GetRoute(in, func(r *routingv2.GetRouteResponse) { res = r })
	return res
}
