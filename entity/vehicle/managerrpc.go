package vehicle

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"git.fiblab.net/sim/protos/v2/go/city/person/v2/personv2connect"
	"git.fiblab.net/sim/syncer/v3"
)

// Register 将车辆管理器注册到Sidecar
// 功能：注册Person服务的RPC处理器到同步器，提供全局统计信息查询
// 参数：sidecar-同步器实例
func (m *VehicleManager) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		personv2connect.PersonServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return personv2connect.NewPersonServiceHandler(m, opts...)
		},
	)
}

// personv2connect.PersonService

// GetGlobalStatistics 获取全局统计信息
// 功能：返回上一步结束时的完成行程数、总行驶时间与总行驶距离
func (m *VehicleManager) GetGlobalStatistics(ctx context.Context, in *connect.Request[personv2.GetGlobalStatisticsRequest]) (*connect.Response[personv2.GetGlobalStatisticsResponse], error) {
	res := &personv2.GetGlobalStatisticsResponse{
		NumCompletedTrips:          m.snapshot.NumCompletedTrips,
		RunningTotalTravelTime:     m.snapshot.TravelTime,
		RunningTotalTravelDistance: m.snapshot.TravelDistance,
	}
	return connect.NewResponse(res), nil
}
