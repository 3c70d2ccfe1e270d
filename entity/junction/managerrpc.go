package junction

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"git.fiblab.net/sim/syncer/v3"
)

// Register 将信号灯服务注册到sidecar
// 说明：写入类接口在下一步准备阶段生效
func (m *JunctionManager) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		mapv2connect.TrafficLightServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return mapv2connect.NewTrafficLightServiceHandler(m, opts...)
		},
	)
}

// invalid 包装为InvalidArgument错误
func invalid(format string, args ...any) error {
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf(format, args...))
}

// signalled 查找有信控的路口
func (m *JunctionManager) signalled(id int32) (*Junction, error) {
	j, ok := m.data[id]
	if !ok {
		return nil, invalid("no id %d in junction data", id)
	}
	if j.trafficLight == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrDisabledTrafficLight)
	}
	return j, nil
}

// GetTrafficLight 查询信号灯程序、当前相位与剩余时间
// 说明：信控关闭时返回空响应
func (m *JunctionManager) GetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.GetTrafficLightRequest],
) (*connect.Response[mapv2.GetTrafficLightResponse], error) {
	j, err := m.signalled(in.Msg.JunctionId)
	if err != nil {
		return nil, err
	}
	tl := j.trafficLight.Get()
	if tl == nil {
		return connect.NewResponse(&mapv2.GetTrafficLightResponse{}), nil
	}
	return connect.NewResponse(&mapv2.GetTrafficLightResponse{
		TrafficLight:  tl,
		PhaseIndex:    j.trafficLight.Step(),
		TimeRemaining: j.trafficLight.RemainingTime(),
	}), nil
}

// SetTrafficLight 替换信号灯程序并设置起始相位，相位为空时删除程序（全部绿灯）
func (m *JunctionManager) SetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightRequest],
) (*connect.Response[mapv2.SetTrafficLightResponse], error) {
	req := in.Msg
	if req.TrafficLight == nil {
		return nil, invalid("traffic light is required")
	}
	j, err := m.signalled(req.TrafficLight.JunctionId)
	if err != nil {
		return nil, err
	}
	if len(req.TrafficLight.Phases) == 0 {
		if err := j.unsetTrafficLight(); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return connect.NewResponse(&mapv2.SetTrafficLightResponse{}), nil
	}
	if req.TimeRemaining < 0 {
		return nil, invalid("invalid remaining time %v", req.TimeRemaining)
	}
	if err := j.SetTrafficLight(req.TrafficLight); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := j.setPhase(req.PhaseIndex, req.TimeRemaining); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightResponse{}), nil
}

// SetTrafficLightPhase 跳转到指定相位并设置剩余时间
func (m *JunctionManager) SetTrafficLightPhase(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightPhaseRequest],
) (*connect.Response[mapv2.SetTrafficLightPhaseResponse], error) {
	req := in.Msg
	j, err := m.signalled(req.JunctionId)
	if err != nil {
		return nil, err
	}
	if req.TimeRemaining < 0 {
		return nil, invalid("invalid remaining time %v", req.TimeRemaining)
	}
	if err := j.setPhase(req.PhaseIndex, req.TimeRemaining); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightPhaseResponse{}), nil
}

// SetTrafficLightStatus 开关信控，关闭时全部绿灯
func (m *JunctionManager) SetTrafficLightStatus(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightStatusRequest],
) (*connect.Response[mapv2.SetTrafficLightStatusResponse], error) {
	j, err := m.signalled(in.Msg.JunctionId)
	if err != nil {
		return nil, err
	}
	if err := j.setStatus(in.Msg.Ok); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
}
