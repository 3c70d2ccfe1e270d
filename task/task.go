package task

import (
	"fmt"
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/microsim/clock"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/detector"
	"github.com/tsinghua-fib-lab/microsim/entity/edge"
	"github.com/tsinghua-fib-lab/microsim/entity/junction"
	"github.com/tsinghua-fib-lab/microsim/entity/lane"
	"github.com/tsinghua-fib-lab/microsim/entity/person"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/route"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态
// 说明：管理时钟、各类实体管理器、配置与路由，实现entity.ITaskContext
type Context struct {
	// 任务名
	job string
	// 关闭指令，只在两步之间生效
	closed atomic.Bool

	// 时钟
	clock *clock.Clock

	// 辅助程序，处理分布式模式下与syncer的交互，为nil时单机运行
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}
	serving        bool

	laneManager     *lane.LaneManager
	edgeManager     *edge.EdgeManager
	junctionManager *junction.JunctionManager
	vehicleManager  *vehicle.VehicleManager
	personManager   *person.PersonManager
	detectorManager *detector.DetectorManager

	// 运行时配置
	runtimeConfig *config.RuntimeConfig
	// 导航服务
	router entity.IRouter

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 参数：
//   - job: 任务名称
//   - c: 配置对象
//   - cacheDir: 地图缓存目录
//   - sidecar: syncer侧车，为nil时单机运行
//   - startSidecarServe: 是否启动sidecar服务
//
// 返回：初始化完成的Context实例，输入或配置非法时返回错误
// 算法说明：
// 1. 填充默认值并校验配置
// 2. 下载或读取路网与出行需求
// 3. 创建并初始化各类管理器，注册RPC服务
// 4. 启动sidecar服务（如果需要）
func NewContext(
	job string,
	c config.Config,
	cacheDir string,
	sidecar *syncer.Sidecar,
	startSidecarServe bool,
) (*Context, error) {
	rc, err := config.NewRuntimeConfig(c)
	if err != nil {
		return nil, err
	}
	in, err := input.Init(rc.All, cacheDir)
	if err != nil {
		return nil, err
	}
	ctx, err := New(rc, in, sidecar)
	if err != nil {
		return nil, err
	}
	ctx.job = job

	// sidecar协程，用于提供RPC服务
	if sidecar != nil && startSidecarServe {
		ctx.serving = true
		go func() {
			err := ctx.sidecar.Serve()
			if err != nil {
				log.Panicf("failed to serve: %v", err)
			}
			ctx.sidecarCloseCh <- struct{}{}
		}()
	}
	return ctx, nil
}

// New 由已校验的输入创建仿真上下文
// 参数：rc-运行时配置，in-路网与出行需求，sidecar-syncer侧车（可为nil）
// 返回：仿真上下文，实体初始化失败时返回错误
// 算法说明：
// 1. 车道 -> 道路 -> 路口 -> 道路上下游路口，顺序不可调换
// 2. 路由器依赖道路管理器，在车辆之前创建
// 3. 车辆、行人、检测器依赖路网
func New(rc *config.RuntimeConfig, in *input.Input, sidecar *syncer.Sidecar) (*Context, error) {
	ctx := &Context{
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}),
		runtimeConfig:  rc,
		initRes:        in,
	}
	ctx.clock = clock.New(rc.C.Step)

	ctx.laneManager = lane.NewManager(ctx)
	ctx.edgeManager = edge.NewManager(ctx)
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.vehicleManager = vehicle.NewManager(ctx)
	ctx.personManager = person.NewManager(ctx)
	ctx.detectorManager = detector.NewManager(ctx)

	network := in.Network
	if err := ctx.laneManager.Init(network.Lanes); err != nil {
		return nil, err
	}
	ctx.edgeManager.Init(network.Edges, ctx.laneManager)
	if err := ctx.junctionManager.Init(network.Junctions, ctx.laneManager); err != nil {
		return nil, err
	}
	if err := ctx.edgeManager.InitAfterJunction(); err != nil {
		return nil, err
	}

	switch rc.C.Router {
	case config.RouterFiblab:
		if network.Map == nil {
			return nil, fmt.Errorf("%w: router %q needs a mapv2 map input", config.ErrInvalidConfig, rc.C.Router)
		}
		ctx.router = route.NewLocalRouter(network.Map)
	default:
		ctx.router = route.NewGraphRouter(ctx)
	}

	if err := ctx.vehicleManager.Init(in.Demand); err != nil {
		return nil, err
	}
	if err := ctx.personManager.Init(in.Demand.Persons, ctx.laneManager); err != nil {
		return nil, err
	}
	if err := ctx.detectorManager.Init(network.Detectors, ctx.laneManager); err != nil {
		return nil, err
	}

	if sidecar != nil {
		ctx.clock.Register(sidecar)
		ctx.junctionManager.Register(sidecar)
		ctx.vehicleManager.Register(sidecar)
	}
	return ctx, nil
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) LaneManager() entity.ILaneManager {
	return ctx.laneManager
}

func (ctx *Context) EdgeManager() entity.IEdgeManager {
	return ctx.edgeManager
}

func (ctx *Context) JunctionManager() entity.IJunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) VehicleManager() *vehicle.VehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) PersonManager() *person.PersonManager {
	return ctx.personManager
}

func (ctx *Context) DetectorManager() *detector.DetectorManager {
	return ctx.detectorManager
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

func (ctx *Context) Router() entity.IRouter {
	return ctx.router
}

// Close 请求结束仿真，当前步完成后生效
func (ctx *Context) Close() {
	ctx.closed.Store(true)
}

// stop 关闭sidecar并等待RPC服务退出
func (ctx *Context) stop() {
	if ctx.sidecar == nil {
		return
	}
	ctx.sidecar.Close()
	if ctx.serving {
		<-ctx.sidecarCloseCh
	}
}

// 保证Context满足依赖倒置接口
var _ entity.ITaskContext = (*Context)(nil)
