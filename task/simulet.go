package task

import (
	"flag"
	"sync"
)

const (
	SelfName = "city" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// prepare 准备阶段，每步执行一次
// 算法说明：
// 1. 车辆：移出上一步到达的车辆，应用外部指令与重新规划路径
// 2. 路口：应用信控写入，把信号状态写入车道
// 3. 车道：应用行人链表缓冲，清空规划占用，构建车辆侧链
// 说明：车辆与路口互不依赖，并行执行；车道的侧链依赖车辆链表，在两者之后执行
func (ctx *Context) prepare() {
	if *heartBeatInterval > 0 && ctx.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		counts := ctx.vehicleManager.Counts()
		log.Infof(
			"STEP: %d(%d:%d:%.2f) running=%d pending=%d completed=%d",
			ctx.clock.InternalStep,
			hour, minute, second,
			counts.Running, counts.Pending, counts.Completed,
		)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx.vehicleManager.Prepare()
	}()
	go func() {
		defer wg.Done()
		ctx.junctionManager.Prepare()
	}()
	wg.Wait()
	ctx.laneManager.Prepare()
	ctx.personManager.Prepare()
}

// update 更新阶段，每步执行一次
// 算法说明：
// 1. 规划：各车道从前车到后车规划纵向运动，之后登记规划占用
// 2. 变道：各道路按优先级依次接受变道提议
// 3. 路口：车辆提交通行请求，各路口裁决
// 4. 提交：车辆与车道提交本步规划，检测器统计
// 5. 行人：规划并提交行走
// 6. 插入：到达出发时间的车辆尝试进入路网
// 7. 信号：推进信号灯计时，更新车道平均车速
func (ctx *Context) update() {
	dt := ctx.clock.DT

	ctx.laneManager.PlanMovements()
	ctx.vehicleManager.RegisterPlanned()

	ctx.vehicleManager.Change()

	ctx.vehicleManager.SendRequests()
	ctx.junctionManager.Resolve()

	ctx.laneManager.IntegrateMovements()
	ctx.detectorManager.Update()

	ctx.personManager.Update(dt)

	ctx.vehicleManager.Insert()

	ctx.junctionManager.Update(dt)
	ctx.laneManager.Update()
}

// Step 推进一步
func (ctx *Context) Step() {
	ctx.prepare()
	ctx.update()
	ctx.clock.Advance()
}

// Done 仿真是否结束
// 说明：到达结束步，或者开启end_when_empty且没有待出发、在路网中的车辆与行人
func (ctx *Context) Done() bool {
	if ctx.clock.Done() || ctx.closed.Load() {
		return true
	}
	return ctx.runtimeConfig.C.EndWhenEmpty && ctx.vehicleManager.Empty() && ctx.personManager.Empty()
}

// Run 运行
// 说明：有sidecar时每步与syncer同步，外部关闭指令在两步之间生效
func (ctx *Context) Run() {
	if ctx.sidecar != nil {
		ctx.sidecar.Step(false)
	}
	for !ctx.Done() {
		ctx.prepare()
		if ctx.sidecar != nil {
			log.Debugf("step %d: prepare complete and call NotifyStepReady", ctx.clock.InternalStep)
			ctx.sidecar.NotifyStepReady()
		}
		ctx.update()
		log.Debugf("step %d: update complete", ctx.clock.InternalStep)
		ctx.clock.Advance()
		if ctx.sidecar != nil && ctx.sidecar.Step(ctx.Done()) {
			break
		}
	}
	ctx.detectorManager.Flush()
	log.Infof("engine complete at step %d: %v", ctx.clock.InternalStep, ctx.vehicleManager.Summary())
	ctx.stop()
}
