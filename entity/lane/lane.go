package lane

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

const (
	winLength    = 60   // 统计路况的时间窗长度(s)
	orderEps     = 1e-6 // 车辆顺序检查的数值容忍度
	overhangHops = 2    // 计算车尾伸入时最多跨越的后继车道数
)

// Lane 车道实体
// 功能：表示路网中的车道，包含几何信息、交通状态、车辆/行人管理等功能
type Lane struct {
	ctx entity.ITaskContext

	id int32

	// 初始化临时变量

	initPredecessors []int32
	initSuccessors   []int32

	typ               mapv2.LaneType // 车道类型
	turn              mapv2.LaneTurn // 转向类型
	allow             map[entity.VehicleClass]bool
	maxV              float64          // 当前道路限速
	parentJunction    entity.IJunction // 所在路口
	parentEdge        entity.IEdge     // 所在道路
	parentID          int32
	offsetInEdge      int            // 在道路中的索引，0为最左侧车道，1为左数第二侧车道，以此类推
	predecessors      []entity.ILane // 前驱车道（按ID排序）
	successors        []entity.ILane // 后继车道（按ID排序）
	uniquePredecessor entity.ILane   // 唯一前驱
	uniqueSuccessor   entity.ILane   // 唯一后继

	lineLengths    []float64                    // 中心线折线点对应的的长度列表
	length         float64                      // 车道长度
	lineScale      float64                      // 折线长度与车道长度之比
	width          float64                      // 车道宽度
	lineDirections []geometry.PolylineDirection // 中心线折线段每一段的方向（atan2）
	line           []geometry.Point             // 转成Point的中心线折线

	maxVBuffer float64 // 限速buffer
	k          float64 // 平滑系数
	meanSpeed  float64 // 平滑后的平均车速

	pedestrians *laneList[entity.IPedestrian, struct{}]
	vehicles    *laneList[entity.IVehicle, entity.VehicleSideLink]
	planned     plannedList

	lightState              mapv2.LightState // 车道信号灯状态
	lightStateTotalTime     float64          // 车道信号灯本相位总时长
	lightStateRemainingTime float64          // 车道信号灯下一次切换时间
}

// newLane 创建并初始化一个新的Lane实例
// 功能：根据路网定义创建Lane对象，初始化几何信息、通行权限、信号灯等配置
// 参数：ctx-任务上下文，base-车道定义，allow-允许通行的车辆类别
// 返回：初始化完成的Lane实例
func newLane(ctx entity.ITaskContext, base *input.LaneSpec, allow []entity.VehicleClass) *Lane {
	l := &Lane{
		ctx:                     ctx,
		id:                      base.ID,
		initPredecessors:        base.Predecessors,
		initSuccessors:          base.Successors,
		typ:                     base.LaneType(),
		turn:                    base.LaneTurn(),
		allow:                   lo.SliceToMap(allow, func(c entity.VehicleClass) (entity.VehicleClass, bool) { return c, true }),
		maxV:                    base.MaxSpeed,
		maxVBuffer:              base.MaxSpeed,
		meanSpeed:               base.MaxSpeed,
		k:                       math.Exp(-ctx.Clock().DT / winLength),
		width:                   base.Width,
		lightState:              mapv2.LightState_LIGHT_STATE_GREEN,
		lightStateTotalTime:     mathutil.INF,
		lightStateRemainingTime: mathutil.INF,
	}
	if l.width <= 0 {
		l.width = 3.2
	}
	if len(base.Shape) >= 2 {
		l.line = lo.Map(base.Shape, func(p input.Point, _ int) geometry.Point {
			return geometry.NewPointFromPb(&geov2.XYPosition{X: p.X, Y: p.Y})
		})
	} else {
		l.line = []geometry.Point{{X: 0, Y: 0}, {X: base.Length, Y: 0}}
	}
	l.lineLengths = geometry.GetPolylineLengths2D(l.line)
	l.lineDirections = geometry.GetPolylineDirections(l.line)
	lineLength := l.lineLengths[len(l.lineLengths)-1]
	l.length = lineLength
	if base.Length > 0 {
		l.length = base.Length
	}
	l.lineScale = lineLength / l.length

	switch l.typ {
	case mapv2.LaneType_LANE_TYPE_DRIVING, mapv2.LaneType_LANE_TYPE_RAIL_TRANSIT:
		l.vehicles = newLaneList[entity.IVehicle, entity.VehicleSideLink](
			fmt.Sprintf("lane %d vehicles", l.id),
		)
	case mapv2.LaneType_LANE_TYPE_WALKING:
		l.pedestrians = newLaneList[entity.IPedestrian, struct{}](
			fmt.Sprintf("lane %d pedestrians", l.id),
		)
	default:
		log.Panicf("bad type %v for lane %d", l.typ, l.id)
	}
	return l
}

// initWithManager 在管理器初始化后建立Lane的连接关系
// 参数：laneManager-车道管理器
func (l *Lane) initWithManager(laneManager entity.ILaneManager) {
	for _, id := range lo.Uniq(l.initPredecessors) {
		l.predecessors = append(l.predecessors, laneManager.Get(id))
	}
	for _, id := range lo.Uniq(l.initSuccessors) {
		l.successors = append(l.successors, laneManager.Get(id))
	}
	sort.Slice(l.predecessors, func(i, j int) bool { return l.predecessors[i].ID() < l.predecessors[j].ID() })
	sort.Slice(l.successors, func(i, j int) bool { return l.successors[i].ID() < l.successors[j].ID() })
	if len(l.predecessors) == 1 {
		l.uniquePredecessor = l.predecessors[0]
	}
	if len(l.successors) == 1 {
		l.uniqueSuccessor = l.successors[0]
	}
	l.initPredecessors = nil
	l.initSuccessors = nil
}

// prepare 准备阶段
// 功能：更新限速，维护行人列表，清空上一步的规划占用
func (l *Lane) prepare() {
	// 限速buffer写入
	l.maxV = l.maxVBuffer
	l.pedestrians.apply()
	l.planned.clear()
}

// prepare2 第二阶段准备，构建车辆链表的左右支链
// 说明：等待相邻车道完成主链构建后进行，确保数据一致性
func (l *Lane) prepare2() {
	if l.vehicles == nil {
		return
	}
	for node := l.vehicles.list.First(); node != nil; node = node.Next() {
		node.Extra.Clear()
	}
	for _, which := range []int{entity.LEFT, entity.RIGHT} {
		neighborLane := l.NeighborLane(which)
		if neighborLane == nil {
			continue
		}
		// 根据邻居车道链表构建本车道链表支链
		var nBack *entity.VehicleNode = nil
		nFront := neighborLane.Vehicles().First()
		if nFront == nil {
			// 隔壁车道没车，不需要任何处理
			continue
		}
		for node := l.vehicles.list.First(); node != nil; node = node.Next() {
			nodeRatio := node.S / l.length
			// nFront是第一个位置比例不小于node的车，nBack是最后一个位置比例小于node的车
			for nFront != nil && nFront.S/neighborLane.Length() < nodeRatio {
				nBack = nFront
				nFront = nFront.Next()
			}
			node.Extra.Links[which][entity.BEFORE] = nBack
			node.Extra.Links[which][entity.AFTER] = nFront
		}
	}
}

// PlanMovements 规划本车道所有车辆的纵向运动
// 功能：从前车到后车依次规划，使后车能读取同车道前车的本步规划结果
// 说明：最前方车辆的前车由车辆沿路径向前扫描得到（其他车道的上一步状态）
func (l *Lane) PlanMovements() {
	if l.vehicles == nil {
		return
	}
	for node := l.vehicles.list.Last(); node != nil; node = node.Prev() {
		var leader *entity.Leader
		if next := node.Next(); next != nil {
			rear := next.S - next.L()
			leader = &entity.Leader{
				Vehicle: next.Value,
				Rear:    rear,
				V:       next.V(),
				Bound:   rear + next.Value.Plan().Dist,
			}
		}
		node.Value.PlanMove(leader)
	}
}

// commitVehicles 提交本车道车辆的规划
// 说明：车辆跨车道移动通过增删缓冲区实现，由applyMovements统一生效
func (l *Lane) commitVehicles() {
	if l.vehicles == nil {
		return
	}
	for node := l.vehicles.list.First(); node != nil; {
		next := node.Next()
		node.Value.Commit()
		node = next
	}
}

// applyMovements 应用车辆链表缓冲区并检查顺序不变量
// 说明：相邻车辆必须满足 后车车头+后车最小间距 <= 前车车尾，否则说明规划存在缺陷，直接panic
func (l *Lane) applyMovements() {
	if l.vehicles == nil {
		return
	}
	l.vehicles.apply()
	if err := l.CheckOrder(); err != nil {
		log.Panicf("%v: %v", l, err)
	}
}

// CheckOrder 检查车辆顺序与最小间距
func (l *Lane) CheckOrder() error {
	return l.vehicles.list.CheckOrder(func(back, front *entity.VehicleNode) error {
		if back.S+back.Value.MinGap() > front.S-front.L()+orderEps {
			return fmt.Errorf("%v (s=%.3f, gap=%.2f) overlaps %v (s=%.3f, len=%.2f)",
				back.Value, back.S, back.Value.MinGap(), front.Value, front.S, front.L())
		}
		return nil
	})
}

// update 更新车道平均车速（指数平滑）
func (l *Lane) update() {
	if l.vehicles == nil {
		return
	}
	cur := l.maxV
	if n := l.vehicles.list.Len(); n > 0 {
		sum := 0.0
		for node := l.vehicles.list.First(); node != nil; node = node.Next() {
			sum += node.V()
		}
		cur = sum / float64(n)
	}
	l.meanSpeed = l.k*l.meanSpeed + (1-l.k)*cur
}

// InsertVehicle 尝试将车辆插入本车道
// 功能：检查插入位置前后的车辆与前驱车道上驶来的车辆，满足间距与速度要求时插入
// 参数：v-车辆，pos-车头位置，speed-期望插入速度，reducible-是否允许降低速度以满足前车约束
// 返回：车辆链表节点、实际插入速度、是否成功（失败表示本步重试）
// 算法说明：
// 1. 前车：净车距非负，且插入速度不超过跟车模型给出的插入速度（或可降速）
// 2. 无前车时考虑后继车道上车尾伸入本车道的车辆
// 3. 后车：净车距非负，且后车以舒适减速度制动即可跟随
// 4. 无后车时对前驱车道的最前车辆做同样检查
func (l *Lane) InsertVehicle(v entity.IVehicle, pos, speed float64, reducible bool) (*entity.VehicleNode, float64, bool) {
	if l.vehicles == nil || !l.Allows(v.Class()) {
		return nil, 0, false
	}
	fit := func(gap, leaderV float64) bool {
		if gap < 0 {
			return false
		}
		maxV := v.InsertionFollowSpeed(gap, leaderV)
		if speed <= maxV+orderEps {
			return true
		}
		if reducible {
			speed = maxV
			return true
		}
		return false
	}
	behind, ahead := l.vehicles.list.Find(pos)
	if ahead != nil {
		if !fit(ahead.S-ahead.L()-pos-v.MinGap(), ahead.V()) {
			return nil, 0, false
		}
	} else if rear, rv := l.TailOverhang(); rear < 0 {
		if !fit(l.length+rear-pos-v.MinGap(), rv) {
			return nil, 0, false
		}
	}
	dt := l.ctx.Clock().DT
	canFollow := func(f entity.IVehicle, fS, fV, gap float64) bool {
		if gap < 0 {
			return false
		}
		return f.FollowSpeed(gap, speed) >= fV-f.Decel()*dt-orderEps
	}
	if behind != nil {
		if !canFollow(behind.Value, behind.S, behind.V(), pos-v.Length()-behind.S-behind.Value.MinGap()) {
			return nil, 0, false
		}
	} else {
		for _, pred := range l.predecessors {
			last := pred.LastVehicle()
			if last == nil {
				continue
			}
			gap := pos - v.Length() + pred.Length() - last.S - last.Value.MinGap()
			if !canFollow(last.Value, last.S, last.V(), gap) {
				return nil, 0, false
			}
		}
	}
	node := &entity.VehicleNode{S: pos, Value: v}
	l.vehicles.list.Insert(node)
	return node, speed, true
}

// TailOverhang 后继车道上车辆车尾伸入本车道的最远位置
// 返回：rear-相对本车道终点的车尾位置（<=0），v-该车速度；无伸入时rear为0
func (l *Lane) TailOverhang() (rear, v float64) {
	return overhang(l, 0, overhangHops)
}

// overhang 递归查询lane后继车道的车尾伸入，offset为lane终点相对查询车道终点的距离
func overhang(lane entity.ILane, offset float64, hops int) (rear, v float64) {
	if hops == 0 {
		return 0, 0
	}
	for _, succ := range lane.Successors() {
		if first := succ.FirstVehicle(); first != nil {
			if r := first.S - first.L() + offset; r < rear {
				rear, v = r, first.V()
			}
		} else if r, rv := overhang(succ, offset+succ.Length(), hops-1); r < rear {
			rear, v = r, rv
		}
	}
	return
}

// 数据初始化

// SetParentEdgeWhenInit 设置lane所在edge与偏移量
func (l *Lane) SetParentEdgeWhenInit(parent entity.IEdge, offset int) {
	l.parentEdge = parent
	l.offsetInEdge = offset
	l.parentJunction = nil
	l.parentID = parent.ID()
}

// SetParentJunctionWhenInit 设置lane所在junction
func (l *Lane) SetParentJunctionWhenInit(parent entity.IJunction) {
	l.parentJunction = parent
	l.parentEdge = nil
	l.parentID = parent.ID()
}

// 静态数据

func (l *Lane) String() string {
	return fmt.Sprintf("Lane %d", l.id)
}

// 获取Lane ID
func (l *Lane) ID() int32 {
	if l == nil {
		return -1
	}
	return l.id
}

// 获取Lane长度
func (l *Lane) Length() float64 {
	return l.length
}

// 获取Lane宽度
func (l *Lane) Width() float64 {
	return l.width
}

// 获取Lane类型
func (l *Lane) Type() mapv2.LaneType {
	return l.typ
}

// 获取Lane转向类型
func (l *Lane) Turn() mapv2.LaneTurn {
	return l.turn
}

// 获取Lane的父对象(edge/junction)的ID
func (l *Lane) ParentID() int32 {
	return l.parentID
}

// Edge Lane在Edge中的偏移量，最左侧为0，往右侧递增
func (l *Lane) OffsetInEdge() int {
	if l.parentEdge == nil {
		log.Panicf("Lane %d: Not in edge", l.id)
	}
	return l.offsetInEdge
}

// Allows 是否允许该类别车辆行驶
func (l *Lane) Allows(class entity.VehicleClass) bool {
	return l.allow[class]
}

// 获取Lane的所有后继Lane
func (l *Lane) Successors() []entity.ILane {
	return l.successors
}

// 获取Lane的所有前驱Lane
func (l *Lane) Predecessors() []entity.ILane {
	return l.predecessors
}

// 查询唯一前驱，仅限于路口内车道
func (l *Lane) UniquePredecessor() (entity.ILane, error) {
	if l.parentJunction == nil || l.uniquePredecessor == nil {
		return nil, fmt.Errorf("Lane %d: Not in junction or predecessor not unique", l.id)
	}
	return l.uniquePredecessor, nil
}

// 查询唯一后继，仅限于路口内车道
func (l *Lane) UniqueSuccessor() (entity.ILane, error) {
	if l.parentJunction == nil || l.uniqueSuccessor == nil {
		return nil, fmt.Errorf("Lane %d: Not in junction or successor not unique", l.id)
	}
	return l.uniqueSuccessor, nil
}

// LinksTo 从本车道通往next道路的路口连接车道（按ID排序）
func (l *Lane) LinksTo(next entity.IEdge) []entity.ILane {
	if next == nil {
		return nil
	}
	return lo.Filter(l.successors, func(link entity.ILane, _ int) bool {
		out, err := link.UniqueSuccessor()
		return err == nil && out.ParentEdge() == next
	})
}

// GetPressure 计算Junction Lane的压力，用于信号灯控制
// 功能：计算车道压力值，基于前驱和后继车道的车辆密度差
// 返回：压力值，正值表示拥堵，负值表示畅通
// 算法说明：
// 1. 右转车道和步行道不参与压力计算
// 2. 计算前驱车道的车辆密度（车辆数/长度）并按前驱车道的后继数均分
// 3. 计算后继车道的车辆密度并按后继车道的前驱数均分
// 4. 压力 = 前驱密度 - 后继密度
func (l *Lane) GetPressure() float64 {
	if l.typ == mapv2.LaneType_LANE_TYPE_WALKING {
		return 0
	}
	if l.turn == mapv2.LaneTurn_LANE_TURN_RIGHT {
		// 右转也不纳入压力考虑
		return 0
	}
	if l.uniqueSuccessor == nil || l.uniquePredecessor == nil {
		log.Panicf("Lane %d: Either successor or predecessor is not unique", l.id)
	}
	pre := l.uniquePredecessor
	incoming := float64(pre.Vehicles().Len()) / pre.Length() / float64(len(pre.Successors()))
	suc := l.uniqueSuccessor
	outgoing := float64(suc.Vehicles().Len()) / suc.Length() / float64(len(suc.Predecessors()))
	return incoming - outgoing
}

// IsRightTurnDrivingLane 检查是否是右转行车道
func (l *Lane) IsRightTurnDrivingLane() bool {
	return l.typ == mapv2.LaneType_LANE_TYPE_DRIVING && l.turn == mapv2.LaneTurn_LANE_TURN_RIGHT
}

// 获取Lane所在的Edge
func (l *Lane) ParentEdge() entity.IEdge {
	return l.parentEdge
}

// 获取Lane所在的Junction
func (l *Lane) ParentJunction() entity.IJunction {
	return l.parentJunction
}

// 检查Lane是否为Edge Lane
func (l *Lane) InEdge() bool {
	return l.parentEdge != nil
}

// 检查Lane是否为Junction Lane
func (l *Lane) InJunction() bool {
	return l.parentJunction != nil
}

// 获取左侧的Lane
func (l *Lane) LeftLane() entity.ILane {
	return l.NeighborLane(entity.LEFT)
}

// 获取右侧的Lane
func (l *Lane) RightLane() entity.ILane {
	return l.NeighborLane(entity.RIGHT)
}

// 根据side获取左(side=0)/右(side=1)侧的Lane
func (l *Lane) NeighborLane(side int) entity.ILane {
	if l.parentEdge == nil {
		return nil
	}
	if side == entity.LEFT {
		return l.parentEdge.Lane(l.offsetInEdge - 1)
	}
	return l.parentEdge.Lane(l.offsetInEdge + 1)
}

// 信号灯

// 获取信号灯状态
func (l *Lane) Light() (mapv2.LightState, float64, float64) {
	return l.lightState, l.lightStateTotalTime, l.lightStateRemainingTime
}

// 设置信号灯状态
func (l *Lane) SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) {
	l.lightState = state
	l.lightStateTotalTime = totalTime
	l.lightStateRemainingTime = remainingTime
}

// 检查是否是人行道
func (l *Lane) IsWalkLane() bool {
	return l.Type() == mapv2.LaneType_LANE_TYPE_WALKING
}

// 路况

// 获取车道限速
func (l *Lane) MaxV() float64 {
	return l.maxV
}

// 设置车道限速（下一步生效）
func (l *Lane) SetMaxV(v float64) {
	l.maxVBuffer = v
}

// MeanSpeed 平滑后的车道平均速度，无车时趋向限速
func (l *Lane) MeanSpeed() float64 {
	return l.meanSpeed
}

// 人车更新相关函数

// 获取车道上的车辆
func (l *Lane) Vehicles() *entity.VehicleList {
	if l.vehicles == nil {
		return &entity.VehicleList{}
	}
	return l.vehicles.list
}

// 获取车道上的行人
func (l *Lane) Pedestrians() *entity.PedestrianList {
	if l.pedestrians == nil {
		return &entity.PedestrianList{}
	}
	return l.pedestrians.list
}

// 向Lane链表中添加行人（Prepare后生效）
func (l *Lane) AddPedestrian(node *entity.PedestrianNode) {
	l.pedestrians.add(node)
}

// 从Lane链表中移除行人（Prepare后生效）
func (l *Lane) RemovePedestrian(node *entity.PedestrianNode) {
	l.pedestrians.remove(node)
}

// 向Lane链表中添加车辆（提交后生效）
func (l *Lane) AddVehicle(node *entity.VehicleNode) {
	l.vehicles.add(node)
}

// 从Lane链表中移除车辆（提交后生效）
func (l *Lane) RemoveVehicle(node *entity.VehicleNode) {
	l.vehicles.remove(node)
}

// 获取最后方的车辆
func (l *Lane) FirstVehicle() *entity.VehicleNode {
	if l.vehicles == nil {
		return nil
	}
	return l.vehicles.list.First()
}

// 获取最前方的车辆
func (l *Lane) LastVehicle() *entity.VehicleNode {
	if l.vehicles == nil {
		return nil
	}
	return l.vehicles.list.Last()
}

// 对同一道路内的车道按比例"投影"
func (l *Lane) ProjectFromLane(other entity.ILane, otherS float64) float64 {
	if l.ParentEdge() != other.ParentEdge() {
		log.Panic("project from lane in different edge")
		return 0
	}
	return lo.Clamp(otherS/other.Length()*l.length, 0, l.length)
}

// 根据本车道s坐标计算切向角度
func (l *Lane) GetDirectionByS(s float64) (direction geometry.PolylineDirection) {
	s = lo.Clamp(s*l.lineScale, l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1])
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		direction = l.lineDirections[0]
	} else {
		direction = l.lineDirections[i-1]
	}
	return
}

// 将当前车道s坐标转换为xy(z)坐标
func (l *Lane) GetPositionByS(s float64) (pos geometry.Point) {
	if s < 0 || s > l.length {
		log.Debugf("get position with s %v out of range{0,%v}", s, l.length)
	}
	s = lo.Clamp(s*l.lineScale, l.lineLengths[0], l.lineLengths[len(l.lineLengths)-1])
	if i := sort.SearchFloat64s(l.lineLengths, s); i == 0 {
		pos = l.line[0]
	} else {
		sHigh, sLow := l.lineLengths[i], l.lineLengths[i-1]
		k := (s - sLow) / (sHigh - sLow)
		if k < 0 || k > 1 {
			log.Panicf("lane: GetPositionByS(), bad k %v. sHigh=%f, sLow=%f, s=%f", k, sHigh, sLow, s)
		}
		pos = geometry.Blend(l.line[i-1], l.line[i], k)
	}
	return
}

// 检查车道是否不能通行（不是绿灯）
func (l *Lane) IsNoEntry() bool {
	return l.InJunction() && l.lightState != mapv2.LightState_LIGHT_STATE_GREEN
}
