package entity

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/tsinghua-fib-lab/microsim/utils/container"
	"github.com/tsinghua-fib-lab/microsim/utils/randengine"
)

// 方位常量
const (
	LEFT   = 0 // 左侧
	RIGHT  = 1 // 右侧
	BEFORE = 0 // 后方，等价于prev/behind
	AFTER  = 1 // 前方，等价于next/ahead
)

// entity/vehicle/vehicle.go的依赖倒置
type IVehicle interface {
	// 自身属性

	ID() int32                // 获取车辆ID
	Class() VehicleClass      // 车辆类别
	Length() float64          // 车长
	MinGap() float64          // 最小停车间距
	Decel() float64           // 舒适减速度（正数）
	EmergencyDecel() float64  // 紧急减速度（正数）
	State() VehicleState      // 生命周期状态
	Lane() ILane              // 所在车道（上一步提交后的状态）
	S() float64               // 车头在车道上的位置
	V() float64               // 速度
	A() float64               // 加速度
	WaitingTime() float64     // 连续停车时长
	Node() *VehicleNode       // 所在车道链表中的节点
	Rand() *randengine.Engine // 车辆独立的随机数引擎

	// 跟车模型查询

	FollowSpeed(gap, leaderV float64) float64          // 安全跟驰速度
	InsertionFollowSpeed(gap, leaderV float64) float64 // 插入时允许的速度

	// 仿真阶段

	PlanMove(leader *Leader) // 规划本步纵向运动与变道意图
	Plan() *Plan             // 本步规划结果
	Grant() ILane            // 当前持有的路口通行许可（连接车道）
	SetGrant(link ILane)     // 设置/撤销路口通行许可
	Commit()                 // 提交本步规划

	String() string
	ToMotionPb() *personv2.PersonMotion // 产生车辆的运行时Protobuf
}

// entity/person/pedestrian.go的依赖倒置
type IPedestrian interface {
	ID() int32
	V() float64
	Length() float64
	S() float64
	IsForward() bool
}

// Leader 前车信息
// 说明：所有位置都在本车当前车道坐标系下
type Leader struct {
	Vehicle IVehicle
	Rear    float64 // 前车车尾位置（上一步状态）
	V       float64 // 前车速度（上一步状态）
	Bound   float64 // 前车本步规划完成后的车尾位置，不可知时等于Rear
}

func (l *Leader) String() string {
	return fmt.Sprintf("Leader{Vehicle=%v, Rear=%.2f, V=%.2f, Bound=%.2f}", l.Vehicle, l.Rear, l.V, l.Bound)
}

// 变道优先级
type LCPriority int

const (
	LCNone      LCPriority = iota // 无变道意图
	LCSpeedGain                   // 为提高速度变道
	LCMandatory                   // 为沿路径行驶必须变道
)

func (p LCPriority) String() string {
	switch p {
	case LCSpeedGain:
		return "speed-gain"
	case LCMandatory:
		return "mandatory"
	default:
		return "none"
	}
}

// LCProposal 变道提议
type LCProposal struct {
	Target   ILane      // 目标车道（相邻车道）
	Priority LCPriority // 优先级
	Urgency  float64    // 紧迫度，>=1时允许使用紧急减速度
	Forced   bool       // 来自外部控制
}

// Plan 车辆单步规划
// 说明：规划只读取上一步状态（同车道前车的本步规划除外），在提交阶段统一生效
type Plan struct {
	V      float64     // 本步末速度
	A      float64     // 本步加速度
	Dist   float64     // 本步纵向行驶距离
	Lane   ILane       // 本步末所在车道
	S      float64     // 本步末车头位置
	Path   []ILane     // 本步新进入的车道（按顺序）
	Arrive bool        // 本步到达终点
	LC     *LCProposal // 变道提议，为nil表示不变道
	Change ILane       // 被接受的变道目标，为nil表示未变道
}

// Reset 清空规划
func (p *Plan) Reset() {
	*p = Plan{Path: p.Path[:0]}
}

// PlannedEntry 车道上的规划占用
type PlannedEntry struct {
	Vehicle IVehicle
	Front   float64 // 本步末车头在该车道坐标系下的位置
	V       float64 // 本步末速度
}

// Rear 车尾位置
func (e *PlannedEntry) Rear() float64 {
	return e.Front - e.Vehicle.Length()
}

// 车辆链表支链，记录左右车道的前后车辆
type VehicleSideLink struct {
	// [LEFT/RIGHT][BACK/FRONT]
	Links [2][2]*VehicleNode
}

func (l VehicleSideLink) String() string {
	s := ""
	for side, sideName := range []string{"L", "R"} {
		for pos, posName := range []string{"B", "F"} {
			if n := l.Links[side][pos]; n != nil {
				s += fmt.Sprintf("%s-%s: %v ", sideName, posName, n.Value.ID())
			} else {
				s += fmt.Sprintf("%s-%s: nil ", sideName, posName)
			}
		}
	}
	return s
}

// 清空链表
func (l *VehicleSideLink) Clear() {
	l.Links = [2][2]*VehicleNode{}
}

// 车辆链表节点类型
type VehicleNode = container.ListNode[IVehicle, VehicleSideLink]

// 车辆链表类型
type VehicleList = container.List[IVehicle, VehicleSideLink]

// 行人链表节点类型
type PedestrianNode = container.ListNode[IPedestrian, struct{}]

// 行人链表类型
type PedestrianList = container.List[IPedestrian, struct{}]

// entity/lane/lane.go的依赖倒置
type ILane interface {
	ILaneTrafficLightSetter

	// 初始化

	SetParentEdgeWhenInit(parent IEdge, offset int) // 设置lane所在edge的指针与偏移量
	SetParentJunctionWhenInit(parent IJunction)     // 设置lane所在junction

	String() string

	// getter

	ID() int32            // 获取Lane ID
	Length() float64      // 获取Lane长度
	Width() float64       // 获取Lane宽度
	Type() mapv2.LaneType // 获取Lane类型
	Turn() mapv2.LaneTurn // 获取Lane转向类型
	ParentID() int32      // 获取Lane的父对象(edge/junction)的ID
	OffsetInEdge() int    // Edge Lane在Edge中的偏移量，最左侧为0，往右侧递增
	InEdge() bool         // 检查Lane是否为Edge Lane
	InJunction() bool     // 检查Lane是否为Junction Lane
	ParentEdge() IEdge    // 获取Lane所在的Edge
	ParentJunction() IJunction
	Allows(class VehicleClass) bool // 是否允许该类别车辆行驶

	ProjectFromLane(l ILane, s float64) float64 // 对同一道路内的车道按比例"投影"

	Predecessors() []ILane             // 前驱车道（按ID排序）
	Successors() []ILane               // 后继车道（按ID排序）
	UniquePredecessor() (ILane, error) // 查询唯一前驱，仅限于路口内车道
	UniqueSuccessor() (ILane, error)   // 查询唯一后继，仅限于路口内车道
	LinksTo(next IEdge) []ILane        // 从本车道通往next道路的路口连接车道
	LeftLane() ILane                   // 获取左侧的Lane
	RightLane() ILane                  // 获取右侧的Lane
	NeighborLane(side int) ILane       // 根据side获取左(side=0)/右(side=1)侧的Lane

	GetPositionByS(s float64) geometry.Point              // 将当前车道s坐标转换为xy坐标
	GetDirectionByS(s float64) geometry.PolylineDirection // 根据本车道s坐标计算切向角度

	MaxV() float64 // 获取车道限速
	SetMaxV(v float64)
	IsNoEntry() bool                                                           // 检查车道是否不能通行（不是绿灯）
	Light() (state mapv2.LightState, totalTime float64, remainingTime float64) // 获取信号灯状态

	// 车辆

	FirstVehicle() *VehicleNode       // 获取最后方的车辆
	LastVehicle() *VehicleNode        // 获取最前方的车辆
	Vehicles() *VehicleList           // 获取车道上的车辆
	AddVehicle(node *VehicleNode)     // 向Lane链表中添加车辆（提交后生效）
	RemoveVehicle(node *VehicleNode)  // 从Lane链表中移除车辆（提交后生效）
	TailOverhang() (rear, v float64)  // 后继车道上车辆车尾伸入本车道的最远位置（相对车道终点，<=0），无则返回0
	MeanSpeed() float64               // 车道平均速度（无车时为限速）
	Pedestrians() *PedestrianList     // 获取车道上的行人
	AddPedestrian(n *PedestrianNode)  // 向Lane链表中添加行人（准备阶段生效）
	RemovePedestrian(n *PedestrianNode)

	// 规划占用

	AddPlanned(e PlannedEntry)                                             // 登记规划占用（并发安全）
	RemovePlanned(v IVehicle)                                              // 删除规划占用
	PlannedNeighbors(front float64, self IVehicle) (behind, ahead *PlannedEntry) // 查询规划占用的前后车
	Planned() []PlannedEntry                                               // 全部规划占用（按车头位置升序）
}

// 车道的信控接口
type ILaneTrafficLightSetter interface {
	GetPressure() float64                                                      // 计算Junction Lane的压力，用于信号灯控制
	SetLight(state mapv2.LightState, totalTime float64, remainingTime float64) // 设置信号灯状态
	IsWalkLane() bool                                                          // 检查是否是人行道
	IsRightTurnDrivingLane() bool                                              // 检查是否是右转行车道
}

// entity/edge/edge.go的依赖倒置
type IEdge interface {
	String() string

	ID() int32
	Name() string
	Lanes() []ILane        // 行车道，从左到右
	WalkingLanes() []ILane // 人行道
	Lane(index int) ILane
	Length() float64
	MaxV() float64
	MeanSpeed() float64 // 各车道平均速度的均值
	From() IJunction    // 上游路口
	To() IJunction      // 下游路口

	Allows(class VehicleClass) bool
	AllowedLanes(class VehicleClass) []ILane
	BestLanes(next IEdge, class VehicleClass) []ILane
	PreferredLink(lane ILane, next, nextNext IEdge) ILane
	DepartLane(policy DepartLane, class VehicleClass, next IEdge, rng *randengine.Engine) ILane
}

// entity/junction/junction.go的依赖倒置
type IJunction interface {
	ID() int32
	Kind() JunctionKind
	Lanes() []ILane       // 路口内全部车道
	Links() []ILane       // 路口内连接车道
	HasTrafficLight() bool
	IsFoe(a, b ILane) bool
	AddRequest(r Request) // 提交通行请求（并发安全）
}
