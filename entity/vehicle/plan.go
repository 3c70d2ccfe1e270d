package vehicle

import (
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/carfollow"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/lanechange"
)

const (
	requestMargin = 5.0 // 发送路口请求的额外距离裕量
)

// PlanMove 规划本步纵向运动与变道意图
// 功能：根据同车道前车（含其本步规划）与前方车道的快照状态计算本步末速度与位置
// 参数：leader-同车道前车，为nil表示本车是车道上最前方的车辆
// 算法说明：
// 1. 自由行驶速度受期望速度与车道限速约束
// 2. 同车道前车：跟车速度，位置不超过前车本步规划后的车尾
// 3. 沿路径向前扫描：前方车道上的车辆、车尾伸入、限速下降、没有路口许可时在车道末端停车
// 4. 外部设定的速度优先于模型，但位置仍受上述位置上界约束
// 5. 沿路径推进位置，到达终点位置时标记到达
// 6. 未进入新车道且未持有路口许可时给出变道意图
func (v *Vehicle) PlanMove(leader *entity.Leader) {
	p := &v.plan
	p.Reset()
	p.Lane, p.S, p.V = v.lane, v.s, v.v
	if !v.state.OnRoad() {
		return
	}
	dt := v.ctx.Clock().DT
	cf := v.vtype.CarFollowing
	v.ego.V = v.v
	if u, ok := cf.(carfollow.DriverStateUpdater); ok {
		u.UpdateDriverState(&v.ego)
	}

	vMax := cf.FreeSpeed(&v.ego, v.limit(v.lane))
	bound := math.Inf(1)
	if leader != nil {
		vMax = math.Min(vMax, v.FollowSpeed(leader.Rear-v.MinGap()-v.s, leader.V))
		bound = leader.Bound - v.MinGap()
	}
	vMax, bound = v.scanAhead(leader != nil, vMax, bound)

	var vNext float64
	if v.speedCmd != nil {
		vNext = math.Max(*v.speedCmd, 0)
	} else {
		vNext = cf.FinalizeSpeed(&v.ego, vMax)
	}
	dist := vNext * dt
	if limit := math.Max(bound-v.s, 0); dist > limit {
		dist = limit
		vNext = dist / dt
	}
	p.V, p.A, p.Dist = vNext, (vNext-v.v)/dt, dist

	lane, cursor, pos := v.lane, v.cursor, v.s+dist
	last := v.route.Len() - 1
	for {
		if lane.InEdge() && cursor == last && pos >= v.arrivalOn(lane)-posEps {
			p.Arrive = true
			pos = math.Min(pos, lane.Length())
			break
		}
		if pos <= lane.Length() {
			break
		}
		next := v.nextLane(lane, cursor)
		if next == nil {
			// 位置上界保证不会越过没有许可的车道末端
			log.Panicf("%v: no lane after %v but planned %.2fm beyond its end", v, lane, pos-lane.Length())
		}
		pos -= lane.Length()
		if next.InEdge() {
			cursor++
		}
		lane = next
		p.Path = append(p.Path, lane)
	}
	p.Lane, p.S = lane, pos

	if !p.Arrive && len(p.Path) == 0 && v.lane.InEdge() && v.grant == nil && v.s >= v.Length() {
		p.LC = v.proposeLaneChange()
	}
}

// scanAhead 沿路径向前扫描，收紧速度与位置上界
// 参数：hasLeader-是否有同车道前车，vMax-当前速度上界，bound-当前位置上界（本车道坐标）
// 返回：新的速度上界与位置上界
func (v *Vehicle) scanAhead(hasLeader bool, vMax, bound float64) (float64, float64) {
	cf := v.vtype.CarFollowing
	minGap := v.MinGap()
	lane, cursor := v.lane, v.cursor
	last := v.route.Len() - 1
	dist := lane.Length() - v.s // 车头到lane终点的距离
	follow := func(rear, leaderV float64) {
		vMax = math.Min(vMax, v.FollowSpeed(rear-minGap, leaderV))
		bound = math.Min(bound, v.s+rear-minGap)
	}
	if !hasLeader {
		if rear, rv := lane.TailOverhang(); rear < 0 {
			follow(dist+rear, rv)
			return vMax, bound
		}
	}
	lookahead := v.ctx.RuntimeConfig().C.Lookahead
	for dist < lookahead {
		if lane.InEdge() && cursor == last {
			return vMax, bound
		}
		next := v.nextLane(lane, cursor)
		if next == nil {
			vMax = math.Min(vMax, cf.StopSpeed(&v.ego, dist))
			bound = math.Min(bound, v.s+dist)
			return vMax, bound
		}
		if lim := v.limit(next); lim < v.v {
			vMax = math.Min(vMax, v.FollowSpeed(dist, lim))
		}
		if next.InEdge() {
			cursor++
		}
		if first := next.FirstVehicle(); first != nil {
			follow(dist+first.S-first.L(), first.V())
			return vMax, bound
		}
		if rear, rv := next.TailOverhang(); rear < 0 {
			follow(dist+next.Length()+rear, rv)
			return vMax, bound
		}
		dist += next.Length()
		lane = next
	}
	return vMax, bound
}

// nextLane 车辆在lane之后将进入的车道
// 功能：路口内车道取唯一后继；道路车道只有持有从该车道出发的连接许可时才能进入路口
// 返回：下一车道，需要在lane末端停车时返回nil
func (v *Vehicle) nextLane(lane entity.ILane, cursor int) entity.ILane {
	if lane.InJunction() {
		out, err := lane.UniqueSuccessor()
		if err != nil {
			return nil
		}
		return out
	}
	if v.grant == nil || v.route.At(cursor+1) == nil {
		return nil
	}
	if pred, err := v.grant.UniquePredecessor(); err == nil && pred == lane {
		return v.grant
	}
	return nil
}

// requestLink 选择从lane驶向路径下一道路的连接车道，驶出车道必须允许本车类别
func (v *Vehicle) requestLink(lane entity.ILane, cursor int) entity.ILane {
	next := v.route.At(cursor + 1)
	if next == nil {
		return nil
	}
	class := v.Class()
	usable := func(link entity.ILane) bool {
		out, err := link.UniqueSuccessor()
		return err == nil && out.Allows(class)
	}
	if link := lane.ParentEdge().PreferredLink(lane, next, v.route.At(cursor+2)); link != nil && usable(link) {
		return link
	}
	link, _ := lo.Find(lane.LinksTo(next), usable)
	return link
}

// planCursor 规划结束时所在道路在路径中的下标
func (v *Vehicle) planCursor() int {
	cursor := v.cursor
	for _, l := range v.plan.Path {
		if l.InEdge() {
			cursor++
		}
	}
	return cursor
}

// proposeLaneChange 构建变道决策输入并给出变道意图
// 算法说明：
// 1. 外部指定目标车道时，向目标方向产生强制变道
// 2. 相邻车道的前后车来自车道链表支链，位置按车道长度比例投影
// 3. 战略需求：当前车道不能驶向路径下一道路时，需向最近的可行车道变道
func (v *Vehicle) proposeLaneChange() *entity.LCProposal {
	lane := v.lane
	edge := lane.ParentEdge()
	class := v.Class()
	if v.laneCmd >= 0 {
		target := edge.Lane(v.laneCmd)
		if target == nil || target == lane {
			return nil
		}
		side := entity.RIGHT
		if v.laneCmd < lane.OffsetInEdge() {
			side = entity.LEFT
		}
		if nl := lane.NeighborLane(side); nl != nil && nl.Allows(class) {
			return &entity.LCProposal{Target: nl, Priority: entity.LCMandatory, Urgency: 1, Forced: true}
		}
		return nil
	}

	node := v.node
	length, minGap := v.Length(), v.MinGap()
	in := &lanechange.Input{
		Ego:       &v.ego,
		CF:        v.vtype.CarFollowing,
		Now:       v.ctx.Clock().T,
		State:     v.lcState,
		Length:    length,
		MaxV:      v.limit(lane),
		DistToEnd: lane.Length() - v.s,
	}
	if next := node.Next(); next != nil {
		in.Leader = lanechange.Neighbor{Exists: true, Gap: next.S - next.L() - v.s - minGap, V: next.V()}
	}
	if prev := node.Prev(); prev != nil {
		in.Follower = lanechange.Neighbor{Exists: true, Gap: v.s - length - prev.S - prev.Value.MinGap(), V: prev.V()}
	}
	best := edge.BestLanes(v.route.At(v.cursor+1), class)
	for _, side := range []int{entity.LEFT, entity.RIGHT} {
		sl := lane.NeighborLane(side)
		if sl == nil || !sl.Allows(class) {
			continue
		}
		front := v.s / lane.Length() * sl.Length()
		s := lanechange.Side{Lane: sl, MaxV: v.limit(sl), InBest: lo.Contains(best, sl)}
		if a := node.Extra.Links[side][entity.AFTER]; a != nil {
			gap := a.S - a.L() - front - minGap
			if gap < 0 {
				continue
			}
			s.Leader = lanechange.Neighbor{Exists: true, Gap: gap, V: a.V()}
		}
		if b := node.Extra.Links[side][entity.BEFORE]; b != nil {
			gap := front - length - b.S - b.Value.MinGap()
			if gap < 0 {
				continue
			}
			s.Follower = lanechange.Neighbor{Exists: true, Gap: gap, V: b.V()}
		}
		in.Sides[side] = s
	}
	if len(best) > 0 && !lo.Contains(best, lane) {
		// 最近的可行车道，距离相同时取左侧
		offset := lane.OffsetInEdge()
		nearest := lo.MinBy(best, func(a, b entity.ILane) bool {
			return abs(a.OffsetInEdge()-offset) < abs(b.OffsetInEdge()-offset)
		})
		diff := nearest.OffsetInEdge() - offset
		in.BestSide, in.BestCount = entity.RIGHT, diff
		if diff < 0 {
			in.BestSide, in.BestCount = entity.LEFT, -diff
		}
	}
	d, ok := lanechange.Decide(v.vtype.LaneChange, in, lane.Length()-v.s)
	if !ok {
		return nil
	}
	return &entity.LCProposal{Target: in.Sides[d.Side].Lane, Priority: d.Priority, Urgency: d.Urgency}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// registerPlanned 在规划结束所在车道及车身覆盖的之前车道上登记规划占用
func (v *Vehicle) registerPlanned() {
	p := &v.plan
	if p.Arrive || !v.state.OnRoad() {
		return
	}
	p.Lane.AddPlanned(entity.PlannedEntry{Vehicle: v, Front: p.S, V: p.V})
	// 之前车道序列：trail, v.lane, Path[:n-1]
	n := len(p.Path)
	before := func(i int) entity.ILane {
		switch {
		case i < len(v.trail):
			return v.trail[i]
		case i == len(v.trail):
			return v.lane
		default:
			return p.Path[i-len(v.trail)-1]
		}
	}
	total := len(v.trail)
	if n > 0 {
		total += n // v.lane与Path[:n-1]
	}
	front := p.S
	for i := total - 1; i >= 0 && front-v.Length() < 0; i-- {
		l := before(i)
		front += l.Length()
		l.AddPlanned(entity.PlannedEntry{Vehicle: v, Front: front, V: p.V})
	}
}

// sendRequest 向前方路口发送通行请求
// 功能：规划结束时接近停止线或已持有许可的车辆向路口提交请求
// 算法说明：
// 1. 所在车道与许可的连接车道不一致（例如已变道）时许可失效
// 2. 未持有许可的车辆仅在本步与下一步可能到达停止线（含制动距离）时发送
func (v *Vehicle) sendRequest() {
	p := &v.plan
	if p.Arrive || !v.state.OnRoad() || !p.Lane.InEdge() {
		return
	}
	cursor := v.planCursor()
	if v.route.At(cursor+1) == nil {
		v.grant = nil
		return
	}
	holding := false
	if v.grant != nil {
		if pred, err := v.grant.UniquePredecessor(); err == nil && pred == p.Lane {
			holding = true
		} else {
			v.grant = nil
		}
	}
	clock := v.ctx.Clock()
	dt, b := clock.DT, v.Decel()
	dist := p.Lane.Length() - p.S
	brake := p.V * p.V / (2 * b)
	if !holding && dist > 2*p.V*dt+brake+requestMargin {
		return
	}
	link := v.grant
	if link == nil {
		if link = v.requestLink(p.Lane, cursor); link == nil {
			return
		}
	}
	stopped := p.V < stopSpeed && dist < stopLineRange
	arrival := clock.T + dt + dist/math.Max(p.V, stopSpeed)
	if stopped {
		arrival = clock.T + dt
		if v.v < stopSpeed && v.waitingTime > 0 {
			arrival = v.waitStart
		}
	}
	link.ParentJunction().AddRequest(entity.Request{
		Vehicle:     v,
		Link:        link,
		Dist:        dist,
		V:           p.V,
		ArrivalTime: arrival,
		CanStop:     brake <= dist+posEps,
		Stopped:     stopped,
		Holding:     holding,
	})
}
