package junction

import (
	"math"
	"sort"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/microsim/entity"
)

// AddRequest 提交通行请求（并发安全）
func (j *Junction) AddRequest(r entity.Request) {
	j.requestsMtx.Lock()
	defer j.requestsMtx.Unlock()
	j.requests = append(j.requests, r)
}

// resolve 裁决本步的全部通行请求
// 功能：在冲突连接车道互斥的前提下，按到达顺序为车辆发放进入连接车道的许可
// 算法说明：
// 1. 已被占用的连接车道（有车辆或规划占用、或驶出车辆的车尾仍在其中）视为已声明
// 2. 已持有许可的车辆：信号路口中不再满足通行条件且能停车的撤销许可，否则保持声明
// 3. 其余请求按(到达时间, 速度降序, ID升序)排序后依次检查：
//    路口类型条件、冲突连接是否已声明、需让行的冲突连接是否有可通行的请求、驶出车道是否有足够空间
// 4. 通过检查的请求获得许可，其连接车道被声明
// 说明：被拒绝的车辆在停止线前停车，下一步重新请求
func (j *Junction) resolve() {
	requests := j.requests
	j.requests = nil
	if len(requests) == 0 {
		return
	}
	sort.SliceStable(requests, func(a, b int) bool {
		ra, rb := &requests[a], &requests[b]
		if ra.ArrivalTime != rb.ArrivalTime {
			return ra.ArrivalTime < rb.ArrivalTime
		}
		if ra.V != rb.V {
			return ra.V > rb.V
		}
		return ra.Vehicle.ID() < rb.Vehicle.ID()
	})

	claimed := make(map[int32]bool, len(j.links))
	used := make(map[int32]float64)
	for _, link := range j.links {
		if occupied(link) {
			claimed[link.ID()] = true
		}
		out, _ := link.UniqueSuccessor()
		for _, e := range link.Planned() {
			used[out.ID()] += e.Vehicle.Length() + e.Vehicle.MinGap()
		}
	}
	pending := make([]*entity.Request, 0, len(requests))
	for i := range requests {
		r := &requests[i]
		if !r.Holding {
			pending = append(pending, r)
			continue
		}
		if j.kind == entity.JunctionTrafficLight && r.CanStop && !j.eligible(r, claimed) {
			r.Vehicle.SetGrant(nil)
			log.Debugf("%v: revoke %v on %v", j, r.Vehicle, r.Link)
			continue
		}
		claimed[r.Link.ID()] = true
		out, _ := r.Link.UniqueSuccessor()
		used[out.ID()] += r.Vehicle.Length() + r.Vehicle.MinGap()
	}

	for _, r := range pending {
		if !j.eligible(r, claimed) {
			continue
		}
		if j.foeClaimed(r.Link, claimed) {
			continue
		}
		if j.mustYield(r, pending, claimed) {
			continue
		}
		out, _ := r.Link.UniqueSuccessor()
		need := r.Vehicle.Length() + r.Vehicle.MinGap()
		if exitSpace(out)-used[out.ID()] < need {
			continue
		}
		claimed[r.Link.ID()] = true
		used[out.ID()] += need
		r.Vehicle.SetGrant(r.Link)
	}
}

// eligible 路口类型对请求的通行条件
func (j *Junction) eligible(r *entity.Request, claimed map[int32]bool) bool {
	switch j.kind {
	case entity.JunctionTrafficLight:
		state, _, _ := r.Link.Light()
		switch state {
		case mapv2.LightState_LIGHT_STATE_GREEN:
			return true
		case mapv2.LightState_LIGHT_STATE_YELLOW:
			return !r.CanStop
		default:
			return false
		}
	case entity.JunctionAllWayStop:
		return r.Stopped || r.Holding
	case entity.JunctionRailSignal:
		// 闭塞区间：连接车道及驶出车道都没有其他车辆
		if !r.Holding && claimed[r.Link.ID()] {
			return false
		}
		out, _ := r.Link.UniqueSuccessor()
		return out.Vehicles().Len() == 0 && len(out.Planned()) == 0
	default:
		return true
	}
}

func (j *Junction) foeClaimed(link entity.ILane, claimed map[int32]bool) bool {
	for foe := range j.foes[link.ID()] {
		if claimed[foe] {
			return true
		}
	}
	return false
}

// mustYield 需让行的冲突连接上是否有满足通行条件的请求
func (j *Junction) mustYield(r *entity.Request, pending []*entity.Request, claimed map[int32]bool) bool {
	yields := j.yields[r.Link.ID()]
	if len(yields) == 0 {
		return false
	}
	for _, other := range pending {
		if other != r && yields[other.Link.ID()] && j.eligible(other, claimed) {
			return true
		}
	}
	return false
}

// occupied 连接车道上是否有车辆（包括本步规划进入与车尾仍在其中的车辆）
func occupied(link entity.ILane) bool {
	if link.Vehicles().Len() > 0 || len(link.Planned()) > 0 {
		return true
	}
	rear, _ := link.TailOverhang()
	return rear < 0
}

// exitSpace 驶出车道起点处可用的空间
func exitSpace(out entity.ILane) float64 {
	free := out.Length()
	if rear, _ := out.TailOverhang(); rear < 0 {
		free = out.Length() + rear
	}
	if planned := out.Planned(); len(planned) > 0 {
		free = math.Min(free, planned[0].Rear())
	}
	return free
}
