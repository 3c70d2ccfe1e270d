package vehicle

import (
	"cmp"
	"slices"

	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/carfollow"
)

const (
	changeEps = 1e-6
)

// sortProposals 变道提议的处理顺序：优先级降序，其次速度降序，最后ID升序
func sortProposals(vs []entity.IVehicle) {
	slices.SortStableFunc(vs, func(a, b entity.IVehicle) int {
		pa, pb := a.Plan(), b.Plan()
		if c := cmp.Compare(pb.LC.Priority, pa.LC.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(pb.V, pa.V); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
}

// changeLanes 处理一条道路上的全部变道提议
// 功能：按处理顺序逐个检查目标车道上的规划占用，安全时接受变道并更新规划占用
// 参数：lanes-道路的行车道，dt-步长
// 返回：被接受的变道数
// 说明：不同道路之间没有共享的车道，可以并行处理
func changeLanes(lanes []entity.ILane, dt float64) int {
	var proposals []entity.IVehicle
	for _, l := range lanes {
		for node := l.FirstVehicle(); node != nil; node = node.Next() {
			if node.Value.Plan().LC != nil {
				proposals = append(proposals, node.Value)
			}
		}
	}
	sortProposals(proposals)
	n := 0
	for _, v := range proposals {
		if tryChange(v, dt) {
			n++
		}
	}
	return n
}

// tryChange 检查变道安全性并提交到规划
// 算法说明：
// 1. 目标车道允许本车类别，投影后车身完全位于目标车道内
// 2. 目标车道规划状态下的前车：净车距非负，本车以允许的减速度可以跟随
// 3. 目标车道规划状态下的后车（及前驱车道上的最前车辆）：净车距非负，后车以允许的减速度可以跟随
// 4. 强制变道且紧迫度不小于1时允许使用紧急减速度，否则使用舒适减速度
func tryChange(v entity.IVehicle, dt float64) bool {
	p := v.Plan()
	lc := p.LC
	target := lc.Target
	if target == nil || !target.Allows(v.Class()) {
		return false
	}
	front := target.ProjectFromLane(p.Lane, p.S)
	if front < v.Length() {
		return false
	}
	emergency := lc.Forced || (lc.Priority == entity.LCMandatory && lc.Urgency >= 1)
	allowed := func(u entity.IVehicle) float64 {
		if emergency {
			return u.EmergencyDecel()
		}
		return u.Decel()
	}
	rear := front - v.Length()
	behind, ahead := target.PlannedNeighbors(front, v)
	if ahead != nil {
		gap := ahead.Rear() - front - v.MinGap()
		if gap < 0 || carfollow.SafeSpeed(gap, ahead.V, v.Decel(), dt) < p.V-allowed(v)*dt-changeEps {
			return false
		}
	}
	followerOK := func(f *entity.PlannedEntry, gap float64) bool {
		if gap < 0 {
			return false
		}
		fv := f.Vehicle
		return carfollow.SafeSpeed(gap, p.V, fv.Decel(), dt) >= f.V-allowed(fv)*dt-changeEps
	}
	if behind != nil {
		if !followerOK(behind, rear-behind.Front-behind.Vehicle.MinGap()) {
			return false
		}
	} else {
		for _, pred := range target.Predecessors() {
			planned := pred.Planned()
			if len(planned) == 0 {
				continue
			}
			f := &planned[len(planned)-1]
			if !followerOK(f, rear+pred.Length()-f.Front-f.Vehicle.MinGap()) {
				return false
			}
		}
	}
	p.Lane.RemovePlanned(v)
	p.Change = target
	p.Lane, p.S = target, front
	target.AddPlanned(entity.PlannedEntry{Vehicle: v, Front: front, V: p.V})
	return true
}
