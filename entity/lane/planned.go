package lane

import (
	"sort"
	"sync"

	"github.com/tsinghua-fib-lab/microsim/entity"
)

// plannedList 车道上的规划占用
// 说明：规划阶段结束后由各车辆并发登记，按车头位置升序保存，
// 位置相同时按车辆ID排序以保证结果与并发顺序无关
type plannedList struct {
	mtx     sync.Mutex
	entries []entity.PlannedEntry
}

func plannedLess(a, b *entity.PlannedEntry) bool {
	if a.Front != b.Front {
		return a.Front < b.Front
	}
	return a.Vehicle.ID() < b.Vehicle.ID()
}

func (p *plannedList) add(e entity.PlannedEntry) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	i := sort.Search(len(p.entries), func(i int) bool {
		return plannedLess(&e, &p.entries[i])
	})
	p.entries = append(p.entries, entity.PlannedEntry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
}

func (p *plannedList) remove(v entity.IVehicle) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for i := range p.entries {
		if p.entries[i].Vehicle == v {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

func (p *plannedList) clear() {
	p.entries = p.entries[:0]
}

// AddPlanned 登记规划占用（并发安全）
func (l *Lane) AddPlanned(e entity.PlannedEntry) {
	l.planned.add(e)
}

// RemovePlanned 删除车辆的规划占用
func (l *Lane) RemovePlanned(v entity.IVehicle) {
	l.planned.remove(v)
}

// Planned 全部规划占用（按车头位置升序）
func (l *Lane) Planned() []entity.PlannedEntry {
	return l.planned.entries
}

// PlannedNeighbors 查询规划占用的前后车
// 功能：给出车头位于front的车辆在本车道规划状态下的后车与前车
// 参数：front-查询的车头位置，self-查询车辆（忽略其自身的登记）
// 返回：behind-车头不超过front的最后一个登记，ahead-车头超过front的第一个登记
func (l *Lane) PlannedNeighbors(front float64, self entity.IVehicle) (behind, ahead *entity.PlannedEntry) {
	for i := range l.planned.entries {
		e := &l.planned.entries[i]
		if e.Vehicle == self {
			continue
		}
		if e.Front <= front {
			behind = e
		} else {
			ahead = e
			break
		}
	}
	return
}
