package lane

import (
	"cmp"
	"slices"
	"sync"

	"github.com/tsinghua-fib-lab/microsim/utils/container"
)

// laneList 车道列表数据结构，用于管理车道上的车辆或行人
// 功能：提供线程安全的车辆/行人列表管理，支持缓冲式添加和删除操作
// 泛型参数：T-列表元素类型（必须实现IHasVAndLength接口），E-侧链数据类型
type laneList[T container.IHasVAndLength, E any] struct {
	list              *container.List[T, E]
	addBuffer         []*container.ListNode[T, E]
	addBufferMutex    sync.Mutex
	removeBuffer      []*container.ListNode[T, E]
	removeBufferMutex sync.Mutex
}

// newLaneList 创建新的车道列表实例
// 参数：id-列表标识符，用于调试和日志
func newLaneList[T container.IHasVAndLength, E any](id string) *laneList[T, E] {
	return &laneList[T, E]{
		list: &container.List[T, E]{
			ID: id,
		},
		addBuffer:    make([]*container.ListNode[T, E], 0),
		removeBuffer: make([]*container.ListNode[T, E], 0),
	}
}

// apply 将缓冲区中的操作应用到主列表，清空缓冲区
// 算法说明：
// 1. 先移除离开本车道的节点
// 2. 取出因原地更新位置而逆序的节点
// 3. 将新加入的节点与逆序节点一起有序合并
func (l *laneList[T, E]) apply() {
	if l == nil || l.list == nil {
		return
	}
	for _, v := range l.removeBuffer {
		l.list.Remove(v)
	}
	unsorted := l.list.PopUnsorted()
	l.list.Merge(append(l.addBuffer, unsorted...))
	l.removeBuffer = l.removeBuffer[:0]
	l.addBuffer = l.addBuffer[:0]
}

// add 添加节点到缓冲区，延迟到apply阶段实际插入列表
func (l *laneList[T, E]) add(node *container.ListNode[T, E]) {
	if node.Parent() != nil {
		log.Panic("add node who has parent")
	}
	l.addBufferMutex.Lock()
	l.addBuffer = append(l.addBuffer, node)
	l.addBufferMutex.Unlock()
}

// remove 将节点加入删除缓冲区，延迟到apply阶段实际从列表移除
func (l *laneList[T, E]) remove(node *container.ListNode[T, E]) {
	if node.Parent() != l.list {
		log.Panicf("remove node %v (parent=%v) from wrong parent %+v", node, node.Parent(), l.list)
	}
	l.removeBufferMutex.Lock()
	l.removeBuffer = append(l.removeBuffer, node)
	l.removeBufferMutex.Unlock()
}

func sortLanes(lanes []*Lane) {
	slices.SortFunc(lanes, func(a, b *Lane) int { return cmp.Compare(a.id, b.id) })
}
