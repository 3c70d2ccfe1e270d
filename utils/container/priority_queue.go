package container

import "container/heap"

// pqItem 优先队列元素
type pqItem[T any] struct {
	value    T
	priority float64 // 越小越优先
	seq      uint64  // 加入顺序，优先级相同时先加入者优先
}

// pqHeap 实现heap.Interface
type pqHeap[T any] []pqItem[T]

func (h pqHeap[T]) Len() int { return len(h) }

// Less 最小堆，优先级相同时按加入顺序，出队顺序与堆内部布局无关
func (h pqHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pqHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pqHeap[T]) Push(x any) { *h = append(*h, x.(pqItem[T])) }

func (h *pqHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = pqItem[T]{}
	*h = old[:n-1]
	return it
}

// PriorityQueue 稳定的最小优先队列
// 说明：批量加入时先Push再调用一次Heapify，之后使用HeapPush/HeapPop
type PriorityQueue[T any] struct {
	heap pqHeap[T]
	seq  uint64
}

// NewPriorityQueue 创建优先队列
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

func (q *PriorityQueue[T]) Len() int {
	return len(q.heap)
}

// First 查看优先级数值最小的元素，不出队
func (q *PriorityQueue[T]) First() (T, float64) {
	return q.heap[0].value, q.heap[0].priority
}

func (q *PriorityQueue[T]) next(value T, priority float64) pqItem[T] {
	q.seq++
	return pqItem[T]{value: value, priority: priority, seq: q.seq}
}

// Push 加入元素但不维护堆，之后需要调用Heapify
func (q *PriorityQueue[T]) Push(value T, priority float64) {
	q.heap = append(q.heap, q.next(value, priority))
}

// Heapify 重建堆
func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.heap)
}

// HeapPush 加入元素并维护堆
func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.heap, q.next(value, priority))
}

// HeapPop 弹出优先级数值最小的元素
func (q *PriorityQueue[T]) HeapPop() (value T, priority float64) {
	it := heap.Pop(&q.heap).(pqItem[T])
	return it.value, it.priority
}
