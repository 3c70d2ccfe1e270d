package container

import (
	"cmp"
	"fmt"
	"slices"
)

// IHasVAndLength 链表元素需要提供速度与长度
// 说明：链表中的键S约定为元素前端位置，尾部位置为S-Length()
type IHasVAndLength interface {
	V() float64
	Length() float64
}

// ListNode 有序双向链表的节点
type ListNode[T IHasVAndLength, E any] struct {
	parent     *List[T, E]
	prev, next *ListNode[T, E]
	S          float64 // 键（元素前端位置）
	Value      T
	Extra      E // 调用方附加的信息（如车辆侧链）
}

func (n *ListNode[T, E]) String() string {
	return fmt.Sprintf("Node{Key:%v, Value:%+v, Extra:%+v}", n.S, n.Value, n.Extra)
}

// Prev 后方（键更小）的节点，没有时为nil
func (n *ListNode[T, E]) Prev() *ListNode[T, E] {
	return n.prev
}

// Next 前方（键更大）的节点，没有时为nil
func (n *ListNode[T, E]) Next() *ListNode[T, E] {
	return n.next
}

// Parent 节点所在链表，不在链表中时为nil
func (n *ListNode[T, E]) Parent() *List[T, E] {
	return n.parent
}

// V 元素速度
func (n *ListNode[T, E]) V() float64 {
	return n.Value.V()
}

// L 元素长度
func (n *ListNode[T, E]) L() float64 {
	return n.Value.Length()
}

func mustBeFree[T IHasVAndLength, E any](add *ListNode[T, E]) {
	if add.parent != nil {
		log.Panicf("push node %v who already in list %v", add, add.parent)
	}
}

// InsertBefore 把add插入到n之前，不检查键的顺序
func (n *ListNode[T, E]) InsertBefore(add *ListNode[T, E]) {
	mustBeFree(add)
	l := n.parent
	add.parent, add.prev, add.next = l, n.prev, n
	if n.prev != nil {
		n.prev.next = add
	} else {
		l.head = add
	}
	n.prev = add
	l.length++
}

// InsertAfter 把add插入到n之后，不检查键的顺序
func (n *ListNode[T, E]) InsertAfter(add *ListNode[T, E]) {
	mustBeFree(add)
	l := n.parent
	add.parent, add.prev, add.next = l, n, n.next
	if n.next != nil {
		n.next.prev = add
	} else {
		l.tail = add
	}
	n.next = add
	l.length++
}

// List 按键升序排列的双向链表，head为最后方的元素
type List[T IHasVAndLength, E any] struct {
	ID         string
	head, tail *ListNode[T, E]
	length     int
}

func (l *List[T, E]) String() string {
	return fmt.Sprintf("List{ID:%v}", l.ID)
}

// Keys 从后到前的全部键
func (l *List[T, E]) Keys() []float64 {
	keys := make([]float64, 0, l.length)
	for node := l.head; node != nil; node = node.next {
		keys = append(keys, node.S)
	}
	return keys
}

func (l *List[T, E]) Len() int {
	return l.length
}

// pushEmpty 向空链表加入第一个节点
func (l *List[T, E]) pushEmpty(add *ListNode[T, E]) {
	add.parent, add.prev, add.next = l, nil, nil
	l.head, l.tail = add, add
	l.length = 1
}

// PushFront 加入到最后方
func (l *List[T, E]) PushFront(add *ListNode[T, E]) {
	mustBeFree(add)
	if l.head == nil {
		l.pushEmpty(add)
	} else {
		l.head.InsertBefore(add)
	}
}

// PushBack 加入到最前方
func (l *List[T, E]) PushBack(add *ListNode[T, E]) {
	mustBeFree(add)
	if l.tail == nil {
		l.pushEmpty(add)
	} else {
		l.tail.InsertAfter(add)
	}
}

// Remove 移除节点，节点不属于本链表时panic
func (l *List[T, E]) Remove(node *ListNode[T, E]) {
	if node.parent != l {
		log.Panicf("remove node %v from wrong list %v", node, l)
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next, node.parent = nil, nil, nil
	l.length--
}

// First 最后方的节点
func (l *List[T, E]) First() *ListNode[T, E] {
	return l.head
}

// Last 最前方的节点
func (l *List[T, E]) Last() *ListNode[T, E] {
	return l.tail
}

// PopUnsorted 移除并返回键比后方节点更小的节点
// 说明：原地修改键之后调用，剩余节点保持升序，返回的节点可以用Merge放回
func (l *List[T, E]) PopUnsorted() (unsorted []*ListNode[T, E]) {
	for node := l.head; node != nil; {
		next := node.next
		if node.prev != nil && node.prev.S > node.S {
			l.Remove(node)
			unsorted = append(unsorted, node)
		}
		node = next
	}
	return unsorted
}

// Merge 批量有序插入
// 算法说明：
// 1. 待插入节点按键稳定排序
// 2. 单次遍历链表，把每个节点插入到第一个键不小于它的节点之前
func (l *List[T, E]) Merge(adds []*ListNode[T, E]) {
	slices.SortStableFunc(adds, func(a, b *ListNode[T, E]) int { return cmp.Compare(a.S, b.S) })
	node := l.head
	for _, add := range adds {
		for node != nil && node.S < add.S {
			node = node.next
		}
		if node != nil {
			node.InsertBefore(add)
		} else {
			l.PushBack(add)
		}
	}
}

// Insert 有序插入单个节点，从前方向后查找位置，键相同时插在已有节点的前方
func (l *List[T, E]) Insert(add *ListNode[T, E]) {
	node := l.tail
	for node != nil && node.S > add.S {
		node = node.prev
	}
	if node == nil {
		l.PushFront(add)
	} else {
		node.InsertAfter(add)
	}
}

// Find 位置s两侧的节点
// 返回：behind-键不超过s的最前方节点，ahead-键大于s的最后方节点，不存在时为nil
func (l *List[T, E]) Find(s float64) (behind, ahead *ListNode[T, E]) {
	for behind = l.tail; behind != nil && behind.S > s; behind = behind.prev {
		ahead = behind
	}
	return behind, ahead
}

// CheckOrder 从后到前对每一对相邻节点调用check，返回第一个错误
func (l *List[T, E]) CheckOrder(check func(back, front *ListNode[T, E]) error) error {
	for node := l.head; node != nil && node.next != nil; node = node.next {
		if err := check(node, node.next); err != nil {
			return err
		}
	}
	return nil
}
