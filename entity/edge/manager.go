package edge

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

// EdgeManager Edge管理器
// 功能：管理所有Edge实体，提供创建、查找、初始化等功能
type EdgeManager struct {
	ctx entity.ITaskContext

	data   map[int32]*Edge
	edges  []*Edge
	iEdges []entity.IEdge
}

// NewManager 创建Edge管理器实例
func NewManager(ctx entity.ITaskContext) *EdgeManager {
	return &EdgeManager{
		ctx:   ctx,
		data:  make(map[int32]*Edge),
		edges: make([]*Edge, 0),
	}
}

// Init 初始化所有Edge
// 参数：specs-道路定义列表，laneManager-车道管理器
// 说明：按输入顺序创建，随后按ID排序以保证遍历顺序确定
func (m *EdgeManager) Init(specs []input.EdgeSpec, laneManager entity.ILaneManager) {
	indices := lo.Range(len(specs))
	m.edges = parallel.GoMap(indices, func(i int) *Edge {
		return newEdge(m.ctx, &specs[i], laneManager)
	})
	m.data = lo.SliceToMap(m.edges, func(e *Edge) (int32, *Edge) {
		return e.id, e
	})
	sortEdges(m.edges)
	m.iEdges = lo.Map(m.edges, func(e *Edge, _ int) entity.IEdge { return e })
}

// InitAfterJunction 在所有Junction初始化完成后设置Edge的上下游路口
func (m *EdgeManager) InitAfterJunction() error {
	for _, e := range m.edges {
		if err := e.initAfterJunction(); err != nil {
			return err
		}
	}
	return nil
}

// Get 根据ID获取Edge实例，如果不存在则panic
func (m *EdgeManager) Get(id int32) entity.IEdge {
	if edge, ok := m.data[id]; !ok {
		log.Panicf("no id %d in edge data", id)
		return nil
	} else {
		return edge
	}
}

// GetOrError 根据ID获取Edge实例（带错误处理）
func (m *EdgeManager) GetOrError(id int32) (entity.IEdge, error) {
	if edge, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in edge data", id)
	} else {
		return edge, nil
	}
}

// Edges 全部道路（按ID升序）
func (m *EdgeManager) Edges() []entity.IEdge {
	return m.iEdges
}

func sortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].id < edges[j].id })
}
