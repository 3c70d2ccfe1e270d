package route

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

// Route 车辆路径
// 功能：道路的有序序列，创建后不再修改，重新规划时整体替换
type Route struct {
	edges []entity.IEdge
}

// New 根据道路序列创建路径
func New(edges []entity.IEdge) *Route {
	return &Route{edges: append([]entity.IEdge{}, edges...)}
}

// FromIDs 根据道路ID序列创建路径
// 功能：查找道路并检查相邻道路经由路口相连
// 参数：edgeManager-道路管理器，ids-道路ID序列
// 返回：路径，道路不存在或不连续时返回包装了ErrInvalidRoute的错误
func FromIDs(edgeManager entity.IEdgeManager, ids []int32) (*Route, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty route", input.ErrInvalidRoute)
	}
	edges := make([]entity.IEdge, 0, len(ids))
	for i, id := range ids {
		e, err := edgeManager.GetOrError(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", input.ErrInvalidRoute, err)
		}
		if i > 0 && !Connected(edges[i-1], e) {
			return nil, fmt.Errorf("%w: edge %d does not lead to edge %d", input.ErrInvalidRoute, ids[i-1], id)
		}
		edges = append(edges, e)
	}
	return &Route{edges: edges}, nil
}

// Connected 道路from是否有车道经由路口连接到道路to
func Connected(from, to entity.IEdge) bool {
	return lo.SomeBy(from.Lanes(), func(l entity.ILane) bool {
		return len(l.LinksTo(to)) > 0
	})
}

// Len 道路数
func (r *Route) Len() int {
	return len(r.edges)
}

// At 第i条道路，越界时返回nil
func (r *Route) At(i int) entity.IEdge {
	if i < 0 || i >= len(r.edges) {
		return nil
	}
	return r.edges[i]
}

// Last 终点道路
func (r *Route) Last() entity.IEdge {
	return r.edges[len(r.edges)-1]
}

// IDs 道路ID序列
func (r *Route) IDs() []int32 {
	return lo.Map(r.edges, func(e entity.IEdge, _ int) int32 { return e.ID() })
}

// Length 第from条道路起点到终点道路终点的长度
func (r *Route) Length(from int) float64 {
	if from < 0 {
		from = 0
	}
	return lo.SumBy(r.edges[min(from, len(r.edges)):], func(e entity.IEdge) float64 { return e.Length() })
}

func (r *Route) String() string {
	return "Route[" + strings.Join(lo.Map(r.edges, func(e entity.IEdge, _ int) string {
		return fmt.Sprint(e.ID())
	}), " ") + "]"
}
