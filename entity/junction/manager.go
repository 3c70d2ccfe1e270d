package junction

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

// Junction管理器
type JunctionManager struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler

	ctx entity.ITaskContext

	data      map[int32]*Junction
	junctions []*Junction // 按ID升序
}

// NewManager 创建Junction管理器实例
func NewManager(ctx entity.ITaskContext) *JunctionManager {
	return &JunctionManager{
		ctx:       ctx,
		data:      make(map[int32]*Junction),
		junctions: make([]*Junction, 0),
	}
}

// Init 初始化所有Junction及其信控
// 功能：根据路口定义创建Junction，设置连接车道的归属，再建立汇入冲突
// 参数：specs-路口定义列表，laneManager-车道管理器
// 返回：路口定义错误
func (m *JunctionManager) Init(specs []input.JunctionSpec, laneManager entity.ILaneManager) error {
	m.junctions = make([]*Junction, 0, len(specs))
	for i := range specs {
		j, err := newJunction(m.ctx, &specs[i], laneManager)
		if err != nil {
			return err
		}
		m.junctions = append(m.junctions, j)
	}
	for _, j := range m.junctions {
		if err := j.initAfterLanes(); err != nil {
			return err
		}
	}
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (int32, *Junction) {
		return j.id, j
	})
	sortJunctions(m.junctions)
	return nil
}

// Get 根据ID获取Junction实例，如果不存在则panic
func (m *JunctionManager) Get(id int32) entity.IJunction {
	if junction, ok := m.data[id]; !ok {
		log.Panicf("no id %d in junction data", id)
		return nil
	} else {
		return junction
	}
}

// GetOrError 根据ID获取Junction实例（带错误处理）
func (m *JunctionManager) GetOrError(id int32) (entity.IJunction, error) {
	if junction, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in junction data", id)
	} else {
		return junction, nil
	}
}

// Junctions 全部路口（按ID升序）
func (m *JunctionManager) Junctions() []*Junction {
	return m.junctions
}

// Prepare 准备阶段，应用信控写入并将信号状态写入车道
func (m *JunctionManager) Prepare() {
	parallel.GoFor(m.junctions, func(j *Junction) { j.prepare() })
}

// Resolve 路口阶段，各路口并行裁决通行请求
func (m *JunctionManager) Resolve() {
	parallel.GoFor(m.junctions, func(j *Junction) { j.resolve() })
}

// Update 信号阶段，推进所有信号灯计时
// 参数：dt-时间步长
func (m *JunctionManager) Update(dt float64) {
	parallel.GoFor(m.junctions, func(j *Junction) { j.update(dt) })
}

func sortJunctions(junctions []*Junction) {
	sort.Slice(junctions, func(a, b int) bool { return junctions[a].id < junctions[b].id })
}
