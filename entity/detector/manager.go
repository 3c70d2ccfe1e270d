package detector

import (
	"fmt"
	"maps"
	"slices"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

const periodEps = 1e-9

// DetectorManager 检测器管理器
type DetectorManager struct {
	ctx entity.ITaskContext

	data      map[int32]*Detector
	detectors []*Detector // 按ID升序
}

// NewManager 创建检测器管理器实例
func NewManager(ctx entity.ITaskContext) *DetectorManager {
	return &DetectorManager{
		ctx:  ctx,
		data: make(map[int32]*Detector),
	}
}

// Init 初始化全部检测器
// 参数：specs-检测器定义，laneManager-车道管理器
// 返回：车道不存在、位置越界或ID重复时的错误
func (m *DetectorManager) Init(specs []input.DetectorSpec, laneManager entity.ILaneManager) error {
	begin := m.ctx.Clock().T
	for i := range specs {
		spec := &specs[i]
		if _, ok := m.data[spec.ID]; ok {
			return fmt.Errorf("%w: duplicate detector id %d", input.ErrInvalidNetwork, spec.ID)
		}
		lane, err := laneManager.GetOrError(spec.Lane)
		if err != nil {
			return fmt.Errorf("%w: detector %d: %v", input.ErrInvalidNetwork, spec.ID, err)
		}
		if spec.Pos < 0 || spec.Pos > lane.Length() {
			return fmt.Errorf("%w: detector %d pos %v out of lane %d [0, %v]", input.ErrInvalidNetwork, spec.ID, spec.Pos, spec.Lane, lane.Length())
		}
		m.data[spec.ID] = newDetector(spec, lane, begin)
	}
	ids := slices.Sorted(maps.Keys(m.data))
	m.detectors = lo.Map(ids, func(id int32, _ int) *Detector { return m.data[id] })
	log.Infof("init %d detectors", len(m.detectors))
	return nil
}

// Get 根据ID获取检测器，如果不存在则panic
func (m *DetectorManager) Get(id int32) *Detector {
	if d, ok := m.data[id]; !ok {
		log.Panicf("no id %d in detector data", id)
		return nil
	} else {
		return d
	}
}

// GetOrError 根据ID获取检测器（带错误处理）
func (m *DetectorManager) GetOrError(id int32) (*Detector, error) {
	if d, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in detector data", id)
	} else {
		return d, nil
	}
}

// Detectors 全部检测器（按ID升序）
func (m *DetectorManager) Detectors() []*Detector {
	return m.detectors
}

// Update 车道提交之后统计本步，到达聚合周期末尾时输出一个周期
func (m *DetectorManager) Update() {
	clock := m.ctx.Clock()
	end := clock.T + clock.DT
	period := m.ctx.RuntimeConfig().C.DetectorPeriod
	parallel.GoFor(m.detectors, func(d *Detector) {
		d.update(clock.DT)
		if end-d.begin >= period-periodEps {
			d.flush(end)
		}
	})
}

// Flush 结束所有检测器未完成的聚合周期（仿真结束时调用）
func (m *DetectorManager) Flush() {
	clock := m.ctx.Clock()
	for _, d := range m.detectors {
		if clock.T > d.begin+periodEps {
			d.flush(clock.T)
		}
	}
}

// Results 全部检测器的聚合结果
func (m *DetectorManager) Results() map[int32][]Interval {
	return lo.SliceToMap(m.detectors, func(d *Detector) (int32, []Interval) {
		return d.id, d.intervals
	})
}
