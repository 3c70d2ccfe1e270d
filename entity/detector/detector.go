package detector

import (
	"math"

	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
	"gonum.org/v1/gonum/stat"
)

// Interval 检测器一个聚合周期的结果
type Interval struct {
	Begin, End float64
	Count      int     // 车头越过检测位置的车辆数
	Occupancy  float64 // 检测位置被车身覆盖的时间占比，[0,1]
	MeanSpeed  float64 // 越过车辆的平均速度，无车时为-1
}

// Detector 线圈检测器
// 功能：统计车道上某一位置的通过车辆数、占有率与平均速度，按固定周期聚合
type Detector struct {
	id   int32
	lane entity.ILane
	pos  float64

	begin    float64
	count    int
	occupied float64 // 本周期内被覆盖的时长
	speeds   []float64

	intervals []Interval
}

func newDetector(spec *input.DetectorSpec, lane entity.ILane, begin float64) *Detector {
	return &Detector{id: spec.ID, lane: lane, pos: spec.Pos, begin: begin}
}

func (d *Detector) ID() int32 {
	return d.id
}

func (d *Detector) Lane() entity.ILane {
	return d.lane
}

func (d *Detector) Pos() float64 {
	return d.pos
}

// Intervals 已完成的聚合周期
func (d *Detector) Intervals() []Interval {
	return d.intervals
}

// update 提交阶段之后统计本步
// 参数：dt-步长
// 算法说明：
// 1. 车辆在本步内从prev匀速移动到front（坐标为本车道坐标，进入后继车道的车辆加上本车道长度）
// 2. prev < pos <= front 时计为一次通过
// 3. 车身覆盖检测位置当且仅当车头位于[pos, pos+车长]，按移动区间与该区间的重叠比例累计覆盖时长
func (d *Detector) update(dt float64) {
	occupied := 0.0
	visit := func(node *entity.VehicleNode, offset float64) {
		v := node.Value
		front := node.S + offset
		dist := v.Plan().Dist
		prev := front - dist
		if prev < d.pos && d.pos <= front {
			d.count++
			d.speeds = append(d.speeds, v.V())
		}
		lo, hi := d.pos, d.pos+v.Length()
		if dist <= 0 {
			if front >= lo && front <= hi {
				occupied = math.Max(occupied, 1)
			}
			return
		}
		overlap := math.Min(front, hi) - math.Max(prev, lo)
		if overlap > 0 {
			occupied = math.Max(occupied, overlap/dist)
		}
	}
	for node := d.lane.FirstVehicle(); node != nil; node = node.Next() {
		visit(node, 0)
	}
	for _, succ := range d.lane.Successors() {
		for node := succ.FirstVehicle(); node != nil && node.S-node.Value.Plan().Dist < d.pos-d.lane.Length(); node = node.Next() {
			visit(node, d.lane.Length())
		}
	}
	d.occupied += math.Min(occupied, 1) * dt
}

// flush 结束当前聚合周期
func (d *Detector) flush(end float64) {
	iv := Interval{Begin: d.begin, End: end, Count: d.count, MeanSpeed: -1}
	if end > d.begin {
		iv.Occupancy = math.Min(d.occupied/(end-d.begin), 1)
	}
	if len(d.speeds) > 0 {
		iv.MeanSpeed = stat.Mean(d.speeds, nil)
	}
	d.intervals = append(d.intervals, iv)
	d.begin = end
	d.count = 0
	d.occupied = 0
	d.speeds = d.speeds[:0]
}
