package vehicle

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// TripStatus 行程结束方式
type TripStatus int32

const (
	TripCompleted       TripStatus = iota // 到达终点
	TripInsertionFailed                   // 超过最大重试次数仍未能进入路网
	TripTeleported                        // 停滞过久被移出路网
	TripNoRoute                           // 无法规划路径
)

func (s TripStatus) String() string {
	switch s {
	case TripCompleted:
		return "completed"
	case TripInsertionFailed:
		return "insertion_failed"
	case TripTeleported:
		return "teleported"
	case TripNoRoute:
		return "no_route"
	default:
		return fmt.Sprintf("TripStatus(%d)", int32(s))
	}
}

// Trip 行程记录
// 说明：Inserted/Arrival为状态生效的时刻（所在步的末尾），未插入时Inserted为负
type Trip struct {
	ID          int32
	Depart      float64 // 计划出发时刻
	Inserted    float64 // 进入路网时刻
	Arrival     float64 // 结束时刻
	Distance    float64 // 行驶距离
	WaitingTime float64 // 累计停车时长
	Status      TripStatus
}

// Duration 行程时长（进入路网到结束）
func (t Trip) Duration() float64 {
	if t.Inserted < 0 {
		return 0
	}
	return t.Arrival - t.Inserted
}

// DepartDelay 实际进入路网相对计划出发的延误
func (t Trip) DepartDelay() float64 {
	if t.Inserted < 0 {
		return 0
	}
	return t.Inserted - t.Depart
}

// Summary 运行汇总
type Summary struct {
	Loaded       int // 出行需求中的车辆数
	Inserted     int
	Running      int
	Pending      int
	Completed    int
	Failed       int // 插入失败与无路径
	Teleported   int
	MeanDuration float64 // 完成行程的平均时长
	StdDuration  float64
	MeanDistance float64
	MeanWaiting  float64
	MeanDelay    float64 // 平均出发延误
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"loaded=%d inserted=%d running=%d pending=%d completed=%d failed=%d teleported=%d duration=%.1f±%.1fs distance=%.1fm waiting=%.1fs delay=%.1fs",
		s.Loaded, s.Inserted, s.Running, s.Pending, s.Completed, s.Failed, s.Teleported,
		s.MeanDuration, s.StdDuration, s.MeanDistance, s.MeanWaiting, s.MeanDelay,
	)
}

// summarize 汇总已结束的行程
// 说明：时长、距离、停车与延误只统计完成的行程
func summarize(trips []Trip) Summary {
	var s Summary
	var durations, distances, waits, delays []float64
	for _, t := range trips {
		switch t.Status {
		case TripCompleted:
			s.Completed++
			durations = append(durations, t.Duration())
			distances = append(distances, t.Distance)
			waits = append(waits, t.WaitingTime)
			delays = append(delays, t.DepartDelay())
		case TripTeleported:
			s.Teleported++
		default:
			s.Failed++
		}
	}
	if len(durations) > 0 {
		s.MeanDuration, s.StdDuration = stat.MeanStdDev(durations, nil)
		if len(durations) == 1 {
			s.StdDuration = 0
		}
		s.MeanDistance = stat.Mean(distances, nil)
		s.MeanWaiting = stat.Mean(waits, nil)
		s.MeanDelay = stat.Mean(delays, nil)
	}
	return s
}

// sortTrips 按车辆ID排序
func sortTrips(trips []Trip) {
	slices.SortFunc(trips, func(a, b Trip) int { return int(a.ID) - int(b.ID) })
}
