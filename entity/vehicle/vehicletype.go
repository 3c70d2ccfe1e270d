package vehicle

import (
	"errors"
	"fmt"

	"github.com/tsinghua-fib-lab/microsim/entity"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/carfollow"
	"github.com/tsinghua-fib-lab/microsim/entity/vehicle/lanechange"
	"github.com/tsinghua-fib-lab/microsim/utils/input"
)

var (
	ErrInvalidVehicleType = errors.New("invalid vehicle type")
)

// 车辆类型参数默认值
const (
	defaultLength      = 5
	defaultMinGap      = 2.5
	defaultMaxSpeed    = 55.55
	defaultSpeedFactor = 1
	defaultAccel       = 2.6
	defaultDecel       = 4.5
	defaultEmergency   = 9
)

// VehicleType 车辆类型
// 功能：描述同一类车辆共享的几何、动力学参数与驾驶模型
// 说明：校验后不可修改，由同类型的所有车辆以指针共享
type VehicleType struct {
	ID             string
	Class          entity.VehicleClass
	Length         float64 // 车长（米）
	MinGap         float64 // 停车时与前车的最小间距（米）
	MaxSpeed       float64 // 最高速度（米/秒）
	SpeedFactor    float64 // 对车道限速的遵从系数均值
	SpeedDev       float64 // 遵从系数的标准差
	Accel          float64 // 最大加速度
	Decel          float64 // 舒适减速度
	EmergencyDecel float64 // 紧急减速度

	CarFollowing carfollow.Model
	LaneChange   lanechange.Model
}

// NewVehicleType 根据定义创建车辆类型
// 功能：填充默认参数，创建跟车与变道模型并校验
// 参数：spec-车辆类型定义
// 返回：车辆类型，定义非法时返回包装了ErrInvalidVehicleType的错误
func NewVehicleType(spec *input.VehicleTypeSpec) (*VehicleType, error) {
	class, err := entity.ParseVehicleClass(spec.Class)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVehicleType, spec.ID, err)
	}
	t := &VehicleType{
		ID:             spec.ID,
		Class:          class,
		Length:         orDefault(spec.Length, defaultLength),
		MinGap:         orDefault(spec.MinGap, defaultMinGap),
		MaxSpeed:       orDefault(spec.MaxSpeed, defaultMaxSpeed),
		SpeedFactor:    orDefault(spec.SpeedFactor, defaultSpeedFactor),
		SpeedDev:       spec.SpeedDev,
		Accel:          orDefault(spec.Accel, defaultAccel),
		Decel:          orDefault(spec.Decel, defaultDecel),
		EmergencyDecel: spec.EmergencyDecel,
	}
	if t.EmergencyDecel == 0 {
		t.EmergencyDecel = max(defaultEmergency, t.Decel)
	}
	if t.CarFollowing, err = carfollow.New(spec.CarFollowing.Model, spec.CarFollowing.Params); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVehicleType, spec.ID, err)
	}
	if t.LaneChange, err = lanechange.New(spec.LaneChange.Model, spec.LaneChange.Params); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVehicleType, spec.ID, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate 校验参数取值范围
func (t *VehicleType) Validate() error {
	switch {
	case t.Length <= 0:
		return fmt.Errorf("%w: %q: length %v must be positive", ErrInvalidVehicleType, t.ID, t.Length)
	case t.MinGap < 0:
		return fmt.Errorf("%w: %q: min_gap %v must not be negative", ErrInvalidVehicleType, t.ID, t.MinGap)
	case t.MaxSpeed <= 0:
		return fmt.Errorf("%w: %q: max_speed %v must be positive", ErrInvalidVehicleType, t.ID, t.MaxSpeed)
	case t.SpeedFactor <= 0 || t.SpeedDev < 0:
		return fmt.Errorf("%w: %q: bad speed factor %v (dev %v)", ErrInvalidVehicleType, t.ID, t.SpeedFactor, t.SpeedDev)
	case t.Accel <= 0:
		return fmt.Errorf("%w: %q: accel %v must be positive", ErrInvalidVehicleType, t.ID, t.Accel)
	case t.Decel <= 0:
		return fmt.Errorf("%w: %q: decel %v must be positive", ErrInvalidVehicleType, t.ID, t.Decel)
	case t.EmergencyDecel < t.Decel:
		return fmt.Errorf("%w: %q: emergency_decel %v is less than decel %v", ErrInvalidVehicleType, t.ID, t.EmergencyDecel, t.Decel)
	case t.CarFollowing == nil || t.LaneChange == nil:
		return fmt.Errorf("%w: %q: missing model", ErrInvalidVehicleType, t.ID)
	}
	return nil
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
