// Package carfollow 跟车模型
// 所有模型输出的速度都满足安全速度约束 v'*dt + v'^2/(2b) <= g + vl*dt，
// 即本车以舒适减速度b制动时，在前车以原速度行驶一步后仍能停在其后方
package carfollow

import (
	"errors"
	"fmt"
	"math"

	"github.com/tsinghua-fib-lab/microsim/utils/randengine"
)

var (
	ErrUnknownModel = errors.New("unknown car-following model")
)

const (
	gapEps = 1e-6 // 数值误差容忍度
)

// Ego 本车状态与参数
type Ego struct {
	ID             int32
	V              float64 // 当前速度
	MaxV           float64 // 车辆期望最高速度
	Accel          float64 // 最大加速度
	Decel          float64 // 舒适减速度（正数）
	EmergencyDecel float64 // 紧急减速度（正数）
	DT             float64 // 步长
	Rand           *randengine.Engine
	Driver         DriverState
}

// DriverState 驾驶员状态
type DriverState struct {
	Z         float64 // Wiedemann驾驶员随机参数，(0,1)
	GapErr    float64 // TCI车距感知误差（标准化）
	SpeedErr  float64 // TCI速度感知误差（标准化）
	Awareness float64 // TCI注意力水平，[0,1]
}

// Model 跟车模型接口
// 说明：gap为扣除最小间距后的净车距
type Model interface {
	Name() string
	// FollowSpeed 跟随前车时本步允许的最大速度
	FollowSpeed(ego *Ego, gap, leaderV float64) float64
	// StopSpeed 在dist内停车时本步允许的最大速度
	StopSpeed(ego *Ego, dist float64) float64
	// InsertionFollowSpeed 插入时前车约束下允许的速度
	InsertionFollowSpeed(ego *Ego, gap, leaderV float64) float64
	// FreeSpeed 无障碍时本步的速度
	FreeSpeed(ego *Ego, maxV float64) float64
	// FinalizeSpeed 对所有约束取最小后的速度施加模型扰动与运动学限制，结果不超过vPos
	FinalizeSpeed(ego *Ego, vPos float64) float64
	// InitDriver 初始化驾驶员状态
	InitDriver(ego *Ego)
}

// DriverStateUpdater 需要逐步更新驾驶员状态的模型
type DriverStateUpdater interface {
	UpdateDriverState(ego *Ego)
}

// New 创建跟车模型
// 参数：name-模型名称（krauss|idm|wiedemann|tci，空为krauss），params-模型参数
// 返回：模型实例，名称或参数非法时返回错误
func New(name string, params map[string]float64) (Model, error) {
	get := func(key string, def float64) float64 {
		if v, ok := params[key]; ok {
			return v
		}
		return def
	}
	switch name {
	case "", "krauss":
		m := &Krauss{Sigma: get("sigma", 0.5), Tau: get("tau", 1)}
		if m.Sigma < 0 || m.Sigma > 1 || m.Tau <= 0 {
			return nil, fmt.Errorf("bad krauss params sigma=%v tau=%v", m.Sigma, m.Tau)
		}
		return m, nil
	case "idm":
		m := &IDM{Delta: get("delta", 4), Headway: get("tau", 1.5), StepScale: int(get("steps", 4))}
		if m.Delta <= 0 || m.Headway <= 0 || m.StepScale <= 0 {
			return nil, fmt.Errorf("bad idm params delta=%v tau=%v steps=%v", m.Delta, m.Headway, m.StepScale)
		}
		return m, nil
	case "wiedemann":
		m := &Wiedemann{Security: get("security", 0.5), Estimation: get("estimation", 0.5)}
		if m.Security < 0 || m.Security > 1 || m.Estimation < 0 || m.Estimation > 1 {
			return nil, fmt.Errorf("bad wiedemann params security=%v estimation=%v", m.Security, m.Estimation)
		}
		return m, nil
	case "tci":
		base, err := New(baseName(params), params)
		if err != nil {
			return nil, err
		}
		m := &TCI{
			Base:             base,
			TaskDemand:       get("task_demand", 0.3),
			ErrorTimeScale:   get("error_time_scale", 10),
			ErrorNoise:       get("error_noise", 0.2),
			GapErrorCoeff:    get("gap_error_coeff", 0.1),
			SpeedErrorCoeff:  get("speed_error_coeff", 0.1),
			InitialAwareness: get("awareness", 1),
		}
		if m.ErrorTimeScale <= 0 || m.InitialAwareness < 0 || m.InitialAwareness > 1 {
			return nil, fmt.Errorf("bad tci params time_scale=%v awareness=%v", m.ErrorTimeScale, m.InitialAwareness)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// baseName TCI包装的基础模型，由参数base选择：0-krauss 1-idm 2-wiedemann
func baseName(params map[string]float64) string {
	switch params["base"] {
	case 1:
		return "idm"
	case 2:
		return "wiedemann"
	default:
		return "krauss"
	}
}

// SafeSpeed 安全速度
// 功能：求满足 v*dt + v^2/(2b) <= g + vl*dt 的最大速度
// 参数：gap-净车距，leaderV-前车速度，decel-制动减速度，dt-步长
// 返回：最大安全速度，v = -b*dt + sqrt(b^2*dt^2 + 2b*(g + vl*dt))
func SafeSpeed(gap, leaderV, decel, dt float64) float64 {
	bdt := decel * dt
	v := -bdt + math.Sqrt(bdt*bdt+2*decel*(gap+leaderV*dt))
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// sanitize 处理非法输入：车距为负（已重叠）或NaN时返回false并告警
func sanitize(ego *Ego, gap, leaderV float64) (float64, float64, bool) {
	if math.IsNaN(gap) || gap < -gapEps {
		log.Warnf("vehicle %d: bad gap %v to leader (v=%v), clamp speed to 0", ego.ID, gap, leaderV)
		return 0, 0, false
	}
	if math.IsNaN(leaderV) || leaderV < 0 {
		log.Warnf("vehicle %d: bad leader speed %v, treat as 0", ego.ID, leaderV)
		leaderV = 0
	}
	return math.Max(gap, 0), leaderV, true
}

// Acceleration 本步加速度
// 功能：给出前车（可为空）与车道限速时本车的加速度，不含随机扰动
// 参数：m-跟车模型，ego-本车，gap/leaderV-前车净车距与速度，hasLeader-是否有前车，laneMaxV-车道限速
// 返回：加速度 (v'-v)/dt
func Acceleration(m Model, ego *Ego, gap, leaderV float64, hasLeader bool, laneMaxV float64) float64 {
	v := m.FreeSpeed(ego, math.Min(laneMaxV, ego.MaxV))
	if hasLeader {
		v = math.Min(v, m.FollowSpeed(ego, gap, leaderV))
	}
	return (v - ego.V) / ego.DT
}

// freeSpeed 通用自由行驶速度：加速度受限地趋向最高速度
func freeSpeed(ego *Ego, maxV float64) float64 {
	maxV = math.Min(maxV, ego.MaxV)
	if ego.V > maxV {
		return math.Max(maxV, ego.V-ego.Decel*ego.DT)
	}
	return math.Min(maxV, ego.V+ego.Accel*ego.DT)
}

// minNextSpeed 以舒适减速度制动一步后的速度
func minNextSpeed(ego *Ego) float64 {
	return math.Max(0, ego.V-ego.Decel*ego.DT)
}
