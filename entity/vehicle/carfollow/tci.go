package carfollow

import "math"

// TCI 任务-能力接口（Task-Capability Interface）驾驶员模型
// 包装一个基础跟车模型。驾驶员对车距与前车速度的感知误差服从Ornstein-Uhlenbeck过程，
// 误差强度随注意力下降与任务需求超出能力的程度增大。
// 基础模型在感知值上计算速度，随后以真实值的安全速度截断
type TCI struct {
	Base             Model
	TaskDemand       float64 // 任务需求
	ErrorTimeScale   float64 // OU过程时间尺度（秒）
	ErrorNoise       float64 // OU过程噪声强度
	GapErrorCoeff    float64 // 车距误差与车距的比例系数
	SpeedErrorCoeff  float64 // 速度误差与车距的比例系数
	InitialAwareness float64 // 初始注意力
}

func (m *TCI) Name() string { return "tci(" + m.Base.Name() + ")" }

// errorScale 误差强度
func (m *TCI) errorScale(ego *Ego) float64 {
	a := ego.Driver.Awareness
	return (1 - a) + math.Max(0, m.TaskDemand-a)
}

// UpdateDriverState 推进一步OU过程
func (m *TCI) UpdateDriverState(ego *Ego) {
	scale := m.errorScale(ego)
	decay := math.Exp(-ego.DT / m.ErrorTimeScale)
	noise := m.ErrorNoise * scale * math.Sqrt(ego.DT)
	ego.Driver.GapErr = ego.Driver.GapErr*decay + noise*ego.Rand.NormFloat64()
	ego.Driver.SpeedErr = ego.Driver.SpeedErr*decay + noise*ego.Rand.NormFloat64()
	if u, ok := m.Base.(DriverStateUpdater); ok {
		u.UpdateDriverState(ego)
	}
}

// perceive 感知车距与前车速度
func (m *TCI) perceive(ego *Ego, gap, leaderV float64) (float64, float64) {
	pg := math.Max(0, gap*(1+m.GapErrorCoeff*ego.Driver.GapErr))
	pv := math.Max(0, leaderV+m.SpeedErrorCoeff*gap*ego.Driver.SpeedErr)
	return pg, pv
}

func (m *TCI) FollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	gap, leaderV, ok := sanitize(ego, gap, leaderV)
	if !ok {
		return 0
	}
	pg, pv := m.perceive(ego, gap, leaderV)
	return math.Min(m.Base.FollowSpeed(ego, pg, pv), SafeSpeed(gap, leaderV, ego.Decel, ego.DT))
}

func (m *TCI) StopSpeed(ego *Ego, dist float64) float64 {
	dist, _, ok := sanitize(ego, dist, 0)
	if !ok {
		return 0
	}
	pd, _ := m.perceive(ego, dist, 0)
	return math.Min(m.Base.StopSpeed(ego, pd), SafeSpeed(dist, 0, ego.Decel, ego.DT))
}

func (m *TCI) InsertionFollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	return m.Base.InsertionFollowSpeed(ego, gap, leaderV)
}

func (m *TCI) FreeSpeed(ego *Ego, maxV float64) float64 {
	return m.Base.FreeSpeed(ego, maxV)
}

func (m *TCI) FinalizeSpeed(ego *Ego, vPos float64) float64 {
	return m.Base.FinalizeSpeed(ego, vPos)
}

func (m *TCI) InitDriver(ego *Ego) {
	ego.Driver.Awareness = m.InitialAwareness
	m.Base.InitDriver(ego)
}
