package carfollow

import "math"

// Wiedemann Wiedemann 74风格的感知阈值模型
// 根据净车距dx与接近速度dv所处区域切换驾驶状态：
// 自由行驶、接近、跟随（在阈值之间无意识地加减速）、紧急制动
type Wiedemann struct {
	Security   float64 // 安全意识，越大期望车距越大
	Estimation float64 // 估计能力，越大感知阈值越窄
}

const (
	wiedemannBNull = 0.25 // 跟随状态下的微小加减速度
	wiedemannCX    = 25   // 速度差感知系数
)

func (m *Wiedemann) Name() string { return "wiedemann" }

// thresholds 计算感知阈值
// 返回：abx-期望最小车距，sdx-跟随状态的最大车距，sdv-接近时的速度差感知阈值，
// cldv-跟随时察觉接近的阈值，opdv-跟随时察觉远离的阈值
func (m *Wiedemann) thresholds(ego *Ego, dx float64) (abx, sdx, sdv, cldv, opdv float64) {
	z := ego.Driver.Z
	ax := 2 * m.Security * z
	bx := (1 + 7*m.Security) * math.Sqrt(ego.V) * (0.5 + z)
	abx = ax + bx
	ex := 2 - m.Estimation*(0.5+z)
	sdx = ax + ex*bx
	cx := wiedemannCX * (1 + m.Security + m.Estimation)
	sdv = math.Pow(math.Max(dx-ax, 0)/cx, 2)
	cldv = sdv * ex * ex
	opdv = -cldv * (1 + 2*z)
	return
}

func (m *Wiedemann) accel(ego *Ego, gap, leaderV, desiredV float64) float64 {
	dv := ego.V - leaderV
	abx, sdx, sdv, cldv, opdv := m.thresholds(ego, gap)
	switch {
	case gap <= abx:
		// 紧急制动：按剩余距离所需的减速度制动
		need := ego.Decel
		if dv > 0 {
			need = math.Max(need, dv*dv/(2*math.Max(gap, 0.1)))
		}
		return -math.Min(need, ego.EmergencyDecel)
	case gap <= sdx && dv > cldv:
		// 接近：在到达期望车距前消除速度差
		return -math.Min(0.5*dv*dv/math.Max(gap-abx, 0.1), ego.EmergencyDecel)
	case gap <= sdx && dv >= opdv:
		// 跟随：无意识的微小加减速
		if dv > 0 {
			return -wiedemannBNull
		}
		return wiedemannBNull
	case gap > sdx && dv > sdv && gap-sdx < dv*dv/ego.Decel:
		// 远距离感知到接近
		return -math.Min(0.5*dv*dv/math.Max(gap-abx, 0.1), ego.Decel)
	default:
		return m.freeAccel(ego, desiredV)
	}
}

// freeAccel 自由行驶加速度，不超过车辆类型的最大加速度
func (m *Wiedemann) freeAccel(ego *Ego, desiredV float64) float64 {
	desiredV = math.Max(desiredV, 0.1)
	if ego.V > desiredV {
		return -math.Min(ego.Decel, (ego.V-desiredV)/ego.DT)
	}
	a := math.Min(ego.Accel, ego.Accel*2*(1-ego.V/desiredV))
	return math.Min(a, (desiredV-ego.V)/ego.DT)
}

func (m *Wiedemann) FollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	gap, leaderV, ok := sanitize(ego, gap, leaderV)
	if !ok {
		return 0
	}
	a := math.Min(m.accel(ego, gap, leaderV, ego.MaxV), ego.Accel)
	v := math.Max(0, ego.V+a*ego.DT)
	return math.Min(v, SafeSpeed(gap, leaderV, ego.Decel, ego.DT))
}

func (m *Wiedemann) StopSpeed(ego *Ego, dist float64) float64 {
	return m.FollowSpeed(ego, dist, 0)
}

func (m *Wiedemann) InsertionFollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	gap, leaderV, ok := sanitize(ego, gap, leaderV)
	if !ok {
		return 0
	}
	return math.Min(ego.MaxV, SafeSpeed(gap, leaderV, ego.Decel, ego.DT))
}

func (m *Wiedemann) FreeSpeed(ego *Ego, maxV float64) float64 {
	return math.Max(0, ego.V+m.freeAccel(ego, math.Min(maxV, ego.MaxV))*ego.DT)
}

func (m *Wiedemann) FinalizeSpeed(ego *Ego, vPos float64) float64 {
	return math.Max(vPos, 0)
}

// InitDriver 为驾驶员抽取随机参数
func (m *Wiedemann) InitDriver(ego *Ego) {
	ego.Driver.Z = ego.Rand.TruncNormal(0.5, 0.15, 0, 1)
}
