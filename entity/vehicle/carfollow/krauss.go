package carfollow

import "math"

// Krauss Krauss跟车模型
// 安全速度 vsafe = vl + (g - vl*tau) / ((v+vl)/(2b) + tau)，随后以概率扰动模拟驾驶员的不完美加速
type Krauss struct {
	Sigma float64 // 驾驶不完美程度，[0,1]
	Tau   float64 // 反应时间（秒）
}

func (m *Krauss) Name() string { return "krauss" }

func (m *Krauss) vsafe(ego *Ego, gap, leaderV float64) float64 {
	return leaderV + (gap-leaderV*m.Tau)/((ego.V+leaderV)/(2*ego.Decel)+m.Tau)
}

func (m *Krauss) FollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	gap, leaderV, ok := sanitize(ego, gap, leaderV)
	if !ok {
		return 0
	}
	v := math.Min(m.vsafe(ego, gap, leaderV), SafeSpeed(gap, leaderV, ego.Decel, ego.DT))
	return math.Max(v, 0)
}

func (m *Krauss) StopSpeed(ego *Ego, dist float64) float64 {
	return m.FollowSpeed(ego, dist, 0)
}

func (m *Krauss) InsertionFollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	return m.FollowSpeed(ego, gap, leaderV)
}

func (m *Krauss) FreeSpeed(ego *Ego, maxV float64) float64 {
	return freeSpeed(ego, maxV)
}

// FinalizeSpeed 随机减速（dawdle）
// 算法说明：
// 1. 低速时扰动与速度成正比，否则与一步的最大加速量成正比
// 2. 结果不低于以舒适减速度制动一步后的速度（且不超过vPos）
func (m *Krauss) FinalizeSpeed(ego *Ego, vPos float64) float64 {
	vMax := math.Max(vPos, 0)
	vMin := math.Min(minNextSpeed(ego), vMax)
	r := ego.Rand.Float64()
	var dawdle float64
	if vMax < ego.Accel*ego.DT {
		dawdle = m.Sigma * vMax * r
	} else {
		dawdle = m.Sigma * ego.Accel * ego.DT * r
	}
	return math.Max(vMin, vMax-dawdle)
}

func (m *Krauss) InitDriver(ego *Ego) {}
