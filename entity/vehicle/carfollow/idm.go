package carfollow

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/samber/lo"
)

// IDM 智能驾驶模型
// 期望车距 s* = s0 + max(0, v*T + v*(v-vl)/(2*sqrt(a*b)))，
// 加速度 a = amax * (1 - (v/v0)^delta - (s*/s)^2)，一步内分StepScale个子步积分
type IDM struct {
	Delta     float64 // 速度指数
	Headway   float64 // 安全车头时距T
	StepScale int     // 子步数
}

func (m *IDM) Name() string { return "idm" }

// acc IDM加速度
func (m *IDM) acc(ego *Ego, v, desiredV, leaderV, s, headway float64) float64 {
	if s <= 0 {
		return -ego.EmergencyDecel
	}
	desiredV = math.Max(desiredV, 0.1)
	sStar := math.Max(0, v*headway+v*(v-leaderV)/2/math.Sqrt(ego.Accel*ego.Decel))
	a := ego.Accel * (1 - math.Pow(v/desiredV, m.Delta) - math.Pow(sStar/s, 2))
	return lo.Clamp(a, -ego.EmergencyDecel, ego.Accel)
}

// integrate 子步积分一步，返回步末速度
func (m *IDM) integrate(ego *Ego, desiredV, leaderV, gap, headway float64) float64 {
	v := ego.V
	s := gap
	h := ego.DT / float64(m.StepScale)
	for i := 0; i < m.StepScale; i++ {
		next := math.Max(0, v+m.acc(ego, v, desiredV, leaderV, s, headway)*h)
		if s < mathutil.INF {
			s -= (next+v)/2*h - leaderV*h
		}
		v = next
	}
	return v
}

func (m *IDM) FollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	gap, leaderV, ok := sanitize(ego, gap, leaderV)
	if !ok {
		return 0
	}
	v := m.integrate(ego, ego.MaxV, leaderV, gap, m.Headway)
	return math.Min(v, SafeSpeed(gap, leaderV, ego.Decel, ego.DT))
}

// StopSpeed 停车时以步长代替车头时距进行预判
func (m *IDM) StopSpeed(ego *Ego, dist float64) float64 {
	dist, _, ok := sanitize(ego, dist, 0)
	if !ok {
		return 0
	}
	v := m.integrate(ego, ego.MaxV, 0, dist, ego.DT)
	return math.Min(v, SafeSpeed(dist, 0, ego.Decel, ego.DT))
}

func (m *IDM) InsertionFollowSpeed(ego *Ego, gap, leaderV float64) float64 {
	gap, leaderV, ok := sanitize(ego, gap, leaderV)
	if !ok {
		return 0
	}
	return math.Min(ego.MaxV, SafeSpeed(gap, leaderV, ego.Decel, ego.DT))
}

func (m *IDM) FreeSpeed(ego *Ego, maxV float64) float64 {
	return m.integrate(ego, math.Min(maxV, ego.MaxV), 0, mathutil.INF, m.Headway)
}

func (m *IDM) FinalizeSpeed(ego *Ego, vPos float64) float64 {
	return math.Max(vPos, 0)
}

func (m *IDM) InitDriver(ego *Ego) {}
