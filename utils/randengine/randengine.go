// 随机数引擎，包装了golang.org/x/exp/rand
// 仿真中每个实体持有由全局种子派生的独立引擎，引擎只在所属实体的计算中使用，不加锁
package randengine

import (
	"flag"
	"math"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
type Engine struct {
	*rand.Rand
}

// New 创建随机数引擎，实际种子为seed加上rand.seed_offset
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// Derive 为指定实体派生独立的随机数引擎
// 功能：由全局种子和实体ID生成互不相关的子种子
// 参数：seed-全局种子，id-实体ID
// 说明：实体的随机序列只取决于(seed, id)，与并行调度顺序无关
func Derive(seed uint64, id int32) *Engine {
	return New(splitmix64(seed ^ (uint64(uint32(id)) * 0x9e3779b97f4a7c15)))
}

// splitmix64 混合函数
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Uniform 在[lo, hi)内均匀采样
func (e *Engine) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*e.Float64()
}

// TruncNormal 截断到[lo, hi]的正态分布采样，std<=0时返回截断后的mean
func (e *Engine) TruncNormal(mean, std, lo, hi float64) float64 {
	if std <= 0 {
		return math.Min(math.Max(mean, lo), hi)
	}
	return math.Min(math.Max(mean+std*e.NormFloat64(), lo), hi)
}

// DiscreteDistribution 按权重采样索引
// 参数：weight-非负权重，至少一个为正
// 返回：[0, len(weight))内的索引
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	total := .0
	for _, w := range weight {
		total += w
	}
	target := total * e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > target {
			return int32(i)
		}
	}
	log.Panicf("randengine: DiscreteDistribution: sum: %f random: %f", sum, target)
	return -1
}

// PTrue 以概率p返回true
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}
