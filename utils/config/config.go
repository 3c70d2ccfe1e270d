package config

import (
	"errors"
	"fmt"
)

const (
	RouterGraph  = "graph"  // 基于gonum的边图最短路
	RouterFiblab = "fiblab" // mapv2地图上的fiblab本地路由

	PedestrianStriping       = "striping"
	PedestrianNonInteracting = "noninteracting"

	UnlimitedRetries = -1 // insertion.max_retries取负数时不限重试次数

	defaultLookahead      = 250
	defaultMaxRetries     = 300
	defaultDetectorPeriod = 60
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// RuntimeConfig 运行时配置
// 功能：存储仿真运行时的配置信息，已填充默认值并完成校验
// 说明：将YAML配置转换为运行时可用的配置对象
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
}

// NewRuntimeConfig 根据配置初始化全局变量
// 功能：创建运行时配置对象，进行默认值填充和配置校验
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针，配置非法时返回包装了ErrInvalidConfig的错误
// 算法说明：
// 1. 填充默认值：步长、前视距离、插入重试次数、路由与行人模型
// 2. 校验取值范围与枚举值
func NewRuntimeConfig(config Config) (*RuntimeConfig, error) {
	c := &config.Control
	if c.Step.Interval == 0 {
		c.Step.Interval = 1
	}
	if c.Lookahead == 0 {
		c.Lookahead = defaultLookahead
	}
	if c.Insertion.MaxRetries == 0 {
		c.Insertion.MaxRetries = defaultMaxRetries
	} else if c.Insertion.MaxRetries < 0 {
		c.Insertion.MaxRetries = UnlimitedRetries
	}
	if c.DetectorPeriod == 0 {
		c.DetectorPeriod = defaultDetectorPeriod
	}
	if c.Router == "" {
		c.Router = RouterGraph
	}
	if c.PedestrianModel == "" {
		c.PedestrianModel = PedestrianStriping
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeConfig{All: config, C: config.Control}, nil
}

// Validate 校验配置
func (c Config) Validate() error {
	ctl := c.Control
	switch {
	case ctl.Step.Interval < 0:
		return fmt.Errorf("%w: step.interval %v must be positive", ErrInvalidConfig, ctl.Step.Interval)
	case ctl.Step.Total <= 0:
		return fmt.Errorf("%w: step.total %v must be positive", ErrInvalidConfig, ctl.Step.Total)
	case ctl.Step.Start < 0:
		return fmt.Errorf("%w: step.start %v must not be negative", ErrInvalidConfig, ctl.Step.Start)
	case ctl.Lookahead < 0:
		return fmt.Errorf("%w: lookahead %v must be positive", ErrInvalidConfig, ctl.Lookahead)
	case ctl.TeleportAfter < 0:
		return fmt.Errorf("%w: teleport_after %v must not be negative", ErrInvalidConfig, ctl.TeleportAfter)
	case ctl.DetectorPeriod < 0:
		return fmt.Errorf("%w: detector_period %v must be positive", ErrInvalidConfig, ctl.DetectorPeriod)
	}
	switch ctl.Router {
	case RouterGraph:
	case RouterFiblab:
		if c.Input.Map == nil {
			return fmt.Errorf("%w: router %q requires input.map", ErrInvalidConfig, ctl.Router)
		}
	default:
		return fmt.Errorf("%w: unknown router %q", ErrInvalidConfig, ctl.Router)
	}
	switch ctl.PedestrianModel {
	case PedestrianStriping, PedestrianNonInteracting:
	default:
		return fmt.Errorf("%w: unknown pedestrian model %q", ErrInvalidConfig, ctl.PedestrianModel)
	}
	if (c.Input.Map == nil) == (c.Input.Network == "") {
		return fmt.Errorf("%w: exactly one of input.map and input.network must be set", ErrInvalidConfig)
	}
	return nil
}
