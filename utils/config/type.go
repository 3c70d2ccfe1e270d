package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string   `yaml:"db"`                   // 数据库名
	Col       string   `yaml:"col"`                  // 集合名
	Cache     string   `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.pb
	OnlyCache bool     `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string   `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
	Files     []string `yaml:"files,omitempty"`      // 文件路径列表（优先级高于MongoDB）
}

// GetDb 获取数据库名
// 功能：返回配置的数据库名称
// 返回：数据库名称字符串
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
// 功能：返回配置的集合名称
// 返回：集合名称字符串
func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 功能：返回缓存文件的完整路径
// 返回：缓存文件路径字符串
// 算法说明：
// 1. 如果指定了缓存路径，直接返回
// 2. 否则使用默认命名规则：{数据库名}.{集合名}.pb
// 说明：提供统一的缓存路径获取接口
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".pb"
}

// Input 指定模拟器所有输入数据的配置项
// 功能：定义仿真系统的所有输入数据配置
// 说明：路网可以来自YAML文件（network）或mapv2地图（map），两者必须且只能指定其一
type Input struct {
	URI     string     `yaml:"uri,omitempty"`     // MongoDB连接字符串
	Map     *InputPath `yaml:"map,omitempty"`     // mapv2地图
	Network string     `yaml:"network,omitempty"` // YAML路网文件
	Demand  string     `yaml:"demand"`            // YAML出行需求文件（车辆类型、车辆、车流、行人）
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
// 功能：定义仿真时间控制参数
// 说明：控制仿真的时间范围、步长和精度
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔
}

// Insertion 车辆插入配置
type Insertion struct {
	MaxRetries int32 `yaml:"max_retries,omitempty"` // 最大重试步数，超过后放弃插入并记录失败；0取默认值，负数为不限次数
}

// Control 模拟器控制配置
// 功能：定义仿真系统的核心控制参数
// 说明：包含时间控制、随机种子、功能开关等核心配置
type Control struct {
	Step             ControlStep `yaml:"step"`
	Seed             uint64      `yaml:"seed,omitempty"`               // 全局随机种子
	EndWhenEmpty     bool        `yaml:"end_when_empty,omitempty"`     // 没有待出发和行驶中的车辆和行人时提前结束
	PreferFixedLight bool        `yaml:"prefer_fixed_light,omitempty"` // 优先使用固定相位信控，如果不存在则使用最大压力信控
	Lookahead        float64     `yaml:"lookahead,omitempty"`          // 跨车道寻找前车的最大距离（米）
	TeleportAfter    float64     `yaml:"teleport_after,omitempty"`     // 车辆停滞超过该时长（秒）后移出路网，0表示关闭
	DetectorPeriod   float64     `yaml:"detector_period,omitempty"`    // 检测器聚合周期（秒）
	Insertion        Insertion   `yaml:"insertion,omitempty"`
	Router           string      `yaml:"router,omitempty"`           // 路由实现：graph|fiblab
	PedestrianModel  string      `yaml:"pedestrian_model,omitempty"` // 行人模型：striping|noninteracting
}

// Config YAML配置文件的根结构
// 功能：定义整个仿真系统的配置结构
// 说明：包含输入、控制等所有配置项
type Config struct {
	Input   Input   `yaml:"input"`   // 输入
	Control Control `yaml:"control"` // 模拟过程控制
}
