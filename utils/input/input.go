package input

import (
	"context"
	"fmt"
	"os"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/microsim/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v2"
)

// Input 输入数据
// 功能：存储仿真所需的所有输入数据
// 说明：路网与出行需求均已通过校验
type Input struct {
	Network *Network
	Demand  *Demand
}

// Init 加载数据
// 功能：根据配置加载并校验路网与出行需求
// 参数：config-配置对象，cacheDir-缓存目录
// 返回：加载完成的输入数据指针，配置错误时返回错误
// 算法说明：
// 1. 路网：YAML文件，或mapv2地图（文件或MongoDB，支持缓存）转换而来
// 2. 出行需求：YAML文件
// 3. 校验路网结构与出行需求引用
func Init(config config.Config, cacheDir string) (*Input, error) {
	var network *Network
	if config.Input.Network != "" {
		network = &Network{}
		if err := readYAML(config.Input.Network, network); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNetwork, err)
		}
	} else {
		m, err := loadMap(config, cacheDir)
		if err != nil {
			return nil, err
		}
		if network, err = FromMap(m); err != nil {
			return nil, err
		}
	}
	demand := &Demand{}
	if err := readYAML(config.Input.Demand, demand); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDemand, err)
	}
	return New(network, demand)
}

// New 校验并组装输入数据
func New(network *Network, demand *Demand) (*Input, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}
	if err := demand.Validate(network); err != nil {
		return nil, err
	}
	log.Infof("network: %d lanes, %d edges, %d junctions, %d detectors",
		len(network.Lanes), len(network.Edges), len(network.Junctions), len(network.Detectors))
	log.Infof("demand: %d vehicle types, %d vehicles, %d flows, %d persons",
		len(demand.VehicleTypes), len(demand.Vehicles), len(demand.Flows), len(demand.Persons))
	return &Input{Network: network, Demand: demand}, nil
}

// loadMap 加载mapv2地图
func loadMap(config config.Config, cacheDir string) (*mapv2.Map, error) {
	path := config.Input.Map
	if path.File != "" {
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, path.File); err != nil {
			return nil, fmt.Errorf("%w: failed to load map from file: %v", ErrInvalidNetwork, err)
		}
		return &m, nil
	}
	if len(path.Files) > 0 {
		return nil, fmt.Errorf("%w: multiple map files are not supported", ErrInvalidNetwork)
	}
	useCache := preCheckCache(cacheDir)
	if !useCache {
		cacheDir = ""
	}
	var client *mongo.Client
	if config.Input.URI != "" {
		client = mongoutil.NewClient(config.Input.URI)
		defer client.Disconnect(context.Background())
	}
	return mustLoad[mapv2.Map](client, *path, cacheDir, nil, nil), nil
}

func readYAML(file string, out any) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, out)
}

// mustLoad 必须加载数据（泛型函数）
// 功能：从MongoDB或缓存中加载数据
// 参数：client-MongoDB客户端，inputPath-输入路径配置，cacheDir-缓存目录，classNameMapper-类名映射器，handler-数据处理函数，opts-查询选项
// 返回：加载的数据对象
// 算法说明：
// 1. 获取MongoDB集合：根据输入路径配置获取集合
// 2. 定义下载函数：如果不需要仅缓存则定义下载逻辑
// 3. 缓存加载：使用缓存机制加载数据
// 4. 错误处理：如果加载失败则panic
func mustLoad[T any, PT interface {
	proto.Message
	*T
}](
	client *mongo.Client,
	inputPath config.InputPath,
	cacheDir string,
	classNameMapper func(string) string,
	handler func(className string, pb any, rawBson bson.Raw) error,
	opts ...*options.FindOptions,
) (res PT) {
	coll := mongoutil.GetMongoColl(client, inputPath)
	var downloadFunc func() PT
	var err error
	if !inputPath.OnlyCache {
		downloadFunc = func() PT {
			pb, errs := mongoutil.DownloadPbFromMongo[T, PT](context.Background(), coll, classNameMapper, handler, opts...)
			if len(errs) > 0 {
				for _, err := range errs {
					log.Errorf("failed to download: %v", err)
				}
				log.Panicln("failed to download")
			}
			return pb
		}
	}
	log.Infof("start fetching from %s.%s", inputPath.DB, inputPath.Col)
	res, err = cache.LoadWithCache(cacheDir, inputPath, downloadFunc)
	if err != nil {
		log.Panicf("failed to load with cache: %v", err)
	}
	log.Infof("finish fetching from %s.%s", inputPath.DB, inputPath.Col)
	return
}
