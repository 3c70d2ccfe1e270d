package entity

// Manager依赖倒置

// entity/lane/manager.go的依赖倒置
type ILaneManager interface {
	// 输入Lane ID，查找Lane，如果不存在则panic
	Get(id int32) ILane
	// 输入Lane ID，查找Lane，如果不存在则返回error
	GetOrError(id int32) (ILane, error)
	// 全部车道（按ID升序）
	Lanes() []ILane
}

// entity/edge/manager.go的依赖倒置
type IEdgeManager interface {
	// 输入Edge ID，查找Edge，如果不存在则panic
	Get(id int32) IEdge
	// 输入Edge ID，查找Edge，如果不存在则返回error
	GetOrError(id int32) (IEdge, error)
	// 全部道路（按ID升序）
	Edges() []IEdge
}

// entity/junction/manager.go的依赖倒置
type IJunctionManager interface {
	// 输入Junction ID，查找Junction，如果不存在则panic
	Get(id int32) IJunction
	// 输入Junction ID，查找Junction，如果不存在则返回error
	GetOrError(id int32) (IJunction, error)
}
