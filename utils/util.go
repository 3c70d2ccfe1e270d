package utils

// Find 按ID批量查找数据
// 参数：dataMap-ID到数据的映射，data-全部数据，ids-待查找的ID
// 返回：按ids顺序找到的数据与不存在的ID；ids为空时返回data
func Find[T any](dataMap map[int32]T, data []T, ids []int32) (okData []T, failedIDs []int32) {
	if len(ids) == 0 {
		return data, nil
	}
	okData = make([]T, 0, len(ids))
	for _, id := range ids {
		if d, ok := dataMap[id]; ok {
			okData = append(okData, d)
		} else {
			failedIDs = append(failedIDs, id)
		}
	}
	return
}
