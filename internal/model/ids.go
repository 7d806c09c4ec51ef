package model

import "strconv"

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID 解析路径或文档中的记录 ID
func ParseID(s string) (uint, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}
