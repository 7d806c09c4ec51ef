package repository

import "errors"

var (
	// ErrNotFound 写操作的目标不存在
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 乐观锁冲突：记录在读取之后已被其他写入修改
	ErrVersionConflict = errors.New("record version conflict")
)
