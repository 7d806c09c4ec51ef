package service

import "errors"

var (
	// ErrNotFound 查询的记录不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord 记录字段不合法
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnknownFamily 未注册的富化家族
	ErrUnknownFamily = errors.New("unknown enrichment family")
	// ErrUnknownSource 未注册的同步来源
	ErrUnknownSource = errors.New("unknown sync source")
	// ErrLookupNotFound 外部数据源中查无此条，属于永久结果
	ErrLookupNotFound = errors.New("no match in external source")
)
