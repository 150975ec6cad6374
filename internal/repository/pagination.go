package repository

import "gorm.io/gorm"

// maxPageSize 运营查询单页上限
const maxPageSize = 100

// applyPagination 应用分页参数，页码从 1 开始，页大小超过上限时截断。
func applyPagination(query *gorm.DB, page, pageSize int) *gorm.DB {
	if query == nil || pageSize <= 0 {
		return query
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return query.Limit(pageSize).Offset((page - 1) * pageSize)
}

// applyBatchLimit 批处理查询的条数限制，limit<=0 表示不限制
func applyBatchLimit(query *gorm.DB, limit int) *gorm.DB {
	if query == nil || limit <= 0 {
		return query
	}
	return query.Limit(limit)
}
