package orm

import "gorm.io/gorm"

// ApplyPagination 应用分页到 GORM 查询
// page/limit 任一 <= 0 则不分页
func ApplyPagination(db *gorm.DB, page, limit int) *gorm.DB {
	if page > 0 && limit > 0 {
		offset := (page - 1) * limit
		return db.Offset(offset).Limit(limit)
	}
	return db
}
