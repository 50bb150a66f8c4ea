package repo

import (
	"github.com/KNICEX/trading-automaton/internal/entity"
	"gorm.io/gorm"
)

func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Trade{})
}
