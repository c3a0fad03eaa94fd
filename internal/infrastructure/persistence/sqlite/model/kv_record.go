package model

type KVRecord struct {
	Key       string `gorm:"column:k;type:varchar(255);primaryKey"`
	Value     string `gorm:"column:v;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (KVRecord) TableName() string {
	return "kv_store"
}
