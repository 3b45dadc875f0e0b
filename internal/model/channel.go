package model

// Channel канал исходящих коммуникаций (email, SMS, ...) с дневной ёмкостью
type Channel struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	IsActive    bool    `json:"is_active"`
	MaxCapacity float64 `json:"max_capacity"`
}

// TimeSlot именованный слот времени в каталоге (доске)
type TimeSlot struct {
	ID        int64  `json:"id"`
	CatalogID string `json:"catalog_id"`
	Name      string `json:"name"` // "HH:MM"
	IsActive  bool   `json:"is_active"`
}
