package model

// DemandLine строка пакета распределения. Не сохраняется до коммита.
type DemandLine struct {
	ChannelID     string  `json:"channel_id"`
	Date          string  `json:"date"` // DD/MM/YYYY или YYYY-MM-DD
	Slot          string  `json:"slot"`
	Quantity      float64 `json:"quantity"`
	OwnerIdentity string  `json:"owner_identity,omitempty"` // непрозрачный ключ вызывающей стороны
	SourceIndex   int     `json:"source_index"`             // позиция исходной строки во входном пакете
}

// IsEmpty строки без канала, даты, слота или с неположительным количеством
// отбрасываются до распределения
func (l DemandLine) IsEmpty() bool {
	return l.ChannelID == "" || l.Date == "" || l.Slot == "" || l.Quantity <= 0
}
