package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReservationKind определяет, как запись учитывается в ёмкости слота
type ReservationKind string

const (
	ReservationKindBooking ReservationKind = "booking" // Агендамент из формы, всегда занимает ёмкость
	ReservationKindHold    ReservationKind = "hold"    // Резерв администратора, не учитывается для своей области
)

// Valid проверяет, что значение kind известно
func (k ReservationKind) Valid() bool {
	return k == ReservationKindBooking || k == ReservationKindHold
}

// ParseReservationKind разбирает kind из внешнего представления.
// Принимает "booking"/"hold" в любом регистре.
func ParseReservationKind(s string) (ReservationKind, bool) {
	switch ReservationKind(strings.ToLower(strings.TrimSpace(s))) {
	case ReservationKindBooking:
		return ReservationKindBooking, true
	case ReservationKindHold:
		return ReservationKindHold, true
	}
	return "", false
}

// Reservation одна строка леджера: ёмкость канала на дату и слот
type Reservation struct {
	ID            uuid.UUID       `json:"id"`
	ChannelID     string          `json:"channel_id"`
	Date          time.Time       `json:"date"` // всегда якорится на полдень UTC
	Slot          string          `json:"slot"` // "HH:MM"
	Quantity      float64         `json:"quantity"`
	RequesterArea string          `json:"requester_area"`
	RequesterName *string         `json:"requester_name,omitempty"`
	Kind          ReservationKind `json:"kind"`
	OwnerUserID   *string         `json:"owner_user_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CountsFor сообщает, занимает ли запись ёмкость с точки зрения области requesterArea.
// Booking учитывается всегда. Hold не учитывается только для своей же области;
// пустая область запроса считается чужой.
func (r *Reservation) CountsFor(requesterArea string) bool {
	if r.Kind != ReservationKindHold {
		return true
	}
	return requesterArea == "" || r.RequesterArea != requesterArea
}

// SameSlot сравнивает слот записи с именем слота каталога по первым 5 символам
func (r *Reservation) SameSlot(slot string) bool {
	return SlotKey(r.Slot) == SlotKey(slot)
}
