// Package lock сериализует проверку ёмкости и запись в леджер
// по ключу (канал, дата, слот).
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/model"
)

// ErrLockTimeout блокировку не удалось получить до дедлайна
var ErrLockTimeout = errors.New("lock wait timeout")

// Locker выдаёт эксклюзивную блокировку по ключу.
// Вызывающий обязан вызвать unlock ровно один раз.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SlotKey ключ блокировки тройки (канал, дата, слот)
func SlotKey(channelID string, date time.Time, slot string) string {
	return "capacity:" + channelID + ":" + model.DateKey(date) + ":" + model.SlotKey(slot)
}
