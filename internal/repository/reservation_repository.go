package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/capacity_scheduler/internal/capacity"
	"github.com/Freeeeeet/capacity_scheduler/internal/model"
	"github.com/Freeeeeet/capacity_scheduler/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const reservationColumns = `
	id, channel_id, date, slot::text, quantity::float8, requester_area,
	requester_name, kind, owner_user_id, created_at, updated_at
`

// ReservationRepository леджер резервирований ёмкости
type ReservationRepository struct {
	*base.Repository
}

func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{Repository: base.NewRepository(pool)}
}

// Create сохраняет новую запись. ID генерируется, если не задан.
func (r *ReservationRepository) Create(ctx context.Context, res *model.Reservation) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}

	query := `
		INSERT INTO reservations (id, channel_id, date, slot, quantity, requester_area, requester_name, kind, owner_user_id)
		VALUES ($1, $2, $3, $4::time, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		res.ID,
		res.ChannelID,
		model.AnchorDate(res.Date),
		model.SlotKey(res.Slot),
		res.Quantity,
		res.RequesterArea,
		res.RequesterName,
		string(res.Kind),
		res.OwnerUserID,
	).Scan(&res.CreatedAt, &res.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create reservation: %w", err)
	}

	return nil
}

// Update перезаписывает все изменяемые поля записи
func (r *ReservationRepository) Update(ctx context.Context, res *model.Reservation) error {
	query := `
		UPDATE reservations
		SET channel_id = $1, date = $2, slot = $3::time, quantity = $4, requester_area = $5,
		    requester_name = $6, kind = $7, owner_user_id = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		res.ChannelID,
		model.AnchorDate(res.Date),
		model.SlotKey(res.Slot),
		res.Quantity,
		res.RequesterArea,
		res.RequesterName,
		string(res.Kind),
		res.OwnerUserID,
		res.ID,
	).Scan(&res.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("update reservation %s: %w", res.ID, capacity.ErrNotFound)
		}
		return fmt.Errorf("update reservation: %w", err)
	}

	return nil
}

// GetByID получает запись по ID
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation by id: %w", err)
	}

	return res, nil
}

// Delete удаляет запись по ID, возвращает была ли удалена строка
func (r *ReservationRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	affected, err := r.ExecAffected(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	return affected > 0, nil
}

// DeleteByChannelDateSlot освобождает слот: удаляет все записи тройки,
// опционально только одной области
func (r *ReservationRepository) DeleteByChannelDateSlot(ctx context.Context, channelID string, date time.Time, slot, requesterArea string) (int64, error) {
	query := `
		DELETE FROM reservations
		WHERE channel_id = $1 AND date = $2 AND slot = $3::time
		  AND ($4 = '' OR requester_area = $4)
	`

	affected, err := r.ExecAffected(ctx, query, channelID, model.AnchorDate(date), model.SlotKey(slot), requesterArea)
	if err != nil {
		return 0, fmt.Errorf("delete reservations by channel/date/slot: %w", err)
	}
	return affected, nil
}

// SumCounted сумма количеств, занимающих ёмкость слота для области requesterArea.
// Booking учитывается всегда, hold - только если область другая или не задана.
func (r *ReservationRepository) SumCounted(ctx context.Context, channelID string, date time.Time, slot, requesterArea string) (float64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)::float8
		FROM reservations
		WHERE channel_id = $1 AND date = $2 AND slot = $3::time
		  AND (kind = 'booking' OR $4 = '' OR requester_area <> $4)
	`

	var total float64
	err := r.QueryRow(ctx, query, channelID, model.AnchorDate(date), model.SlotKey(slot), requesterArea).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum counted quantity: %w", err)
	}
	return total, nil
}

// ListByChannelDate все записи канала за день
func (r *ReservationRepository) ListByChannelDate(ctx context.Context, channelID string, date time.Time) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE channel_id = $1 AND date = $2
		ORDER BY slot ASC`

	return r.list(ctx, "list reservations by channel/date", query, channelID, model.AnchorDate(date))
}

// GetByChannel все записи канала
func (r *ReservationRepository) GetByChannel(ctx context.Context, channelID string) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE channel_id = $1
		ORDER BY date ASC, slot ASC`

	return r.list(ctx, "get reservations by channel", query, channelID)
}

// GetByDate все записи за день
func (r *ReservationRepository) GetByDate(ctx context.Context, date time.Time) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE date = $1
		ORDER BY date ASC, slot ASC`

	return r.list(ctx, "get reservations by date", query, model.AnchorDate(date))
}

// GetByOwner все записи пользователя
func (r *ReservationRepository) GetByOwner(ctx context.Context, ownerUserID string) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE owner_user_id = $1
		ORDER BY date ASC, slot ASC`

	return r.list(ctx, "get reservations by owner", query, ownerUserID)
}

// GetByOwnerAndArea записи пользователя в рамках области
func (r *ReservationRepository) GetByOwnerAndArea(ctx context.Context, ownerUserID, requesterArea string) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE owner_user_id = $1 AND requester_area = $2
		ORDER BY date ASC, slot ASC`

	return r.list(ctx, "get reservations by owner and area", query, ownerUserID, requesterArea)
}

// GetAll все записи леджера
func (r *ReservationRepository) GetAll(ctx context.Context) ([]*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		ORDER BY date ASC, slot ASC`

	return r.list(ctx, "get all reservations", query)
}

func (r *ReservationRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.Reservation, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var reservations []*model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reservations, nil
}

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var res model.Reservation
	err := row.Scan(
		&res.ID,
		&res.ChannelID,
		&res.Date,
		&res.Slot,
		&res.Quantity,
		&res.RequesterArea,
		&res.RequesterName,
		&res.Kind,
		&res.OwnerUserID,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.Date = model.AnchorDate(res.Date)
	res.Slot = model.SlotKey(res.Slot)
	return &res, nil
}
