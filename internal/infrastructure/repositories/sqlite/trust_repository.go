package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
)

type TrustRepository struct {
	store *Store
}

func NewTrustRepository(store *Store) ports.TrustRepository {
	return &TrustRepository{store: store}
}

func (r *TrustRepository) Save(ctx context.Context, record *domain.TrustRecord) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO trusted_devices (device_id, name, transport, paired_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			paired_at = excluded.paired_at,
			last_seen = excluded.last_seen`,
		string(record.DeviceID), record.Name, string(record.Transport),
		record.PairedAt.UnixMicro(), record.LastSeen.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("saving trust record: %w", err)
	}
	return nil
}

func (r *TrustRepository) Get(ctx context.Context, id domain.DeviceID) (*domain.TrustRecord, error) {
	row := r.store.db.QueryRowContext(ctx, `
		SELECT device_id, name, transport, paired_at, last_seen
		FROM trusted_devices WHERE device_id = ?`, string(id))

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError("trust get", domain.KindNotFound, "device "+string(id)+" not trusted", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("getting trust record: %w", err)
	}
	return record, nil
}

func (r *TrustRepository) Delete(ctx context.Context, id domain.DeviceID) error {
	if _, err := r.store.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE device_id = ?`, string(id)); err != nil {
		return fmt.Errorf("deleting trust record: %w", err)
	}
	return nil
}

func (r *TrustRepository) List(ctx context.Context) ([]*domain.TrustRecord, error) {
	rows, err := r.store.db.QueryContext(ctx, `
		SELECT device_id, name, transport, paired_at, last_seen
		FROM trusted_devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("listing trust records: %w", err)
	}
	defer rows.Close()

	records := []*domain.TrustRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trust record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.TrustRecord, error) {
	var (
		record             domain.TrustRecord
		id, transport      string
		pairedAt, lastSeen int64
	)
	if err := s.Scan(&id, &record.Name, &transport, &pairedAt, &lastSeen); err != nil {
		return nil, err
	}
	record.DeviceID = domain.DeviceID(id)
	record.Transport = domain.TransportKind(transport)
	record.PairedAt = time.UnixMicro(pairedAt).UTC()
	record.LastSeen = time.UnixMicro(lastSeen).UTC()
	return &record, nil
}
