package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Domenick1991/farmrent/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MachineRepository interface {
	List(ctx context.Context) ([]domain.Machine, error)
	GetByID(ctx context.Context, id string) (*domain.Machine, error)
}

type PGMachineRepository struct {
	db *pgxpool.Pool
}

func NewMachineRepository(db *pgxpool.Pool) MachineRepository {
	return &PGMachineRepository{db: db}
}

func (r *PGMachineRepository) List(ctx context.Context) ([]domain.Machine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, owner_id, name, kind, billing_scheme, rate, unit, available, created_at, updated_at FROM machines ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]domain.Machine, 0)
	for rows.Next() {
		var m domain.Machine
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Kind, &m.BillingScheme, &m.Rate, &m.Unit, &m.Available, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (r *PGMachineRepository) GetByID(ctx context.Context, id string) (*domain.Machine, error) {
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, name, kind, billing_scheme, rate, unit, available, created_at, updated_at FROM machines WHERE id=$1`, id)
	var m domain.Machine
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Kind, &m.BillingScheme, &m.Rate, &m.Unit, &m.Available, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("machine %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

var _ MachineRepository = (*PGMachineRepository)(nil)
