package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/carsim/internal/domain"
)

const simulationColumns = `id, brand_id, fuel_type_id, car_type_id, car_type_other, km,
	first_registered_at, is_van, result_code, estimated_price, steps, created_at, updated_at`

// SaveSimulation inserts a simulation. Simulations are immutable once stored.
func (r *SQLRepository) SaveSimulation(ctx context.Context, s *domain.Simulation) error {
	if s.ResultCode == "" {
		return fmt.Errorf("%w: simulation result code is required", ErrInvalidInput)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.now()
	s.CreatedAt = now
	s.UpdatedAt = now

	steps, err := domain.MarshalSteps(s.Steps)
	if err != nil {
		return err
	}

	var price any
	if s.EstimatedPrice != nil {
		price = *s.EstimatedPrice
	}

	query := `INSERT INTO simulations (` + simulationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.BrandID, s.FuelTypeID, nullableString(s.CarTypeID), nullableString(s.CarTypeOther), s.Km,
		s.FirstRegisteredAt.Time, boolToInt(s.IsVan), string(s.ResultCode), price, steps,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func scanSimulation(sc rowScanner) (*domain.Simulation, error) {
	var s domain.Simulation
	var carTypeID, carTypeOther sql.NullString
	var firstReg time.Time
	var isVan int
	var resultCode, steps string
	var price sql.NullFloat64

	if err := sc.Scan(
		&s.ID, &s.BrandID, &s.FuelTypeID, &carTypeID, &carTypeOther, &s.Km,
		&firstReg, &isVan, &resultCode, &price, &steps, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.CarTypeID = stringFromNull(carTypeID)
	s.CarTypeOther = stringFromNull(carTypeOther)
	s.FirstRegisteredAt = domain.NewDate(firstReg)
	s.IsVan = isVan == 1
	s.ResultCode = domain.ResultCode(resultCode)
	if price.Valid {
		p := price.Float64
		s.EstimatedPrice = &p
	}
	if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
		return nil, fmt.Errorf("failed to parse steps of simulation %s: %w", s.ID, err)
	}
	return &s, nil
}

// GetSimulation retrieves a simulation by ID.
func (r *SQLRepository) GetSimulation(ctx context.Context, id string) (*domain.Simulation, error) {
	s, err := scanSimulation(r.db.QueryRowContext(ctx,
		r.rebind(`SELECT `+simulationColumns+` FROM simulations WHERE id = ?`), id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListSimulations returns simulations newest first.
func (r *SQLRepository) ListSimulations(ctx context.Context, limit, offset int) ([]*domain.Simulation, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+simulationColumns+`
		FROM simulations
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sims := []*domain.Simulation{}
	for rows.Next() {
		s, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		sims = append(sims, s)
	}
	return sims, rows.Err()
}

// DeleteSimulation removes a simulation.
func (r *SQLRepository) DeleteSimulation(ctx context.Context, id string) error {
	return r.execAffected(ctx, `DELETE FROM simulations WHERE id = ?`, id)
}
