package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESIDENTS
// =============================================================================

// NewResident is the input for CreateResident. An empty ID is assigned.
type NewResident struct {
	ID              ResidentID
	Name            string
	Unit            string
	Phone           string
	Email           string
	BaseMaintenance decimal.Decimal
	Occupancy       Occupancy
}

func (n NewResident) validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required", Err: ErrInvalidResident}
	}
	if strings.TrimSpace(n.Unit) == "" {
		return &ValidationError{Field: "unit", Reason: "required", Err: ErrInvalidResident}
	}
	if n.Occupancy != "" && !n.Occupancy.Valid() {
		return &ValidationError{Field: "occupancy", Value: string(n.Occupancy), Reason: "must be occupied or vacant", Err: ErrInvalidResident}
	}
	return validateAmount("base_maintenance", n.BaseMaintenance)
}

// CreateResident validates and stores a new resident.
func (s *Service) CreateResident(ctx context.Context, n NewResident) (*Resident, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	if n.ID == "" {
		n.ID = ResidentID(s.newID())
	}
	if n.Occupancy == "" {
		n.Occupancy = Occupied
	}

	_, err := s.Store.GetResident(ctx, n.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s: %w", n.ID, ErrResidentExists)
	case !errors.Is(err, ErrResidentNotFound):
		return nil, err
	}

	now := s.now()
	r := Resident{
		ID:              n.ID,
		Name:            strings.TrimSpace(n.Name),
		Unit:            strings.TrimSpace(n.Unit),
		Phone:           strings.TrimSpace(n.Phone),
		Email:           strings.TrimSpace(n.Email),
		BaseMaintenance: n.BaseMaintenance,
		Occupancy:       n.Occupancy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.SaveResident(ctx, r); err != nil {
		return nil, fmt.Errorf("save resident: %w", err)
	}
	return &r, nil
}

func (s *Service) GetResident(ctx context.Context, id ResidentID) (*Resident, error) {
	return s.Store.GetResident(ctx, id)
}

func (s *Service) ListResidents(ctx context.Context, filter ResidentFilter) ([]Resident, error) {
	return s.Store.ListResidents(ctx, filter)
}

// UpdateResident applies profile edits. Base maintenance is changed
// through ChangeMaintenance.
func (s *Service) UpdateResident(ctx context.Context, id ResidentID, u ResidentUpdate) (*Resident, error) {
	if u.Occupancy != nil && !u.Occupancy.Valid() {
		return nil, &ValidationError{Field: "occupancy", Value: string(*u.Occupancy), Reason: "must be occupied or vacant", Err: ErrInvalidResident}
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "required", Err: ErrInvalidResident}
	}

	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{id})
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.Store.GetResident(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(r)
	r.UpdatedAt = s.now()
	if err := s.Store.SaveResident(ctx, *r); err != nil {
		return nil, fmt.Errorf("save resident: %w", err)
	}
	return r, nil
}

// DeleteResident removes a resident without ledger history.
func (s *Service) DeleteResident(ctx context.Context, id ResidentID) error {
	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{id})
	if err != nil {
		return err
	}
	defer unlock()

	return s.Store.WithTx(ctx, func(store Store) error {
		if _, err := store.GetResident(ctx, id); err != nil {
			return err
		}
		history, err := store.ListPaymentPeriods(ctx, id, Period{})
		if err != nil {
			return err
		}
		if len(history) > 0 {
			return fmt.Errorf("%s has %d periods: %w", id, len(history), ErrResidentHasPayments)
		}
		return store.DeleteResident(ctx, id)
	})
}

// MaintenanceResult is the resident after a rate change and the optional cascade.
type MaintenanceResult struct {
	Resident Resident
	Cascade  *RecalculationReport
}

// ChangeMaintenance sets a new base maintenance. With Recalculate, every
// period from EffectiveFrom onwards is re-derived at the new rate in the
// same transaction. A dry run saves nothing and reports the cascade the
// change would cause.
func (s *Service) ChangeMaintenance(ctx context.Context, id ResidentID, c MaintenanceChange) (*MaintenanceResult, error) {
	if err := validateAmount("base_maintenance", c.Amount); err != nil {
		return nil, err
	}
	if c.Recalculate && c.EffectiveFrom.IsZero() {
		return nil, &ValidationError{Field: "effective_from", Reason: "required to recalculate", Err: ErrInvalidPeriod}
	}

	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{id})
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := s.now()
	var result MaintenanceResult
	err = s.inTx(ctx, c.DryRun, func(store Store) error {
		resident, err := store.GetResident(ctx, id)
		if err != nil {
			return err
		}
		updated := *resident
		updated.BaseMaintenance = c.Amount
		updated.UpdatedAt = s.now()
		if !c.DryRun {
			if err := store.SaveResident(ctx, updated); err != nil {
				return fmt.Errorf("save resident: %w", err)
			}
		}
		result.Resident = updated

		if c.Recalculate {
			result.Cascade, err = s.recalculate(ctx, store, updated, c.EffectiveFrom, c.DryRun)
			return err
		}
		return nil
	})

	if c.Recalculate {
		s.recordRun(ctx, recalculationRun(id, c.EffectiveFrom, c.DryRun, result.Cascade, started, s.now(), err))
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
