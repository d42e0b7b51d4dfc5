// Package services – ReservationService
//
// This file implements time-boxed stock holds during checkout. A reserve
// call locks the product row, checks derived availability, supersedes any
// prior hold by the same session, inserts the new reservation, and bumps
// reserved_quantity, all in one transaction holding the product lock
// throughout, so two callers can never both succeed when stock only covers
// one.
//
// Expiry is declarative: a reservation is logically expired the instant
// now > expires_at, but the hold on reserved_quantity is physically
// reclaimed only when the sweep next runs. Callers must treat availability
// as a best-effort hint bounded by the sweep interval.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/merchantry/commerce-core/internal/domain"
	"github.com/merchantry/commerce-core/internal/repo"
)

// DefaultReservationTTL is how long a hold lives when no override is given.
const DefaultReservationTTL = 15 * time.Minute

// ReservationService manages inventory holds for checkout sessions.
type ReservationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// TTL is the default hold duration; zero means DefaultReservationTTL.
	TTL time.Duration

	// Now is the clock; overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// NewReservationService constructs a ReservationService with the default TTL.
func NewReservationService(db *gorm.DB, ttl time.Duration) *ReservationService {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &ReservationService{DB: db, TTL: ttl, Now: time.Now}
}

// ReleaseSummary reports what one reservation sweep reclaimed.
type ReleaseSummary struct {
	Released        int `json:"released"`
	ProductsTouched int `json:"products_touched"`
}

// Reserve places a hold of qty units of a product for a checkout session.
//
// Availability is computed under the product row lock as stock minus
// reserved. On shortfall it returns an InsufficientResourceError carrying
// available and requested. A prior active hold by the same session on the
// same product is cancelled and replaced.
func (s *ReservationService) Reserve(ctx context.Context, productID, storeID, sessionID string, qty int, ttl time.Duration) (*domain.InventoryReservation, error) {
	if qty < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if sessionID == "" {
		return nil, &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if ttl <= 0 {
		ttl = s.TTL
	}

	now := s.now()
	var out *domain.InventoryReservation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetProductForUpdate(ctx, tx, productID, storeID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrProductNotFound
			}
			return err
		}

		if avail := p.AvailableQuantity(); avail < qty {
			return &InsufficientResourceError{
				Resource:  "stock",
				Available: int64(avail),
				Requested: int64(qty),
			}
		}

		// One active hold per (session, product): supersede the old one.
		reservedDelta := qty
		if prior, err := repo.GetActiveReservation(ctx, tx, sessionID, productID); err == nil {
			if err := repo.TransitionReservation(ctx, tx, prior.ID, domain.ReservationCancelled, nil); err != nil {
				return err
			}
			reservedDelta -= prior.Quantity
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		out = &domain.InventoryReservation{
			ProductID:  productID,
			StoreID:    storeID,
			SessionID:  sessionID,
			Quantity:   qty,
			Status:     domain.ReservationActive,
			ReservedAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		if err := repo.CreateReservation(ctx, tx, out); err != nil {
			return err
		}
		return repo.AdjustProductCounters(ctx, tx, productID, 0, reservedDelta)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Availability returns the derived available quantity for a product. The
// value is eventually consistent: holds past their expires_at still count
// until the next sweep reclaims them.
func (s *ReservationService) Availability(ctx context.Context, productID, storeID string) (int, error) {
	p, err := repo.GetProduct(ctx, s.DB, productID, storeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return p.AvailableQuantity(), nil
}

// CompleteReservations transitions all active holds for a session to
// completed, stamping the order, and clears the held quantity from each
// product. Stock itself is decremented by the order transaction, not here.
func (s *ReservationService) CompleteReservations(ctx context.Context, sessionID, orderID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return completeReservations(ctx, tx, sessionID, orderID)
	})
}

// completeReservations is the in-transaction variant, shared with order
// creation so the handoff from hold to committed stock is atomic.
func completeReservations(ctx context.Context, tx *gorm.DB, sessionID, orderID string) error {
	holds, err := repo.ListActiveReservationsForSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	perProduct := make(map[string]int)
	for _, r := range holds {
		if err := repo.TransitionReservation(ctx, tx, r.ID, domain.ReservationCompleted, &orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue // swept or superseded since listing
			}
			return err
		}
		perProduct[r.ProductID] += r.Quantity
	}

	for productID, qty := range perProduct {
		if err := repo.AdjustProductCounters(ctx, tx, productID, 0, -qty); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseExpiredReservations reclaims every active hold whose expires_at
// has passed: marks it expired and returns its quantity to availability.
// Invoked by the external scheduler every few minutes.
//
// Each product group is processed in its own transaction; a failure on one
// product is logged and the sweep continues.
func (s *ReservationService) ReleaseExpiredReservations(ctx context.Context) (ReleaseSummary, error) {
	now := s.now()
	var sum ReleaseSummary

	var expired []domain.InventoryReservation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		expired, err = repo.ListExpiredActiveReservations(ctx, tx, now)
		return err
	})
	if err != nil {
		return sum, err
	}
	if len(expired) == 0 {
		return sum, nil
	}

	byProduct := make(map[string][]domain.InventoryReservation)
	for _, r := range expired {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
	}

	for productID, holds := range byProduct {
		released, err := s.releaseProductHolds(ctx, productID, holds)
		if err != nil {
			log.Error().Err(err).Str("product_id", productID).Msg("reservation release failed")
			continue
		}
		if released > 0 {
			sum.Released += released
			sum.ProductsTouched++
		}
	}

	reservationsReleased.Add(float64(sum.Released))
	log.Info().
		Int("released", sum.Released).
		Int("products", sum.ProductsTouched).
		Msg("expired reservation sweep finished")
	return sum, nil
}

// releaseProductHolds expires the given holds for one product under its row
// lock, decrementing reserved_quantity by the summed quantity actually
// transitioned.
func (s *ReservationService) releaseProductHolds(ctx context.Context, productID string, holds []domain.InventoryReservation) (int, error) {
	released := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.GetProductForUpdate(ctx, tx, productID, holds[0].StoreID); err != nil {
			return err
		}
		total := 0
		count := 0
		for _, r := range holds {
			if err := repo.TransitionReservation(ctx, tx, r.ID, domain.ReservationExpired, nil); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					continue // completed or cancelled since selection
				}
				return err
			}
			total += r.Quantity
			count++
		}
		if total == 0 {
			return nil
		}
		released = count
		return repo.AdjustProductCounters(ctx, tx, productID, 0, -total)
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

func (s *ReservationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
