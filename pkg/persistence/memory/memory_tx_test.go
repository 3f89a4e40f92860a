// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

var _ = Describe("Transaction Support", func() {
	var (
		store *InMemoryStore
		ctx   context.Context
		now   time.Time
	)

	newOrder := func(id string) *models.Order {
		return &models.Order{
			ID:          id,
			TeamID:      "team-a",
			OrderNumber: "WO-" + id,
			Status:      models.OrderStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	newInstance := func(id, orderID string, opNumber int, status models.InstanceStatus) *models.OperationInstance {
		return &models.OperationInstance{
			ID:              id,
			OrderID:         orderID,
			TeamID:          "team-a",
			OperationNumber: opNumber,
			Status:          status,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	BeforeEach(func() {
		store = NewInMemoryStore()
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	})

	Describe("BeginTx", func() {
		Context("when beginning a transaction", func() {
			It("should return a non-nil transaction", func() {
				tx, err := store.BeginTx(ctx)
				Expect(err).ToNot(HaveOccurred())
				Expect(tx).ToNot(BeNil())
				Expect(tx.Rollback()).To(Succeed())
			})
		})

		Context("when context is nil", func() {
			It("should return an error", func() {
				//nolint:staticcheck // testing nil context behavior
				tx, err := store.BeginTx(nil)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("context cannot be nil"))
				Expect(tx).To(BeNil())
			})
		})
	})

	Describe("Commit", func() {
		It("should persist changes to the store", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())

			Expect(tx.InsertOrder(ctx, newOrder("order-1"))).To(Succeed())
			Expect(tx.Commit()).To(Succeed())

			order, err := store.GetOrder(ctx, "team-a", "order-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(order.OrderNumber).To(Equal("WO-order-1"))
		})

		It("should fail when the transaction is already finished", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Commit()).To(Succeed())
			Expect(tx.Commit()).To(MatchError("transaction already finished"))
		})
	})

	Describe("Rollback", func() {
		It("should discard all changes", func() {
			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.InsertOrder(ctx, newOrder("order-1"))).To(Succeed())
			Expect(tx.Rollback()).To(Succeed())

			_, err = store.GetOrder(ctx, "team-a", "order-1")
			Expect(err).To(MatchError(standarderrors.ErrNotFound))
		})

		It("should restore entities mutated before the failure", func() {
			setup, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(setup.InsertOrder(ctx, newOrder("order-1"))).To(Succeed())
			Expect(setup.InsertInstances(ctx, []*models.OperationInstance{
				newInstance("inst-1", "order-1", 10, models.StatusPending),
			})).To(Succeed())
			Expect(setup.Commit()).To(Succeed())

			tx, err := store.BeginTx(ctx)
			Expect(err).ToNot(HaveOccurred())
			_, err = tx.UpdateInstanceWhere(ctx, "inst-1",
				[]models.InstanceStatus{models.StatusPending},
				func(i *models.OperationInstance) { i.Status = models.StatusInProgress })
			Expect(err).ToNot(HaveOccurred())
			Expect(tx.Rollback()).To(Succeed())

			inst, err := store.GetInstance(ctx, "team-a", "inst-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(inst.Status).To(Equal(models.StatusPending))
		})
	})

	Describe("UpdateInstanceWhere", func() {
		BeforeEach(func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				if err := tx.InsertOrder(ctx, newOrder("order-1")); err != nil {
					return err
				}

				return tx.InsertInstances(ctx, []*models.OperationInstance{
					newInstance("inst-1", "order-1", 10, models.StatusPending),
				})
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should apply the mutation when the status matches", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				updated, err := tx.UpdateInstanceWhere(ctx, "inst-1",
					[]models.InstanceStatus{models.StatusPending},
					func(i *models.OperationInstance) { i.Status = models.StatusInProgress })
				if err != nil {
					return err
				}
				Expect(updated.Status).To(Equal(models.StatusInProgress))

				return nil
			})
			Expect(err).ToNot(HaveOccurred())

			inst, err := store.GetInstance(ctx, "team-a", "inst-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(inst.Status).To(Equal(models.StatusInProgress))
		})

		It("should return ErrConflict when the status does not match", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				_, err := tx.UpdateInstanceWhere(ctx, "inst-1",
					[]models.InstanceStatus{models.StatusPaused},
					func(i *models.OperationInstance) { i.Status = models.StatusInProgress })

				return err
			})
			Expect(err).To(MatchError(standarderrors.ErrConflict))

			inst, err := store.GetInstance(ctx, "team-a", "inst-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(inst.Status).To(Equal(models.StatusPending))
		})

		It("should return ErrNotFound for an unknown instance", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				_, err := tx.UpdateInstanceWhere(ctx, "missing",
					nil,
					func(i *models.OperationInstance) {})

				return err
			})
			Expect(err).To(MatchError(standarderrors.ErrNotFound))
		})
	})

	Describe("SetStatusForOperation", func() {
		BeforeEach(func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				if err := tx.InsertOrder(ctx, newOrder("order-1")); err != nil {
					return err
				}

				return tx.InsertInstances(ctx, []*models.OperationInstance{
					newInstance("inst-10a", "order-1", 10, models.StatusCompleted),
					newInstance("inst-20a", "order-1", 20, models.StatusWaiting),
					newInstance("inst-20b", "order-1", 20, models.StatusWaiting),
					newInstance("inst-30a", "order-1", 30, models.StatusWaiting),
				})
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should change every matching instance at the operation number", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				changed, err := tx.SetStatusForOperation(ctx, "order-1", 20,
					[]models.InstanceStatus{models.StatusWaiting}, models.StatusPending)
				if err != nil {
					return err
				}
				Expect(changed).To(Equal(2))

				return nil
			})
			Expect(err).ToNot(HaveOccurred())

			instances, err := store.ListInstancesForOrder(ctx, "order-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(instances).To(HaveLen(4))
			Expect(instances[1].Status).To(Equal(models.StatusPending))
			Expect(instances[2].Status).To(Equal(models.StatusPending))
			// Operation 30 stays locked.
			Expect(instances[3].Status).To(Equal(models.StatusWaiting))
		})

		It("should skip instances whose status is not in the from set", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				changed, err := tx.SetStatusForOperation(ctx, "order-1", 10,
					[]models.InstanceStatus{models.StatusWaiting}, models.StatusPending)
				if err != nil {
					return err
				}
				Expect(changed).To(BeZero())

				return nil
			})
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("Pause events", func() {
		openEvent := func(id, instanceID string, start time.Time) *models.PauseEvent {
			return &models.PauseEvent{
				ID:            id,
				InstanceID:    instanceID,
				PauseReasonID: "reason-1",
				StartTime:     start,
			}
		}

		It("should find the open event and close it exactly once", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				return tx.InsertPauseEvent(ctx, openEvent("pause-1", "inst-1", now))
			})
			Expect(err).ToNot(HaveOccurred())

			open, err := store.GetOpenPauseEvent(ctx, "inst-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(open.ID).To(Equal("pause-1"))

			end := now.Add(10 * time.Minute)
			err = persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				closed, err := tx.ClosePauseEvent(ctx, "inst-1", end)
				if err != nil {
					return err
				}
				Expect(closed.EndTime).To(HaveValue(Equal(end)))

				return nil
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = store.GetOpenPauseEvent(ctx, "inst-1")
			Expect(err).To(MatchError(standarderrors.ErrNotFound))

			err = persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				_, err := tx.ClosePauseEvent(ctx, "inst-1", end)

				return err
			})
			Expect(err).To(MatchError(standarderrors.ErrNotFound))
		})

		It("should list events sorted by start time", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				later := openEvent("pause-2", "inst-1", now.Add(time.Hour))
				if err := tx.InsertPauseEvent(ctx, later); err != nil {
					return err
				}
				earlier := openEvent("pause-1", "inst-1", now)
				end := now.Add(time.Minute)
				earlier.EndTime = &end

				return tx.InsertPauseEvent(ctx, earlier)
			})
			Expect(err).ToNot(HaveOccurred())

			events, err := store.ListPauseEvents(ctx, "inst-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].ID).To(Equal("pause-1"))
			Expect(events[1].ID).To(Equal("pause-2"))
		})
	})

	Describe("Copy semantics", func() {
		It("should not leak store state through returned entities", func() {
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				return tx.InsertOrder(ctx, newOrder("order-1"))
			})
			Expect(err).ToNot(HaveOccurred())

			order, err := store.GetOrder(ctx, "team-a", "order-1")
			Expect(err).ToNot(HaveOccurred())
			order.Status = models.OrderStatusCompleted

			again, err := store.GetOrder(ctx, "team-a", "order-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(again.Status).To(Equal(models.OrderStatusPending))
		})
	})
})
