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

package workorder

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/shopfloor-core/pkg/models"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/pauseledger"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/shopfloor-core/pkg/standarderrors"
)

const testTeam = "team-a"

var _ = Describe("Lifecycle Service", func() {
	var (
		ctx     context.Context
		store   *memory.InMemoryStore
		mock    *clock.Mock
		service *Service
		routing *models.Routing
	)

	seedRouting := func(operationNumbers ...int) *models.Routing {
		now := mock.Now()
		r := &models.Routing{
			ID:        uuid.NewString(),
			TeamID:    testTeam,
			Name:      "milling line",
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, n := range operationNumbers {
			r.Operations = append(r.Operations, models.RoutingOperation{
				ID:              uuid.NewString(),
				OperationNumber: n,
				Name:            "op",
			})
		}
		err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
			return tx.InsertRouting(ctx, r)
		})
		Expect(err).ToNot(HaveOccurred())

		return r
	}

	seedReason := func() *models.PauseReason {
		reason := &models.PauseReason{
			ID:        uuid.NewString(),
			TeamID:    testTeam,
			Name:      "tool change",
			Active:    true,
			CreatedAt: mock.Now(),
		}
		err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
			return tx.InsertPauseReason(ctx, reason)
		})
		Expect(err).ToNot(HaveOccurred())

		return reason
	}

	// instanceAt returns the order's single instance at the operation
	// number; the test fails if there is not exactly one.
	instanceAt := func(orderID string, operationNumber int) *models.OperationInstance {
		instances, err := store.ListInstancesForOrder(ctx, orderID)
		Expect(err).ToNot(HaveOccurred())

		var match *models.OperationInstance
		for _, inst := range instances {
			if inst.OperationNumber == operationNumber {
				Expect(match).To(BeNil())
				match = inst
			}
		}
		Expect(match).ToNot(BeNil())

		return match
	}

	orderStatus := func(orderID string) models.OrderStatus {
		order, err := store.GetOrder(ctx, testTeam, orderID)
		Expect(err).ToNot(HaveOccurred())

		return order.Status
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewInMemoryStore()
		mock = clock.NewMock()
		mock.Set(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
		service = NewService(store, pauseledger.NewLedger(mock), mock)
		routing = seedRouting(10, 20, 30)
	})

	Describe("CreateOrder", func() {
		It("seeds one instance per routing operation, first pending, rest waiting", func() {
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-1001",
				RoutingID:   routing.ID,
				Quantity:    5,
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(order.Status).To(Equal(models.OrderStatusPending))

			instances, err := store.ListInstancesForOrder(ctx, order.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(instances).To(HaveLen(3))
			Expect(instances[0].Status).To(Equal(models.StatusPending))
			Expect(instances[1].Status).To(Equal(models.StatusWaiting))
			Expect(instances[2].Status).To(Equal(models.StatusWaiting))
		})

		It("fails for an unknown routing", func() {
			_, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-1002",
				RoutingID:   uuid.NewString(),
			})
			Expect(err).To(MatchError(standarderrors.ErrNotFound))
		})
	})

	Describe("StartInstance", func() {
		var orderID string

		BeforeEach(func() {
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-2001",
				RoutingID:   routing.ID,
				Quantity:    1,
			})
			Expect(err).ToNot(HaveOccurred())
			orderID = order.ID
		})

		It("moves a pending instance to in_progress and stamps times", func() {
			pending := instanceAt(orderID, 10)

			started, err := service.StartInstance(ctx, testTeam, pending.ID, "operator-7")
			Expect(err).ToNot(HaveOccurred())
			Expect(started.Status).To(Equal(models.StatusInProgress))
			Expect(started.ActualStartTime).To(HaveValue(Equal(mock.Now())))
			Expect(started.OperatorID).To(Equal("operator-7"))

			Expect(orderStatus(orderID)).To(Equal(models.OrderStatusInProgress))

			order, err := store.GetOrder(ctx, testTeam, orderID)
			Expect(err).ToNot(HaveOccurred())
			Expect(order.ActualStart).To(HaveValue(Equal(mock.Now())))
		})

		It("rejects starting a waiting instance", func() {
			waiting := instanceAt(orderID, 20)

			_, err := service.StartInstance(ctx, testTeam, waiting.ID, "operator-7")
			Expect(err).To(MatchError(standarderrors.ErrInvalidState))

			Expect(instanceAt(orderID, 20).Status).To(Equal(models.StatusWaiting))
		})

		It("rejects starting twice", func() {
			pending := instanceAt(orderID, 10)
			_, err := service.StartInstance(ctx, testTeam, pending.ID, "operator-7")
			Expect(err).ToNot(HaveOccurred())

			_, err = service.StartInstance(ctx, testTeam, pending.ID, "operator-8")
			Expect(err).To(MatchError(standarderrors.ErrInvalidState))
		})

		It("lets exactly one of two racing starts win", func() {
			pending := instanceAt(orderID, 10)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					_, errs[i] = service.StartInstance(ctx, testTeam, pending.ID, "operator")
				}(i)
			}
			wg.Wait()

			winners := 0
			for _, err := range errs {
				if err == nil {
					winners++
					continue
				}
				// The loser either hit the per-order lock or lost the
				// conditional write.
				Expect(err).To(Or(
					MatchError(standarderrors.ErrInvalidState),
					MatchError(standarderrors.ErrBusy),
				))
			}
			Expect(winners).To(Equal(1))
			Expect(instanceAt(orderID, 10).Status).To(Equal(models.StatusInProgress))
		})
	})

	Describe("Pause and Resume", func() {
		var (
			orderID    string
			instanceID string
			reasonID   string
		)

		BeforeEach(func() {
			reasonID = seedReason().ID
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-3001",
				RoutingID:   routing.ID,
				Quantity:    1,
			})
			Expect(err).ToNot(HaveOccurred())
			orderID = order.ID

			instanceID = instanceAt(orderID, 10).ID
			_, err = service.StartInstance(ctx, testTeam, instanceID, "operator-7")
			Expect(err).ToNot(HaveOccurred())
		})

		It("opens exactly one pause event and sets the statuses", func() {
			paused, err := service.PauseInstance(ctx, testTeam, instanceID, reasonID, "waiting for tool")
			Expect(err).ToNot(HaveOccurred())
			Expect(paused.Status).To(Equal(models.StatusPaused))

			open, err := store.GetOpenPauseEvent(ctx, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(open.PauseReasonID).To(Equal(reasonID))
			Expect(open.StartTime).To(Equal(mock.Now()))

			Expect(orderStatus(orderID)).To(Equal(models.OrderStatusPaused))
		})

		It("rejects pausing a paused instance", func() {
			_, err := service.PauseInstance(ctx, testTeam, instanceID, reasonID, "")
			Expect(err).ToNot(HaveOccurred())

			_, err = service.PauseInstance(ctx, testTeam, instanceID, reasonID, "")
			Expect(err).To(MatchError(standarderrors.ErrInvalidState))

			events, err := store.ListPauseEvents(ctx, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(events).To(HaveLen(1))
		})

		It("closes the open event on resume", func() {
			_, err := service.PauseInstance(ctx, testTeam, instanceID, reasonID, "")
			Expect(err).ToNot(HaveOccurred())

			mock.Add(10 * time.Minute)

			resumed, err := service.ResumeInstance(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(resumed.Status).To(Equal(models.StatusInProgress))

			_, err = store.GetOpenPauseEvent(ctx, instanceID)
			Expect(err).To(MatchError(standarderrors.ErrNotFound))

			events, err := store.ListPauseEvents(ctx, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].Duration(mock.Now())).To(Equal(10 * time.Minute))

			Expect(orderStatus(orderID)).To(Equal(models.OrderStatusInProgress))
		})

		It("rejects resuming an instance that is not paused", func() {
			_, err := service.ResumeInstance(ctx, testTeam, instanceID)
			Expect(err).To(MatchError(standarderrors.ErrInvalidState))
		})
	})

	Describe("CompleteInstance and the sequential gate", func() {
		var orderID string

		startAndComplete := func(operationNumber int) {
			inst := instanceAt(orderID, operationNumber)
			_, err := service.StartInstance(ctx, testTeam, inst.ID, "operator-7")
			Expect(err).ToNot(HaveOccurred())
			_, err = service.CompleteInstance(ctx, testTeam, inst.ID, CompleteParams{QuantityCompleted: 1})
			Expect(err).ToNot(HaveOccurred())
		}

		BeforeEach(func() {
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-4001",
				RoutingID:   routing.ID,
				Quantity:    1,
			})
			Expect(err).ToNot(HaveOccurred())
			orderID = order.ID
		})

		It("promotes the next operation number when the current one is done", func() {
			startAndComplete(10)

			Expect(instanceAt(orderID, 10).Status).To(Equal(models.StatusCompleted))
			Expect(instanceAt(orderID, 20).Status).To(Equal(models.StatusPending))
			Expect(instanceAt(orderID, 30).Status).To(Equal(models.StatusWaiting))
		})

		It("records completion data on the instance", func() {
			inst := instanceAt(orderID, 10)
			_, err := service.StartInstance(ctx, testTeam, inst.ID, "operator-7")
			Expect(err).ToNot(HaveOccurred())

			mock.Add(30 * time.Minute)

			completed, err := service.CompleteInstance(ctx, testTeam, inst.ID, CompleteParams{
				QuantityCompleted: 4,
				QuantityRejected:  1,
				CapturedData:      map[string]any{"torque": 12.5},
				Notes:             "one part scrapped",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(completed.ActualEndTime).To(HaveValue(Equal(mock.Now())))
			Expect(completed.QuantityCompleted).To(Equal(4))
			Expect(completed.QuantityRejected).To(Equal(1))
			Expect(completed.CapturedData).To(HaveKeyWithValue("torque", 12.5))
		})

		It("completes the order after the final operation", func() {
			startAndComplete(10)
			startAndComplete(20)
			startAndComplete(30)

			order, err := store.GetOrder(ctx, testTeam, orderID)
			Expect(err).ToNot(HaveOccurred())
			Expect(order.Status).To(Equal(models.OrderStatusCompleted))
			Expect(order.ActualEnd).To(HaveValue(Equal(mock.Now())))
		})

		It("rejects completing an instance that never started", func() {
			inst := instanceAt(orderID, 10)
			_, err := service.CompleteInstance(ctx, testTeam, inst.ID, CompleteParams{})
			Expect(err).To(MatchError(standarderrors.ErrInvalidState))
		})
	})

	Describe("Parallel stations", func() {
		var (
			orderID string
			aID     string
			bID     string
			nextID  string
		)

		// Two stations work the same operation number; the next operation
		// stays gated until both are done.
		BeforeEach(func() {
			now := mock.Now()
			orderID = uuid.NewString()
			aID, bID, nextID = uuid.NewString(), uuid.NewString(), uuid.NewString()

			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				if err := tx.InsertOrder(ctx, &models.Order{
					ID:          orderID,
					TeamID:      testTeam,
					OrderNumber: "WO-5001",
					RoutingID:   routing.ID,
					Status:      models.OrderStatusPending,
					CreatedAt:   now,
					UpdatedAt:   now,
				}); err != nil {
					return err
				}

				newInst := func(id string, opNumber int, status models.InstanceStatus) *models.OperationInstance {
					return &models.OperationInstance{
						ID:              id,
						OrderID:         orderID,
						TeamID:          testTeam,
						OperationNumber: opNumber,
						Status:          status,
						CreatedAt:       now,
						UpdatedAt:       now,
					}
				}

				return tx.InsertInstances(ctx, []*models.OperationInstance{
					newInst(aID, 10, models.StatusPending),
					newInst(bID, 10, models.StatusPending),
					newInst(nextID, 20, models.StatusWaiting),
				})
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("keeps the gate shut until every sibling is done", func() {
			_, err := service.StartInstance(ctx, testTeam, aID, "operator-1")
			Expect(err).ToNot(HaveOccurred())
			_, err = service.StartInstance(ctx, testTeam, bID, "operator-2")
			Expect(err).ToNot(HaveOccurred())

			_, err = service.CompleteInstance(ctx, testTeam, aID, CompleteParams{})
			Expect(err).ToNot(HaveOccurred())

			next, err := store.GetInstance(ctx, testTeam, nextID)
			Expect(err).ToNot(HaveOccurred())
			Expect(next.Status).To(Equal(models.StatusWaiting))

			_, err = service.CompleteInstance(ctx, testTeam, bID, CompleteParams{})
			Expect(err).ToNot(HaveOccurred())

			next, err = store.GetInstance(ctx, testTeam, nextID)
			Expect(err).ToNot(HaveOccurred())
			Expect(next.Status).To(Equal(models.StatusPending))
		})

		It("treats a cancelled sibling as done", func() {
			_, err := service.CancelInstance(ctx, testTeam, aID)
			Expect(err).ToNot(HaveOccurred())

			_, err = service.StartInstance(ctx, testTeam, bID, "operator-2")
			Expect(err).ToNot(HaveOccurred())
			_, err = service.CompleteInstance(ctx, testTeam, bID, CompleteParams{})
			Expect(err).ToNot(HaveOccurred())

			next, err := store.GetInstance(ctx, testTeam, nextID)
			Expect(err).ToNot(HaveOccurred())
			Expect(next.Status).To(Equal(models.StatusPending))
		})
	})

	Describe("CancelInstance", func() {
		var (
			orderID    string
			instanceID string
			reasonID   string
		)

		BeforeEach(func() {
			reasonID = seedReason().ID
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-6001",
				RoutingID:   routing.ID,
				Quantity:    1,
			})
			Expect(err).ToNot(HaveOccurred())
			orderID = order.ID
			instanceID = instanceAt(orderID, 10).ID
		})

		It("cancels a waiting instance without gate promotion", func() {
			waiting := instanceAt(orderID, 20)

			cancelled, err := service.CancelInstance(ctx, testTeam, waiting.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(cancelled.Status).To(Equal(models.StatusCancelled))

			// Operation 30 must not be unlocked by the cancel.
			Expect(instanceAt(orderID, 30).Status).To(Equal(models.StatusWaiting))
		})

		It("closes the open pause when cancelling a paused instance", func() {
			_, err := service.StartInstance(ctx, testTeam, instanceID, "operator-7")
			Expect(err).ToNot(HaveOccurred())
			_, err = service.PauseInstance(ctx, testTeam, instanceID, reasonID, "")
			Expect(err).ToNot(HaveOccurred())

			_, err = service.CancelInstance(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())

			_, err = store.GetOpenPauseEvent(ctx, instanceID)
			Expect(err).To(MatchError(standarderrors.ErrNotFound))
		})

		It("rejects cancelling a completed instance", func() {
			_, err := service.StartInstance(ctx, testTeam, instanceID, "operator-7")
			Expect(err).ToNot(HaveOccurred())
			_, err = service.CompleteInstance(ctx, testTeam, instanceID, CompleteParams{})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.CancelInstance(ctx, testTeam, instanceID)
			Expect(err).To(MatchError(standarderrors.ErrInvalidState))
		})
	})

	Describe("ActiveSeconds", func() {
		var (
			orderID    string
			instanceID string
			reasonID   string
		)

		BeforeEach(func() {
			reasonID = seedReason().ID
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-7001",
				RoutingID:   routing.ID,
				Quantity:    1,
			})
			Expect(err).ToNot(HaveOccurred())
			orderID = order.ID
			instanceID = instanceAt(orderID, 10).ID
		})

		It("is zero before the instance started", func() {
			seconds, err := service.ActiveSeconds(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(seconds).To(BeZero())
		})

		It("subtracts closed and running pauses", func() {
			_, err := service.StartInstance(ctx, testTeam, instanceID, "operator-7")
			Expect(err).ToNot(HaveOccurred())

			mock.Add(10 * time.Minute)
			_, err = service.PauseInstance(ctx, testTeam, instanceID, reasonID, "")
			Expect(err).ToNot(HaveOccurred())

			// While paused the count is frozen.
			mock.Add(5 * time.Minute)
			seconds, err := service.ActiveSeconds(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(seconds).To(Equal(int64(600)))

			_, err = service.ResumeInstance(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())

			mock.Add(5 * time.Minute)
			seconds, err = service.ActiveSeconds(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(seconds).To(Equal(int64(900)))
		})

		It("freezes after completion", func() {
			_, err := service.StartInstance(ctx, testTeam, instanceID, "operator-7")
			Expect(err).ToNot(HaveOccurred())

			mock.Add(20 * time.Minute)
			_, err = service.CompleteInstance(ctx, testTeam, instanceID, CompleteParams{})
			Expect(err).ToNot(HaveOccurred())

			mock.Add(time.Hour)
			seconds, err := service.ActiveSeconds(ctx, testTeam, instanceID)
			Expect(err).ToNot(HaveOccurred())
			Expect(seconds).To(Equal(int64(1200)))
		})
	})

	Describe("ReconcileTeam", func() {
		var orderID string

		BeforeEach(func() {
			order, err := service.CreateOrder(ctx, testTeam, CreateOrderParams{
				OrderNumber: "WO-8001",
				RoutingID:   routing.ID,
				Quantity:    1,
			})
			Expect(err).ToNot(HaveOccurred())
			orderID = order.ID
		})

		It("re-gates operations that were unlocked too early", func() {
			// Corrupt: operation 30 unlocked while 10 is still open.
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				_, err := tx.SetStatusForOperation(ctx, orderID, 30,
					[]models.InstanceStatus{models.StatusWaiting}, models.StatusPending)

				return err
			})
			Expect(err).ToNot(HaveOccurred())

			result, err := service.ReconcileTeam(ctx, testTeam)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.OrdersScanned).To(Equal(1))
			Expect(result.InstancesChanged).To(Equal(1))

			Expect(instanceAt(orderID, 10).Status).To(Equal(models.StatusPending))
			Expect(instanceAt(orderID, 30).Status).To(Equal(models.StatusWaiting))
		})

		It("unlocks a fully gated order at its current operation", func() {
			// Corrupt: nothing startable.
			err := persistence.WithTx(ctx, store, func(tx persistence.Tx) error {
				_, err := tx.SetStatusForOperation(ctx, orderID, 10,
					[]models.InstanceStatus{models.StatusPending}, models.StatusWaiting)

				return err
			})
			Expect(err).ToNot(HaveOccurred())

			result, err := service.ReconcileTeam(ctx, testTeam)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.InstancesChanged).To(Equal(1))

			Expect(instanceAt(orderID, 10).Status).To(Equal(models.StatusPending))
		})

		It("is idempotent on a healthy order", func() {
			result, err := service.ReconcileTeam(ctx, testTeam)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.InstancesChanged).To(BeZero())
			Expect(result.OrdersUpdated).To(BeZero())

			again, err := service.ReconcileTeam(ctx, testTeam)
			Expect(err).ToNot(HaveOccurred())
			Expect(again.InstancesChanged).To(BeZero())
		})

		It("leaves in-progress and paused instances untouched", func() {
			instanceID := instanceAt(orderID, 10).ID
			_, err := service.StartInstance(ctx, testTeam, instanceID, "operator-7")
			Expect(err).ToNot(HaveOccurred())

			result, err := service.ReconcileTeam(ctx, testTeam)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.InstancesChanged).To(BeZero())

			Expect(instanceAt(orderID, 10).Status).To(Equal(models.StatusInProgress))
		})
	})
})
