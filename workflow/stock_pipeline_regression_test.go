package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thitsarsoft/commerce_backend/config"
	"github.com/thitsarsoft/commerce_backend/models"
	"github.com/thitsarsoft/commerce_backend/utils"
	"gorm.io/gorm"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func skipUnlessIntegration(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
}

func setupIntegrationDB(t *testing.T) {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "commerce_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()
}

type pipelineFixture struct {
	businessID string
	product    models.Product
	customer   models.Customer
	mainLoc    models.Location
	otherLoc   models.Location
	order      models.Order
	po         models.PurchaseOrder
}

func seedPipelineFixture(t *testing.T, db *gorm.DB) (*pipelineFixture, context.Context) {
	t.Helper()

	f := &pipelineFixture{businessID: uuid.NewString()}

	f.product = models.Product{BusinessId: f.businessID, Name: "Stapler", Sku: "STAPLER-001", SalesPrice: decimal.NewFromInt(25)}
	if err := db.Create(&f.product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	f.customer = models.Customer{BusinessId: f.businessID, Name: "Acme"}
	if err := db.Create(&f.customer).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	f.mainLoc = models.Location{BusinessId: f.businessID, Name: "Main Warehouse"}
	if err := db.Create(&f.mainLoc).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	f.otherLoc = models.Location{BusinessId: f.businessID, Name: "Shop Floor"}
	if err := db.Create(&f.otherLoc).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	f.order = models.Order{BusinessId: f.businessID, CustomerId: f.customer.ID, Status: models.OrderStatusConfirmed}
	if err := db.Create(&f.order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	f.po = models.PurchaseOrder{BusinessId: f.businessID, SupplierId: 1, Status: models.PurchaseOrderStatusConfirmed}
	if err := db.Create(&f.po).Error; err != nil {
		t.Fatalf("create purchase order: %v", err)
	}

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, f.businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return f, ctx
}

func loadStockItem(t *testing.T, db *gorm.DB, f *pipelineFixture, locationID int) models.StockItem {
	t.Helper()
	var item models.StockItem
	if err := db.Where("business_id = ? AND product_id = ? AND location_id = ? AND variant_id = 0",
		f.businessID, f.product.ID, locationID).First(&item).Error; err != nil {
		t.Fatalf("load stock item: %v", err)
	}
	return item
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestStockPipelineEndToEnd(t *testing.T) {
	skipUnlessIntegration(t)
	setupIntegrationDB(t)

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	f, ctx := seedPipelineFixture(t, db)

	commands := NewStockCommands(db, quietLogger(), NewDispatcher(db, quietLogger(), BuildHandlerRegistry()))

	// --- Receipts drive AVCO: 50 @ 10.00 then 50 @ 20.00 -> 15.00 ---
	for _, rc := range []struct{ qty, cost string }{{"50", "10"}, {"50", "20"}} {
		if _, err := commands.ReceivePurchaseLine(ctx, ReceivePurchaseLineCommand{
			ProductId:       f.product.ID,
			LocationId:      f.mainLoc.ID,
			Qty:             dec(rc.qty),
			UnitCost:        dec(rc.cost),
			PurchaseOrderId: f.po.ID,
		}); err != nil {
			t.Fatalf("receive %s @ %s: %v", rc.qty, rc.cost, err)
		}
	}
	item := loadStockItem(t, db, f, f.mainLoc.ID)
	if !item.PhysicalQty.Equal(dec("100")) {
		t.Fatalf("physical = %s, want 100", item.PhysicalQty)
	}
	if !item.AverageCost.Equal(dec("15")) {
		t.Fatalf("average cost = %s, want 15", item.AverageCost)
	}
	if n := countRows(t, db, &models.StockMovement{}, "business_id = ? AND movement_type = ?", f.businessID, models.StockMovementTypeEntry); n != 2 {
		t.Fatalf("entry movements = %d, want 2", n)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "business_id = ? AND event_type = ?", f.businessID, models.EventTypeStockReceived); n != 2 {
		t.Fatalf("StockReceived outbox rows = %d, want 2", n)
	}

	// --- 10 concurrent reservations of 15 against 100 available: exactly 6 win ---
	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(line int) {
			defer wg.Done()
			_, err := commands.ReserveStock(ctx, ReserveStockCommand{
				ProductId:  f.product.ID,
				LocationId: f.mainLoc.ID,
				Qty:        dec("15"),
				OrderId:    f.order.ID,
				LineId:     line + 1,
			})
			results[line] = err
		}(i)
	}
	wg.Wait()

	var won, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, models.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if won != 6 || insufficient != 4 {
		t.Fatalf("reservations: %d won, %d insufficient; want 6 and 4", won, insufficient)
	}
	item = loadStockItem(t, db, f, f.mainLoc.ID)
	if !item.ReservedQty.Equal(dec("90")) {
		t.Fatalf("reserved = %s, want 90", item.ReservedQty)
	}
	if !item.PhysicalQty.Equal(dec("100")) {
		t.Fatalf("physical = %s after reserve, want 100 (reservations never move physical)", item.PhysicalQty)
	}
	if n := countRows(t, db, &models.StockReservation{}, "business_id = ? AND status = ?", f.businessID, models.StockReservationStatusActive); n != 6 {
		t.Fatalf("active reservations = %d, want 6", n)
	}

	var active []models.StockReservation
	if err := db.Where("business_id = ? AND status = ?", f.businessID, models.StockReservationStatusActive).
		Order("id ASC").Find(&active).Error; err != nil {
		t.Fatalf("load reservations: %v", err)
	}

	// --- Double release is a no-op on the second call ---
	toRelease := active[0]
	if err := commands.ReleaseReservation(ctx, ReleaseReservationCommand{ReservationId: toRelease.ID}); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := commands.ReleaseReservation(ctx, ReleaseReservationCommand{ReservationId: toRelease.ID}); err != nil {
		t.Fatalf("second release should be a no-op, got: %v", err)
	}
	item = loadStockItem(t, db, f, f.mainLoc.ID)
	if !item.ReservedQty.Equal(dec("75")) {
		t.Fatalf("reserved after double release = %s, want 75", item.ReservedQty)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "business_id = ? AND event_type = ?", f.businessID, models.EventTypeReservationReleased); n != 1 {
		t.Fatalf("ReservationReleased outbox rows = %d, want 1 (second release raised nothing)", n)
	}

	// --- Commit shipment converts the hold into an EXIT movement ---
	toCommit := active[1]
	movement, err := commands.CommitShipment(ctx, CommitShipmentCommand{ReservationId: toCommit.ID})
	if err != nil {
		t.Fatalf("commit shipment: %v", err)
	}
	if movement.MovementType != models.StockMovementTypeExit {
		t.Fatalf("movement type = %s, want EXIT", movement.MovementType)
	}
	item = loadStockItem(t, db, f, f.mainLoc.ID)
	if !item.PhysicalQty.Equal(dec("85")) || !item.ReservedQty.Equal(dec("60")) {
		t.Fatalf("after commit physical = %s reserved = %s, want 85 and 60", item.PhysicalQty, item.ReservedQty)
	}
	var committed models.StockReservation
	if err := db.First(&committed, toCommit.ID).Error; err != nil {
		t.Fatalf("reload reservation: %v", err)
	}
	if committed.Status != models.StockReservationStatusCommitted {
		t.Fatalf("reservation status = %s, want COMMITTED", committed.Status)
	}

	// Committing the same reservation again must fail and change nothing.
	if _, err := commands.CommitShipment(ctx, CommitShipmentCommand{ReservationId: toCommit.ID}); !errors.Is(err, models.ErrReservationNotActive) {
		t.Fatalf("second commit error = %v, want ErrReservationNotActive", err)
	}

	// --- Transfer moves quantity and carries the average cost over ---
	if _, err := commands.TransferStock(ctx, TransferStockCommand{
		ProductId:      f.product.ID,
		LocationFromId: f.mainLoc.ID,
		LocationToId:   f.otherLoc.ID,
		Qty:            dec("10"),
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	source := loadStockItem(t, db, f, f.mainLoc.ID)
	dest := loadStockItem(t, db, f, f.otherLoc.ID)
	if !source.PhysicalQty.Equal(dec("75")) {
		t.Fatalf("source physical after transfer = %s, want 75", source.PhysicalQty)
	}
	if !dest.PhysicalQty.Equal(dec("10")) || !dest.AverageCost.Equal(dec("15")) {
		t.Fatalf("dest physical = %s cost = %s, want 10 at 15", dest.PhysicalQty, dest.AverageCost)
	}

	// --- A failed command leaves zero rows behind ---
	movBefore := countRows(t, db, &models.StockMovement{}, "business_id = ?", f.businessID)
	resBefore := countRows(t, db, &models.StockReservation{}, "business_id = ?", f.businessID)
	outBefore := countRows(t, db, &models.OutboxEvent{}, "business_id = ?", f.businessID)

	_, err = commands.ReserveStock(ctx, ReserveStockCommand{
		ProductId:  f.product.ID,
		LocationId: f.mainLoc.ID,
		Qty:        dec("10000"),
		OrderId:    f.order.ID,
		LineId:     99,
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("oversized reserve error = %v, want ErrInsufficientStock", err)
	}

	if n := countRows(t, db, &models.StockMovement{}, "business_id = ?", f.businessID); n != movBefore {
		t.Fatalf("movement rows changed on failed command: %d -> %d", movBefore, n)
	}
	if n := countRows(t, db, &models.StockReservation{}, "business_id = ?", f.businessID); n != resBefore {
		t.Fatalf("reservation rows changed on failed command: %d -> %d", resBefore, n)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "business_id = ?", f.businessID); n != outBefore {
		t.Fatalf("outbox rows changed on failed command: %d -> %d", outBefore, n)
	}

	// --- The read-side summary tracked every committed change ---
	summary, err := models.GetProductStockSummary(db, f.businessID, f.product.ID, f.mainLoc.ID)
	if err != nil {
		t.Fatalf("load summary: %v", err)
	}
	if !summary.OnHandQty.Equal(dec("75")) || !summary.ReservedQty.Equal(dec("60")) {
		t.Fatalf("summary on_hand = %s reserved = %s, want 75 and 60", summary.OnHandQty, summary.ReservedQty)
	}
}

// fakePublisher records publishes and fails on demand.
type fakePublisher struct {
	mu       sync.Mutex
	failWith error
	calls    []config.EventEnvelope
}

func (p *fakePublisher) Publish(ctx context.Context, env config.EventEnvelope) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, env)
	if p.failWith != nil {
		return "", p.failWith
	}
	return fmt.Sprintf("msg-%d", len(p.calls)), nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestOutboxRelayPublishRetryAndDeadLetter(t *testing.T) {
	skipUnlessIntegration(t)
	setupIntegrationDB(t)

	db := config.GetDB()
	businessID := uuid.NewString()
	ctx := utils.SetBusinessIdInContext(context.Background(), businessID)

	appendEvent := func(eventType, aggregateID string) {
		t.Helper()
		err := db.Transaction(func(tx *gorm.DB) error {
			return models.AppendOutboxEvent(ctx, tx, models.DomainEvent{
				EventType:     eventType,
				AggregateType: "Order",
				AggregateId:   aggregateID,
				BusinessId:    businessID,
				OccurredAt:    time.Now().UTC(),
				Payload:       map[string]int{"order_id": 1},
			})
		})
		if err != nil {
			t.Fatalf("append outbox event: %v", err)
		}
	}

	// --- Happy path: pending rows get published once and marked SENT.
	// Rows of one aggregate are claimed head-first, one per poll. ---
	appendEvent(models.EventTypeStockReserved, "1")
	appendEvent(models.EventTypeShipmentCommitted, "1")

	pub := &fakePublisher{}
	relay := NewOutboxRelay(db, quietLogger(), pub)
	relay.relayOnce(ctx)
	if pub.callCount() != 1 {
		t.Fatalf("publisher called %d times after first poll, want 1", pub.callCount())
	}
	relay.relayOnce(ctx)

	if pub.callCount() != 2 {
		t.Fatalf("publisher called %d times, want 2", pub.callCount())
	}
	if pub.calls[0].EventType != models.EventTypeStockReserved || pub.calls[1].EventType != models.EventTypeShipmentCommitted {
		t.Fatalf("events published out of order: %s then %s", pub.calls[0].EventType, pub.calls[1].EventType)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "business_id = ? AND publish_status = ?", businessID, models.OutboxPublishStatusSent); n != 2 {
		t.Fatalf("SENT rows = %d, want 2", n)
	}
	var sent models.OutboxEvent
	if err := db.Where("business_id = ?", businessID).Order("id ASC").First(&sent).Error; err != nil {
		t.Fatalf("load sent row: %v", err)
	}
	if sent.ProcessedAt == nil || sent.BrokerMessageId == nil {
		t.Fatalf("sent row missing processed_at/broker_message_id")
	}

	// Further polls must not republish already-sent rows.
	relay.relayOnce(ctx)
	if pub.callCount() != 2 {
		t.Fatalf("publisher called %d times after extra poll, want still 2", pub.callCount())
	}

	// --- Failure path: FAILED with a future next_attempt_at, then DEAD at max ---
	appendEvent(models.EventTypeStockAdjusted, "2")

	failing := &fakePublisher{failWith: errors.New("broker unavailable")}
	relay.Publisher = failing
	relay.relayOnce(ctx)

	var failed models.OutboxEvent
	if err := db.Where("business_id = ? AND event_type = ?", businessID, models.EventTypeStockAdjusted).First(&failed).Error; err != nil {
		t.Fatalf("load failed row: %v", err)
	}
	if failed.PublishStatus != models.OutboxPublishStatusFailed {
		t.Fatalf("status = %s, want FAILED", failed.PublishStatus)
	}
	if failed.AttemptCount != 1 {
		t.Fatalf("attempt_count = %d, want 1", failed.AttemptCount)
	}
	if failed.NextAttemptAt == nil || !failed.NextAttemptAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Fatalf("next_attempt_at not scheduled: %v", failed.NextAttemptAt)
	}

	// Backoff holds the row back from the very next poll.
	before := failing.callCount()
	relay.relayOnce(ctx)
	if failing.callCount() != before {
		t.Fatalf("row republished before next_attempt_at")
	}

	// At MaxAttempts the claim pass flips the row to DEAD without publishing.
	if err := db.Model(&models.OutboxEvent{}).Where("id = ?", failed.ID).
		Updates(map[string]interface{}{"attempt_count": relay.MaxAttempts, "next_attempt_at": nil}).Error; err != nil {
		t.Fatalf("force attempt_count: %v", err)
	}
	before = failing.callCount()
	relay.relayOnce(ctx)
	if failing.callCount() != before {
		t.Fatalf("dead row was still published")
	}
	var dead models.OutboxEvent
	if err := db.First(&dead, failed.ID).Error; err != nil {
		t.Fatalf("reload dead row: %v", err)
	}
	if dead.PublishStatus != models.OutboxPublishStatusDead {
		t.Fatalf("status = %s, want DEAD", dead.PublishStatus)
	}

	// --- Operator requeue revives the dead row for the next poll ---
	n, err := models.RequeueDeadOutboxEvents(ctx, db, businessID, nil)
	if err != nil {
		t.Fatalf("requeue dead: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d rows, want 1", n)
	}
	relay.Publisher = pub
	relay.relayOnce(ctx)
	var revived models.OutboxEvent
	if err := db.First(&revived, failed.ID).Error; err != nil {
		t.Fatalf("reload revived row: %v", err)
	}
	if revived.PublishStatus != models.OutboxPublishStatusSent {
		t.Fatalf("revived row status = %s, want SENT", revived.PublishStatus)
	}
}

func TestOutboxRelayHoldsLaterEventsWhileEarlierOneRetries(t *testing.T) {
	skipUnlessIntegration(t)
	setupIntegrationDB(t)

	db := config.GetDB()
	businessID := uuid.NewString()
	ctx := utils.SetBusinessIdInContext(context.Background(), businessID)

	base := time.Now().UTC().Add(-time.Minute)
	appendAt := func(eventType string, occurredAt time.Time) {
		t.Helper()
		err := db.Transaction(func(tx *gorm.DB) error {
			return models.AppendOutboxEvent(ctx, tx, models.DomainEvent{
				EventType:     eventType,
				AggregateType: "Order",
				AggregateId:   "9",
				BusinessId:    businessID,
				OccurredAt:    occurredAt,
				Payload:       map[string]int{"order_id": 9},
			})
		})
		if err != nil {
			t.Fatalf("append outbox event: %v", err)
		}
	}
	appendAt(models.EventTypeStockReserved, base)
	appendAt(models.EventTypeShipmentCommitted, base.Add(time.Second))

	// The first event fails to publish and starts backing off.
	failing := &fakePublisher{failWith: errors.New("broker unavailable")}
	relay := NewOutboxRelay(db, quietLogger(), failing)
	relay.relayOnce(ctx)
	if failing.callCount() != 1 {
		t.Fatalf("publisher called %d times, want only the first event", failing.callCount())
	}
	if failing.calls[0].EventType != models.EventTypeStockReserved {
		t.Fatalf("first publish was %s, want %s", failing.calls[0].EventType, models.EventTypeStockReserved)
	}

	// While the first event waits for its next attempt, the second must
	// not be published, even though it is PENDING and ready.
	working := &fakePublisher{}
	relay.Publisher = working
	relay.relayOnce(ctx)
	if working.callCount() != 0 {
		t.Fatalf("later event overtook a retrying earlier event (published %d)", working.callCount())
	}
	var later models.OutboxEvent
	if err := db.Where("business_id = ? AND event_type = ?", businessID, models.EventTypeShipmentCommitted).
		First(&later).Error; err != nil {
		t.Fatalf("load later event: %v", err)
	}
	if later.PublishStatus != models.OutboxPublishStatusPending || later.AttemptCount != 0 {
		t.Fatalf("later event status = %s attempts = %d, want untouched PENDING", later.PublishStatus, later.AttemptCount)
	}

	// Once the earlier event becomes ready again both publish in order.
	if err := db.Model(&models.OutboxEvent{}).
		Where("business_id = ? AND event_type = ?", businessID, models.EventTypeStockReserved).
		Update("next_attempt_at", nil).Error; err != nil {
		t.Fatalf("clear next_attempt_at: %v", err)
	}
	relay.relayOnce(ctx)
	relay.relayOnce(ctx)
	if working.callCount() != 2 {
		t.Fatalf("publisher called %d times after recovery, want 2", working.callCount())
	}
	if working.calls[0].EventType != models.EventTypeStockReserved || working.calls[1].EventType != models.EventTypeShipmentCommitted {
		t.Fatalf("events published out of order: %s then %s", working.calls[0].EventType, working.calls[1].EventType)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "business_id = ? AND publish_status = ?", businessID, models.OutboxPublishStatusSent); n != 2 {
		t.Fatalf("SENT rows = %d, want 2", n)
	}
}

func TestIntegrationConsumerDeduplicatesRedelivery(t *testing.T) {
	skipUnlessIntegration(t)
	setupIntegrationDB(t)

	db := config.GetDB()
	businessID := uuid.NewString()

	var applied int
	consumer := NewIntegrationConsumer(db, quietLogger(), func(ctx context.Context, tx *gorm.DB, env config.EventEnvelope) error {
		applied++
		return nil
	})

	env := config.EventEnvelope{
		EventType:   models.EventTypeStockReserved,
		AggregateId: "7",
		BusinessId:  businessID,
		OccurredAt:  time.Now().UTC(),
	}

	if err := consumer.ProcessEnvelope(context.Background(), env); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := consumer.ProcessEnvelope(context.Background(), env); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if applied != 1 {
		t.Fatalf("apply ran %d times, want 1", applied)
	}

	// A failing apply keeps the key FAILED; the next delivery retries.
	failEnv := env
	failEnv.AggregateId = "8"
	attempts := 0
	consumer.Apply = func(ctx context.Context, tx *gorm.DB, env config.EventEnvelope) error {
		attempts++
		if attempts == 1 {
			return errors.New("downstream down")
		}
		return nil
	}
	if err := consumer.ProcessEnvelope(context.Background(), failEnv); err == nil {
		t.Fatal("first delivery should surface the apply error")
	}

	// The rolled-back attempt still leaves a FAILED row for operators.
	var key models.IdempotencyKey
	if err := db.Where("business_id = ? AND message_id = ?", businessID, ConsumerMessageId(failEnv)).
		First(&key).Error; err != nil {
		t.Fatalf("load idempotency key after failure: %v", err)
	}
	if key.Status != models.IdempotencyStatusFailed || key.LastError == nil {
		t.Fatalf("key status = %s last_error = %v, want FAILED with an error recorded", key.Status, key.LastError)
	}

	if err := consumer.ProcessEnvelope(context.Background(), failEnv); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("apply ran %d times for the failed message, want 2", attempts)
	}
	if err := db.Where("business_id = ? AND message_id = ?", businessID, ConsumerMessageId(failEnv)).
		First(&key).Error; err != nil {
		t.Fatalf("reload idempotency key: %v", err)
	}
	if key.Status != models.IdempotencyStatusSucceeded {
		t.Fatalf("key status after retry = %s, want SUCCEEDED", key.Status)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("commerce-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("commerce-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=commerce_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
