package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
)

var (
	ErrOrderNotFound         = apperr.New(apperr.ErrNotFound, "order not found")
	ErrOrderChanged          = apperr.New(apperr.ErrConflict, "order status changed concurrently")
	ErrDuplicateOrderNumber  = apperr.New(apperr.ErrConflict, "order number already exists")
	ErrInvalidSortField      = apperr.New(apperr.ErrValidation, "invalid sort field")
	ErrInvalidRevenuePeriod  = apperr.New(apperr.ErrValidation, "invalid revenue grouping")
	ErrInvalidStatisticsSpan = apperr.New(apperr.ErrValidation, "statistics range start is after its end")
)

// sortColumns whitelists the columns a listing may be ordered by.
var sortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"total_amount": "total_amount",
	"order_number": "order_number",
	"status":       "status",
}

// Repository persists orders. Every read excludes soft-deleted orders and every
// multi-statement write runs in one transaction, joining the caller's when the
// context carries one.
type Repository interface {
	Create(ctx context.Context, o *Order, changedBy string) error
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	FindPaginated(ctx context.Context, filter Filter, page PageRequest) ([]Order, int64, error)
	// Update applies patch while the order is still in status expected.
	Update(ctx context.Context, id uuid.UUID, expected Status, patch Patch) error
	UpdateWithHistory(ctx context.Context, id uuid.UUID, patch Patch, from, to Status, changedBy string, notes *string) error
	BulkUpdateStatus(ctx context.Context, changes []StatusChange, changedBy string, notes *string) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
	GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error)
	GetStatistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error)
	GetRevenueByPeriod(ctx context.Context, start, end time.Time, groupBy GroupBy) ([]RevenuePoint, error)
	GetTopCustomersByRevenue(ctx context.Context, limit int) ([]CustomerRevenue, error)
	GetPendingOrdersOlderThan(ctx context.Context, hours int) ([]Order, error)
	GetOrdersWithoutPayment(ctx context.Context) ([]Order, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `id, order_number, customer_id, status, payment_status, subtotal, discount_amount, tax_amount,
	shipping_amount, total_amount, shipping_address, billing_address, coupon_id, coupon_code, shipping_method,
	shipping_rate_id, tracking_number, tracking_url, carrier, estimated_delivery_date, notes, internal_notes,
	cancelled_at, cancellation_reason, deleted_at, created_at, updated_at`

const itemColumns = `id, order_id, product_id, product_name, sku, variant_id, variant_name, tax_category,
	quantity, unit_price, discount, tax_amount, subtotal, total, created_at`

func (r *postgresRepository) Create(ctx context.Context, o *Order, changedBy string) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			log.Error().Err(err).Msg("repository: failed to generate order ID")
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	shippingAddress, err := MarshalAddress(o.ShippingAddress)
	if err != nil {
		return err
	}
	billingAddress, err := MarshalAddress(o.BillingAddress)
	if err != nil {
		return err
	}

	return db.RunInTx(ctx, r.db, func(ctx context.Context) error {
		q := db.Conn(ctx, r.db)

		queryOrder := `INSERT INTO orders (` + orderColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
				$21, $22, $23, $24, $25, $26, $27)`
		_, err := q.Exec(ctx, queryOrder,
			o.ID, o.OrderNumber, o.CustomerID, string(o.Status), string(o.PaymentStatus),
			o.Subtotal, o.DiscountAmount, o.TaxAmount, o.ShippingAmount, o.TotalAmount,
			shippingAddress, billingAddress, o.CouponID, o.CouponCode, o.ShippingMethod,
			o.ShippingRateID, o.TrackingNumber, o.TrackingURL, o.Carrier, o.EstimatedDeliveryDate,
			o.Notes, o.InternalNotes, o.CancelledAt, o.CancellationReason, o.DeletedAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if db.IsUniqueViolation(err, "orders_order_number_key") {
				return ErrDuplicateOrderNumber
			}
			if db.IsCheckViolation(err, "orders_total_consistent") {
				return fmt.Errorf("%w: stored total does not match its components", ErrInvalidOrder)
			}
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `INSERT INTO order_items (position, ` + itemColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
		for i := range o.Items {
			item := &o.Items[i]
			itemID, genErr := uuid.NewV4()
			if genErr != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
			}
			item.ID = itemID
			item.OrderID = o.ID

			_, err = q.Exec(ctx, queryItem,
				i, item.ID, item.OrderID, item.ProductID, item.ProductName, item.SKU, item.VariantID, item.VariantName,
				item.TaxCategory, item.Quantity, item.UnitPrice, item.Discount, item.TaxAmount, item.Subtotal,
				item.Total, item.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
			}
		}

		notes := "Order created"
		return insertHistory(ctx, q, o.ID, nil, o.Status, changedBy, &notes, o.CreatedAt)
	})
}

func (r *postgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *postgresRepository) FindByNumber(ctx context.Context, number string) (*Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1 AND deleted_at IS NULL`, number)
}

func (r *postgresRepository) findOne(ctx context.Context, query string, arg any) (*Order, error) {
	orders, err := r.findOrders(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return &orders[0], nil
}

// findOrders runs an order query and attaches every order's items with one
// extra round trip.
func (r *postgresRepository) findOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	q := db.Conn(ctx, r.db)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID.String()
	}
	items, err := loadItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []OrderItem{}
		}
	}
	return orders, nil
}

func loadItems(ctx context.Context, q db.Querier, orderIDs []string) (map[uuid.UUID][]OrderItem, error) {
	query := `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`

	rows, err := q.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var it OrderItem
		err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.SKU, &it.VariantID, &it.VariantName,
			&it.TaxCategory, &it.Quantity, &it.UnitPrice, &it.Discount, &it.TaxAmount, &it.Subtotal, &it.Total, &it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		items[it.OrderID] = append(items[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}
	return items, nil
}

func (r *postgresRepository) FindPaginated(ctx context.Context, filter Filter, page PageRequest) ([]Order, int64, error) {
	column, ok := sortColumns[page.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidSortField, page.SortBy)
	}
	direction := "DESC"
	if strings.EqualFold(page.SortOrder, "asc") {
		direction = "ASC"
	}

	conds := []string{"deleted_at IS NULL"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CustomerID != nil {
		add("customer_id = $%d", *filter.CustomerID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.PaymentStatus != nil {
		add("payment_status = $%d", string(*filter.PaymentStatus))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		add("order_number ILIKE '%%' || $%d || '%%'", s)
	}
	where := strings.Join(conds, " AND ")

	var total int64
	if err := db.Conn(ctx, r.db).QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}
	if total == 0 {
		return []Order{}, 0, nil
	}

	args = append(args, page.Limit, (page.Page-1)*page.Limit)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, column, direction, len(args)-1, len(args))

	orders, err := r.findOrders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, expected Status, patch Patch) error {
	return applyUpdate(ctx, db.Conn(ctx, r.db), id, expected, expected, patch, time.Now().UTC())
}

func (r *postgresRepository) UpdateWithHistory(ctx context.Context, id uuid.UUID, patch Patch, from, to Status, changedBy string, notes *string) error {
	return db.RunInTx(ctx, r.db, func(ctx context.Context) error {
		q := db.Conn(ctx, r.db)
		now := time.Now().UTC()
		if err := applyUpdate(ctx, q, id, from, to, patch, now); err != nil {
			return err
		}
		return insertHistory(ctx, q, id, &from, to, changedBy, notes, now)
	})
}

func (r *postgresRepository) BulkUpdateStatus(ctx context.Context, changes []StatusChange, changedBy string, notes *string) error {
	return db.RunInTx(ctx, r.db, func(ctx context.Context) error {
		q := db.Conn(ctx, r.db)
		now := time.Now().UTC()
		for _, c := range changes {
			if err := applyUpdate(ctx, q, c.OrderID, c.From, c.To, c.Patch, now); err != nil {
				return fmt.Errorf("repository: bulk update of order %s: %w", c.OrderID, err)
			}
			from := c.From
			if err := insertHistory(ctx, q, c.OrderID, &from, c.To, changedBy, notes, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyUpdate writes the status and patch only while the row is still in
// status from, so of two racing transitions at most one succeeds.
func applyUpdate(ctx context.Context, q db.Querier, id uuid.UUID, from, to Status, patch Patch, now time.Time) error {
	query := `
		UPDATE orders
		SET status = $3,
			updated_at = $4,
			tracking_number = COALESCE($5, tracking_number),
			tracking_url = COALESCE($6, tracking_url),
			carrier = COALESCE($7, carrier),
			estimated_delivery_date = COALESCE($8, estimated_delivery_date),
			notes = COALESCE($9, notes),
			internal_notes = COALESCE($10, internal_notes),
			cancelled_at = COALESCE($11, cancelled_at),
			cancellation_reason = COALESCE($12, cancellation_reason)
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
	`
	tag, err := q.Exec(ctx, query, id, string(from), string(to), now,
		patch.TrackingNumber, patch.TrackingURL, patch.Carrier, patch.EstimatedDeliveryDate,
		patch.Notes, patch.InternalNotes, patch.CancelledAt, patch.CancellationReason,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1 AND deleted_at IS NULL)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check order %s: %w", id, err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	log.Warn().Ctx(ctx).Stringer("order_id", id).Stringer("expected_status", from).Msg("repository: order status changed concurrently")
	return ErrOrderChanged
}

func insertHistory(ctx context.Context, q db.Querier, orderID uuid.UUID, from *Status, to Status, changedBy string, notes *string, at time.Time) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate history ID: %w", err)
	}
	var fromStatus *string
	if from != nil {
		s := string(*from)
		fromStatus = &s
	}

	query := `
		INSERT INTO order_status_history (id, order_id, from_status, to_status, changed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := q.Exec(ctx, query, id, orderID, fromStatus, string(to), changedBy, notes, at); err != nil {
		return fmt.Errorf("repository: failed to append status history for order %s: %w", orderID, err)
	}
	return nil
}

func (r *postgresRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE orders SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return fmt.Errorf("repository: failed to soft delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) Restore(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE orders SET deleted_at = NULL, updated_at = $2 WHERE id = $1 AND deleted_at IS NOT NULL`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to restore order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]StatusHistory, error) {
	query := `
		SELECT id, order_id, from_status, to_status, changed_by, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query status history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := make([]StatusHistory, 0)
	for rows.Next() {
		var (
			h          StatusHistory
			fromStatus *string
			toStatus   string
		)
		if err := rows.Scan(&h.ID, &h.OrderID, &fromStatus, &toStatus, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan status history: %w", err)
		}
		if fromStatus != nil {
			from := Status(*fromStatus)
			h.FromStatus = &from
		}
		h.ToStatus = Status(toStatus)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating status history: %w", err)
	}
	return history, nil
}

func (r *postgresRepository) GetStatistics(ctx context.Context, filter StatisticsFilter) (*Statistics, error) {
	conds := []string{"deleted_at IS NULL"}
	args := []any{}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)::bigint FROM orders WHERE ` +
		strings.Join(conds, " AND ") + ` GROUP BY status`
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order statistics: %w", err)
	}
	defer rows.Close()

	stats := &Statistics{CountByStatus: make(map[Status]int64)}
	var revenueOrders int64
	for rows.Next() {
		var (
			status string
			count  int64
			sum    int64
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order statistics: %w", err)
		}
		stats.CountByStatus[Status(status)] = count
		stats.TotalOrders += count
		if countsTowardsRevenue(Status(status)) {
			stats.TotalRevenue += sum
			revenueOrders += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order statistics: %w", err)
	}
	stats.AverageOrderValue = averageAmount(stats.TotalRevenue, revenueOrders)
	return stats, nil
}

func (r *postgresRepository) GetRevenueByPeriod(ctx context.Context, start, end time.Time, groupBy GroupBy) ([]RevenuePoint, error) {
	query := `
		SELECT date_trunc($3, created_at AT TIME ZONE 'UTC') AS period, SUM(total_amount)::bigint, COUNT(*)
		FROM orders
		WHERE deleted_at IS NULL
		  AND status NOT IN ('CANCELLED', 'REFUNDED')
		  AND created_at >= $1 AND created_at < $2
		GROUP BY period
		ORDER BY period
	`
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, start, end, string(groupBy))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query revenue by %s: %w", groupBy, err)
	}
	defer rows.Close()

	points := make([]RevenuePoint, 0)
	for rows.Next() {
		var p RevenuePoint
		if err := rows.Scan(&p.Period, &p.Revenue, &p.OrderCount); err != nil {
			return nil, fmt.Errorf("repository: failed to scan revenue point: %w", err)
		}
		p.Period = p.Period.UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating revenue points: %w", err)
	}
	return points, nil
}

func (r *postgresRepository) GetTopCustomersByRevenue(ctx context.Context, limit int) ([]CustomerRevenue, error) {
	query := `
		SELECT customer_id, COUNT(*), SUM(total_amount)::bigint AS revenue
		FROM orders
		WHERE deleted_at IS NULL AND status NOT IN ('CANCELLED', 'REFUNDED')
		GROUP BY customer_id
		ORDER BY revenue DESC, customer_id
		LIMIT $1
	`
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query top customers: %w", err)
	}
	defer rows.Close()

	customers := make([]CustomerRevenue, 0, limit)
	for rows.Next() {
		var c CustomerRevenue
		if err := rows.Scan(&c.CustomerID, &c.OrderCount, &c.Revenue); err != nil {
			return nil, fmt.Errorf("repository: failed to scan customer revenue: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating customer revenue: %w", err)
	}
	return customers, nil
}

func (r *postgresRepository) GetPendingOrdersOlderThan(ctx context.Context, hours int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE deleted_at IS NULL AND status = 'PENDING' AND created_at < NOW() - ($1::int * INTERVAL '1 hour')
		ORDER BY created_at`
	return r.findOrders(ctx, query, hours)
}

func (r *postgresRepository) GetOrdersWithoutPayment(ctx context.Context) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE deleted_at IS NULL
		  AND payment_status IN ('PENDING', 'FAILED')
		  AND status NOT IN ('CANCELLED', 'REFUNDED')
		ORDER BY created_at`
	return r.findOrders(ctx, query)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o               Order
		status          string
		paymentStatus   string
		shippingAddress string
		billingAddress  string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &status, &paymentStatus,
		&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.ShippingAmount, &o.TotalAmount,
		&shippingAddress, &billingAddress, &o.CouponID, &o.CouponCode, &o.ShippingMethod,
		&o.ShippingRateID, &o.TrackingNumber, &o.TrackingURL, &o.Carrier, &o.EstimatedDeliveryDate,
		&o.Notes, &o.InternalNotes, &o.CancelledAt, &o.CancellationReason, &o.DeletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	o.Status = Status(status)
	o.PaymentStatus = PaymentStatus(paymentStatus)

	if o.ShippingAddress, err = UnmarshalAddress(shippingAddress); err != nil {
		return nil, err
	}
	if o.BillingAddress, err = UnmarshalAddress(billingAddress); err != nil {
		return nil, err
	}
	return &o, nil
}
