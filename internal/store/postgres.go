package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/foodmart/internal/model"
)

const pgUniqueViolation = "23505"

type postgresStore struct {
	database *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	store := &postgresStore{database: db}
	if err = store.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return store, nil
}

func (store *postgresStore) migrate(ctx context.Context) error {
	statements := []string{
		// Магазины. commission_rate NULL - берется ставка по умолчанию
		"CREATE TABLE IF NOT EXISTS shops (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" owner_id VARCHAR (64) NOT NULL," +
			" name TEXT NOT NULL," +
			" commission_rate NUMERIC (5, 2)," +
			" is_open BOOLEAN NOT NULL DEFAULT FALSE," +
			" is_verified BOOLEAN NOT NULL DEFAULT FALSE," +
			" created_at TIMESTAMPTZ NOT NULL" +
			" );",
		// Курьеры
		"CREATE TABLE IF NOT EXISTS couriers (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" user_id VARCHAR (64) NOT NULL UNIQUE," +
			" is_available BOOLEAN NOT NULL DEFAULT FALSE," +
			" lat DOUBLE PRECISION," +
			" lng DOUBLE PRECISION," +
			" created_at TIMESTAMPTZ NOT NULL" +
			" );",
		// Заказы. Строки не удаляются, статус меняется только условным UPDATE
		"CREATE TABLE IF NOT EXISTS orders (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" customer_id VARCHAR (64) NOT NULL," +
			" shop_id VARCHAR (36) NOT NULL REFERENCES shops (id)," +
			" courier_id VARCHAR (36) REFERENCES couriers (id)," +
			" status VARCHAR (20) NOT NULL," +
			" total_amount NUMERIC (12, 2) NOT NULL," +
			" delivery_fee NUMERIC (12, 2)," +
			" pickup_otp VARCHAR (12)," +
			" delivery_otp VARCHAR (12)," +
			" payment_method VARCHAR (10) NOT NULL," +
			" delivery_address TEXT NOT NULL," +
			" notes TEXT NOT NULL DEFAULT ''," +
			" is_scheduled BOOLEAN NOT NULL DEFAULT FALSE," +
			" scheduled_at TIMESTAMPTZ," +
			" created_at TIMESTAMPTZ NOT NULL," +
			" updated_at TIMESTAMPTZ NOT NULL," +
			" delivered_at TIMESTAMPTZ" +
			" );",
		// Не больше одного активного заказа на курьера
		"CREATE UNIQUE INDEX IF NOT EXISTS orders_courier_active" +
			" ON orders (courier_id)" +
			" WHERE status IN ('picked_up', 'on_the_way');",
		"CREATE INDEX IF NOT EXISTS orders_pool" +
			" ON orders (created_at)" +
			" WHERE status = 'ready_for_pickup' AND courier_id IS NULL;",
		// Журнал выплат. Только вставка
		"CREATE TABLE IF NOT EXISTS settlements (" +
			" id VARCHAR (36) PRIMARY KEY," +
			" shop_id VARCHAR (36) REFERENCES shops (id)," +
			" courier_id VARCHAR (36) REFERENCES couriers (id)," +
			" amount NUMERIC (12, 2) NOT NULL CHECK (amount > 0)," +
			" reference TEXT NOT NULL DEFAULT ''," +
			" processed_at TIMESTAMPTZ NOT NULL," +
			" CHECK ((shop_id IS NULL) <> (courier_id IS NULL))" +
			" );",
	}
	for _, statement := range statements {
		if _, err := store.database.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

// querier - общее у *sql.DB и *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Магазины

const shopColumns = "id, owner_id, name, commission_rate, is_open, is_verified, created_at"

func scanShop(row scanner) (model.Shop, error) {
	var shop model.Shop
	err := row.Scan(&shop.ID,
		&shop.OwnerID,
		&shop.Name,
		&shop.CommissionRate,
		&shop.IsOpen,
		&shop.IsVerified,
		&shop.CreatedAt)
	return shop, err
}

func (store *postgresStore) ShopCreate(ctx context.Context, shop model.Shop) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO shops ("+shopColumns+")"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		shop.ID,
		shop.OwnerID,
		shop.Name,
		shop.CommissionRate,
		shop.IsOpen,
		shop.IsVerified,
		shop.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (store *postgresStore) ShopGet(ctx context.Context, id string) (model.Shop, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+shopColumns+" FROM shops WHERE id = $1", id)
	shop, err := scanShop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shop{}, ErrNoRows
	}
	return shop, err
}

func (store *postgresStore) ShopList(ctx context.Context) ([]model.Shop, error) {
	return shopList(ctx, store.database)
}

func shopList(ctx context.Context, q querier) ([]model.Shop, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+shopColumns+" FROM shops ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := []model.Shop{}
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}

func (store *postgresStore) ShopUpdate(ctx context.Context, id string, change ShopChange) (model.Shop, error) {
	var rate decimal.NullDecimal
	if change.CommissionRate != nil {
		rate = decimal.NewNullDecimal(*change.CommissionRate)
	}
	row := store.database.QueryRowContext(ctx,
		"UPDATE shops SET"+
			" is_open = COALESCE($2, is_open),"+
			" is_verified = COALESCE($3, is_verified),"+
			" commission_rate = COALESCE($4, commission_rate)"+
			" WHERE id = $1"+
			" RETURNING "+shopColumns,
		id,
		change.IsOpen,
		change.IsVerified,
		rate)
	shop, err := scanShop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shop{}, ErrNoRows
	}
	return shop, err
}

// Курьеры

const courierColumns = "id, user_id, is_available, lat, lng, created_at"

func scanCourier(row scanner) (model.Courier, error) {
	var courier model.Courier
	var lat, lng sql.NullFloat64
	err := row.Scan(&courier.ID,
		&courier.UserID,
		&courier.IsAvailable,
		&lat,
		&lng,
		&courier.CreatedAt)
	if lat.Valid {
		courier.Lat = &lat.Float64
	}
	if lng.Valid {
		courier.Lng = &lng.Float64
	}
	return courier, err
}

func (store *postgresStore) CourierCreate(ctx context.Context, courier model.Courier) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO couriers ("+courierColumns+")"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		courier.ID,
		courier.UserID,
		courier.IsAvailable,
		courier.Lat,
		courier.Lng,
		courier.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (store *postgresStore) CourierGet(ctx context.Context, id string) (model.Courier, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+courierColumns+" FROM couriers WHERE id = $1", id)
	courier, err := scanCourier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Courier{}, ErrNoRows
	}
	return courier, err
}

func (store *postgresStore) CourierList(ctx context.Context) ([]model.Courier, error) {
	return courierList(ctx, store.database)
}

func courierList(ctx context.Context, q querier) ([]model.Courier, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+courierColumns+" FROM couriers ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	couriers := []model.Courier{}
	for rows.Next() {
		courier, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		couriers = append(couriers, courier)
	}
	return couriers, rows.Err()
}

func (store *postgresStore) CourierUpdate(ctx context.Context, id string, change CourierChange) (model.Courier, error) {
	row := store.database.QueryRowContext(ctx,
		"UPDATE couriers SET"+
			" is_available = COALESCE($2, is_available),"+
			" lat = COALESCE($3, lat),"+
			" lng = COALESCE($4, lng)"+
			" WHERE id = $1"+
			" RETURNING "+courierColumns,
		id,
		change.IsAvailable,
		change.Lat,
		change.Lng)
	courier, err := scanCourier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Courier{}, ErrNoRows
	}
	return courier, err
}

// Заказы

const orderColumns = "id, customer_id, shop_id, COALESCE(courier_id, ''), status," +
	" total_amount, delivery_fee, COALESCE(pickup_otp, ''), COALESCE(delivery_otp, '')," +
	" payment_method, delivery_address, notes, is_scheduled, scheduled_at," +
	" created_at, updated_at, delivered_at"

func scanOrder(row scanner) (model.Order, error) {
	var order model.Order
	var scheduledAt, deliveredAt sql.NullTime
	err := row.Scan(&order.ID,
		&order.CustomerID,
		&order.ShopID,
		&order.CourierID,
		&order.Status,
		&order.TotalAmount,
		&order.DeliveryFee,
		&order.PickupOTP,
		&order.DeliveryOTP,
		&order.PaymentMethod,
		&order.DeliveryAddress,
		&order.Notes,
		&order.IsScheduled,
		&scheduledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&deliveredAt)
	if scheduledAt.Valid {
		order.ScheduledAt = &scheduledAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = &deliveredAt.Time
	}
	return order, err
}

func (store *postgresStore) OrderCreate(ctx context.Context, order model.Order) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO orders (id, customer_id, shop_id, courier_id, status,"+
			" total_amount, delivery_fee, pickup_otp, delivery_otp,"+
			" payment_method, delivery_address, notes, is_scheduled, scheduled_at,"+
			" created_at, updated_at, delivered_at)"+
			" VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''),"+
			" $10, $11, $12, $13, $14, $15, $16, $17)",
		order.ID,
		order.CustomerID,
		order.ShopID,
		order.CourierID,
		order.Status,
		order.TotalAmount,
		order.DeliveryFee,
		order.PickupOTP,
		order.DeliveryOTP,
		order.PaymentMethod,
		order.DeliveryAddress,
		order.Notes,
		order.IsScheduled,
		order.ScheduledAt,
		order.CreatedAt,
		order.UpdatedAt,
		order.DeliveredAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (store *postgresStore) OrderGet(ctx context.Context, id string) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNoRows
	}
	return order, err
}

func (store *postgresStore) OrderList(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	return orderList(ctx, store.database, filter)
}

// args собирает позиционные параметры запроса
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

func orderList(ctx context.Context, q querier, filter OrderFilter) ([]model.Order, error) {
	var params args
	where := []string{"TRUE"}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, params.add(string(s)))
		}
		where = append(where, "status IN ("+strings.Join(statuses, ", ")+")")
	}
	if filter.ShopID != "" {
		where = append(where, "shop_id = "+params.add(filter.ShopID))
	}
	if filter.CourierID != "" {
		where = append(where, "courier_id = "+params.add(filter.CourierID))
	}
	if filter.Unassigned {
		where = append(where, "courier_id IS NULL")
	}
	where = appendRange(where, &params, "created_at", filter.CreatedFrom, filter.CreatedTo)
	where = appendRange(where, &params, "delivered_at", filter.DeliveredFrom, filter.DeliveredTo)

	rows, err := q.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+
			" WHERE "+strings.Join(where, " AND ")+
			" ORDER BY created_at, id",
		params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func appendRange(where []string, params *args, column string, from, to time.Time) []string {
	if !from.IsZero() {
		where = append(where, column+" >= "+params.add(from))
	}
	if !to.IsZero() {
		where = append(where, column+" <= "+params.add(to))
	}
	return where
}

func (store *postgresStore) OrderUpdate(ctx context.Context, id string, guard OrderGuard, change OrderChange) (model.Order, error) {
	var params args

	set := []string{}
	if change.Status != "" {
		set = append(set, "status = "+params.add(string(change.Status)))
	}
	if change.CourierID != "" {
		set = append(set, "courier_id = "+params.add(change.CourierID))
	}
	if change.PickupOTP != nil {
		set = append(set, "pickup_otp = NULLIF("+params.add(*change.PickupOTP)+", '')")
	}
	if change.DeliveryOTP != nil {
		set = append(set, "delivery_otp = NULLIF("+params.add(*change.DeliveryOTP)+", '')")
	}
	if change.DeliveredAt != nil {
		set = append(set, "delivered_at = "+params.add(*change.DeliveredAt))
	}
	updatedAt := change.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	set = append(set, "updated_at = "+params.add(updatedAt))

	// Условие проверяется и изменение применяется одним оператором
	where := []string{"o.id = " + params.add(id)}
	if guard.Status != "" {
		where = append(where, "o.status = "+params.add(string(guard.Status)))
	}
	if guard.Unassigned {
		where = append(where, "o.courier_id IS NULL")
	}
	if guard.CourierID != "" {
		where = append(where, "o.courier_id = "+params.add(guard.CourierID))
	}
	if guard.PickupOTP != "" {
		where = append(where, "o.pickup_otp = "+params.add(guard.PickupOTP))
	}
	if guard.DeliveryOTP != "" {
		where = append(where, "o.delivery_otp = "+params.add(guard.DeliveryOTP))
	}
	if guard.CourierIdle != "" {
		where = append(where, "NOT EXISTS (SELECT 1 FROM orders AS a"+
			" WHERE a.courier_id = "+params.add(guard.CourierIdle)+
			"   AND a.status IN ('picked_up', 'on_the_way')"+
			"   AND a.id <> o.id)")
	}

	row := store.database.QueryRowContext(ctx,
		"UPDATE orders AS o SET "+strings.Join(set, ", ")+
			" WHERE "+strings.Join(where, " AND ")+
			" RETURNING "+orderColumns,
		params...)
	order, err := scanOrder(row)
	switch {
	case err == nil:
		return order, nil
	case isUniqueViolation(err):
		// параллельный захват другого заказа тем же курьером
		return model.Order{}, ErrCourierBusy
	case !errors.Is(err, sql.ErrNoRows):
		return model.Order{}, err
	}

	// Строка не обновлена: заказа нет или условие не выполнено
	current, err := store.OrderGet(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if !guard.match(current) {
		return model.Order{}, ErrConflict
	}
	if guard.CourierIdle != "" {
		busy, err := orderList(ctx, store.database, OrderFilter{
			CourierID: guard.CourierIdle,
			Statuses:  []model.OrderStatus{model.OrderStatusPickedUp, model.OrderStatusOnTheWay},
		})
		if err != nil {
			return model.Order{}, err
		}
		for _, other := range busy {
			if other.ID != id {
				return model.Order{}, ErrCourierBusy
			}
		}
	}
	return model.Order{}, ErrConflict
}

// Выплаты

const settlementColumns = "id, COALESCE(shop_id, ''), COALESCE(courier_id, ''), amount, reference, processed_at"

func (store *postgresStore) SettlementCreate(ctx context.Context, settlement model.Settlement) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO settlements (id, shop_id, courier_id, amount, reference, processed_at)"+
			" VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)",
		settlement.ID,
		settlement.ShopID,
		settlement.CourierID,
		settlement.Amount,
		settlement.Reference,
		settlement.ProcessedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (store *postgresStore) SettlementList(ctx context.Context, filter SettlementFilter) ([]model.Settlement, error) {
	return settlementList(ctx, store.database, filter)
}

func settlementList(ctx context.Context, q querier, filter SettlementFilter) ([]model.Settlement, error) {
	var params args
	where := []string{"TRUE"}
	switch filter.Target {
	case model.TargetShop:
		where = append(where, "shop_id IS NOT NULL")
	case model.TargetCourier:
		where = append(where, "courier_id IS NOT NULL")
	}
	if filter.TargetID != "" {
		p := params.add(filter.TargetID)
		where = append(where, "(shop_id = "+p+" OR courier_id = "+p+")")
	}
	where = appendRange(where, &params, "processed_at", filter.From, filter.To)

	rows, err := q.QueryContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements"+
			" WHERE "+strings.Join(where, " AND ")+
			" ORDER BY processed_at, id",
		params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settlements := []model.Settlement{}
	for rows.Next() {
		var s model.Settlement
		err := rows.Scan(&s.ID,
			&s.ShopID,
			&s.CourierID,
			&s.Amount,
			&s.Reference,
			&s.ProcessedAt)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

// Snapshot читает все таблицы в одной транзакции REPEATABLE READ, поэтому
// выплата, записанная во время расчета, не попадет в срез наполовину.
func (store *postgresStore) Snapshot(ctx context.Context, orders OrderFilter, settlements SettlementFilter) (Snapshot, error) {
	tx, err := store.database.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()

	var snap Snapshot
	if snap.Orders, err = orderList(ctx, tx, orders); err != nil {
		return Snapshot{}, err
	}
	if snap.Shops, err = shopList(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Couriers, err = courierList(ctx, tx); err != nil {
		return Snapshot{}, err
	}
	if snap.Settlements, err = settlementList(ctx, tx, settlements); err != nil {
		return Snapshot{}, err
	}
	return snap, tx.Commit()
}

func (store *postgresStore) Close() error {
	return store.database.Close()
}
