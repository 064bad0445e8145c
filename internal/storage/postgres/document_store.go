package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/storage/txguard"
)

const (
	defaultTxAttempts = 5
	defaultTxBackoff  = 5 * time.Millisecond
)

const itemColumns = `id, name, description, category, price_minor, stock, image, store_id, store_name, offer, version, updated_at`

const orderColumns = `id, user_id, user_name, user_email, store_id, total_minor, delivery_address, phone,
	status, otp, delivery_person_id, delivery_person_name, version, created_at, updated_at`

// queryer — общее у *sql.DB и *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DocumentStore — PostgreSQL-реализация domain.DocumentStore.
// Транзакции идут на REPEATABLE READ; 40001/40P01 приводят к повтору попытки.
type DocumentStore struct {
	store       *Store
	maxAttempts int
	backoff     time.Duration
	logger      *log.Entry
}

// DocumentStoreOption настраивает DocumentStore.
type DocumentStoreOption func(*DocumentStore)

// WithTxAttempts задаёт число попыток транзакции.
func WithTxAttempts(n int) DocumentStoreOption {
	return func(s *DocumentStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithTxBackoff задаёт базовую паузу между попытками.
func WithTxBackoff(d time.Duration) DocumentStoreOption {
	return func(s *DocumentStore) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithDocumentLogger задаёт логгер хранилища.
func WithDocumentLogger(logger *log.Entry) DocumentStoreOption {
	return func(s *DocumentStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDocumentStore создаёт документное хранилище поверх Store.
func NewDocumentStore(store *Store, opts ...DocumentStoreOption) *DocumentStore {
	s := &DocumentStore{
		store:       store,
		maxAttempts: defaultTxAttempts,
		backoff:     defaultTxBackoff,
		logger:      log.WithField("component", "postgres-document-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DocumentStore) RunTransaction(ctx context.Context, fn domain.TxFunc) error {
	if s == nil || s.store == nil || s.store.db == nil {
		return domain.ErrStorageUnavailable
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runAttempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		s.logger.WithError(err).WithField("attempt", attempt).Debug("transaction conflict, retrying")

		timer := time.NewTimer(time.Duration(attempt) * s.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", domain.ErrTxConflict, s.maxAttempts, lastErr)
}

func (s *DocumentStore) runAttempt(ctx context.Context, fn domain.TxFunc) (err error) {
	sqlTx, err := s.store.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %w", domain.ErrStorageUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, txguard.Wrap(&transaction{tx: sqlTx})); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *DocumentStore) GetItem(ctx context.Context, id string) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return getItem(ctx, s.store.db, id)
}

// PutItem создаёт или перезаписывает товар целиком, увеличивая версию.
func (s *DocumentStore) PutItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if strings.TrimSpace(item.ID) == "" {
		return domain.Item{}, domain.ErrItemIDRequired
	}
	if item.Stock < 0 {
		return domain.Item{}, domain.ErrNegativeStock
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.store.db.QueryRowContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price_minor = EXCLUDED.price_minor,
			stock = EXCLUDED.stock,
			image = EXCLUDED.image,
			store_id = EXCLUDED.store_id,
			store_name = EXCLUDED.store_name,
			offer = EXCLUDED.offer,
			version = items.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING `+itemColumns,
		item.ID, item.Name, item.Description, item.Category, item.PriceMinor, item.Stock,
		item.Image, item.StoreID, item.StoreName, nullString(item.Offer), time.Now().UTC(),
	)
	stored, err := scanItem(row)
	if err != nil {
		if pgErrorCode(err) == sqlStateCheckViolation {
			return domain.Item{}, domain.ErrNegativeStock
		}
		return domain.Item{}, fmt.Errorf("upsert item: %w", err)
	}
	return stored, nil
}

func (s *DocumentStore) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + itemColumns + ` FROM items WHERE ($1 = '' OR store_id = $1) ORDER BY name, id`
	args := []any{filter.StoreID}
	if filter.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, filter.Limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var result []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return result, nil
}

func (s *DocumentStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return getOrder(ctx, s.store.db, id)
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (s *DocumentStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}

	var (
		where []string
		args  []any
	)
	addCond := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.StoreID != "" {
		addCond("store_id = $%d", filter.StoreID)
	}
	if filter.UserID != "" {
		addCond("user_id = $%d", filter.UserID)
	}
	if filter.DeliveryPersonID != "" {
		addCond("delivery_person_id = $%d", filter.DeliveryPersonID)
	}
	if len(statuses) > 0 {
		addCond("status = ANY($%d)", statuses)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	for i := range orders {
		lines, err := loadOrderLines(ctx, s.store.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = lines
	}
	return orders, nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	if s == nil {
		return errStoreNotInitialized
	}
	return s.store.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getItem(ctx context.Context, q queryer, id string) (domain.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, &domain.ItemNotFoundError{ItemID: id}
		}
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item  domain.Item
		offer sql.NullString
	)
	if err := row.Scan(
		&item.ID, &item.Name, &item.Description, &item.Category, &item.PriceMinor, &item.Stock,
		&item.Image, &item.StoreID, &item.StoreName, &offer, &item.Version, &item.UpdatedAt,
	); err != nil {
		return domain.Item{}, err
	}
	item.Offer = stringPtr(offer)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func getOrder(ctx context.Context, q queryer, id string) (domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	lines, err := loadOrderLines(ctx, q, id)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = lines
	return order, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                       domain.Order
		status                      string
		userID, userName, userEmail sql.NullString
		personID, personName        sql.NullString
	)
	if err := row.Scan(
		&order.ID, &userID, &userName, &userEmail, &order.StoreID, &order.TotalMinor,
		&order.DeliveryAddress, &order.Phone, &status, &order.OTP, &personID, &personName,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.UserID = stringPtr(userID)
	order.UserName = stringPtr(userName)
	order.UserEmail = stringPtr(userEmail)
	if personID.Valid {
		order.DeliveryPerson = &domain.DeliveryPerson{ID: personID.String, Name: personName.String}
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func loadOrderLines(ctx context.Context, q queryer, orderID string) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, name, price_minor, quantity, image, store_id, store_name, offer
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var (
			line  domain.OrderLine
			offer sql.NullString
		)
		if err := rows.Scan(
			&line.ItemID, &line.Name, &line.PriceMinor, &line.Quantity,
			&line.Image, &line.StoreID, &line.StoreName, &offer,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		line.Offer = stringPtr(offer)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return lines, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

var _ domain.DocumentStore = (*DocumentStore)(nil)
