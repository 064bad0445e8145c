// Package mongo реализует документное хранилище на MongoDB: товары и заказы
// меняются в многодокументных транзакциях сессии.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
	"github.com/vladislavdragonenkov/quickart/internal/storage/txguard"
)

const (
	itemsCollection  = "items"
	ordersCollection = "orders"

	defaultTxAttempts  = 5
	defaultTxBackoff   = 5 * time.Millisecond
	defaultConnTimeout = 10 * time.Second
	opTimeout          = 5 * time.Second

	// метки ошибок сервера, при которых транзакцию можно повторить
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"
)

// Store — MongoDB-реализация domain.DocumentStore.
type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	maxAttempts int
	backoff     time.Duration
	logger      *log.Entry
}

// Option настраивает Store.
type Option func(*Store)

// WithTxAttempts задаёт число попыток транзакции.
func WithTxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Connect подключается к MongoDB и проверяет доступность primary.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(defaultConnTimeout).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to mongodb: %w", domain.ErrStorageUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongodb: %w", domain.ErrStorageUnavailable, err)
	}

	s := &Store{
		client:      client,
		db:          client.Database(database),
		maxAttempts: defaultTxAttempts,
		backoff:     defaultTxBackoff,
		logger:      log.WithField("component", "mongo-document-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureIndexes создаёт индексы для выборок дашбордов.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	orderIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "store_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "delivery_person.id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := s.db.Collection(ordersCollection).Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("create order indexes: %w", err)
	}

	itemIndex := mongo.IndexModel{Keys: bson.D{{Key: "store_id", Value: 1}, {Key: "name", Value: 1}}}
	if _, err := s.db.Collection(itemsCollection).Indexes().CreateOne(ctx, itemIndex); err != nil {
		return fmt.Errorf("create item indexes: %w", err)
	}
	return nil
}

// Close отключает клиента.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return domain.ErrStorageUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// RunTransaction выполняет fn в snapshot-транзакции сессии с majority write concern.
// TransientTransactionError и конфликт версий перезапускают fn целиком.
// UnknownTransactionCommitResult повторяет только коммит: транзакция могла
// уже примениться, и повторный fn списал бы сток второй раз.
func (s *Store) RunTransaction(ctx context.Context, fn domain.TxFunc) error {
	if s == nil || s.client == nil {
		return domain.ErrStorageUnavailable
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %w", domain.ErrStorageUnavailable, err)
	}
	defer session.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	sc := mongo.NewSessionContext(ctx, session)

	return s.retryTransaction(ctx, txSteps{
		execute: func() error {
			if err := session.StartTransaction(txOpts); err != nil {
				return fmt.Errorf("start transaction: %w", err)
			}
			if err := fn(sc, txguard.Wrap(&transaction{db: s.db})); err != nil {
				_ = session.AbortTransaction(context.Background())
				return err
			}
			return nil
		},
		commit: func() error {
			return session.CommitTransaction(sc)
		},
	})
}

// txSteps разделяет попытку транзакции на тело и коммит, чтобы их можно было
// повторять по отдельности.
type txSteps struct {
	// execute открывает транзакцию и выполняет тело; при ошибке транзакция уже прервана.
	execute func() error
	commit  func() error
}

func (s *Store) retryTransaction(ctx context.Context, steps txSteps) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := steps.execute()
		if err == nil {
			err = s.commitWithRetry(ctx, steps.commit)
			if err == nil {
				return nil
			}
		}
		if !shouldRerun(err) {
			return err
		}
		lastErr = err
		s.logger.WithError(err).WithField("attempt", attempt).Debug("transaction conflict, retrying")

		if err := s.wait(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", domain.ErrTxConflict, s.maxAttempts, lastErr)
}

// commitWithRetry повторяет только CommitTransaction, пока сервер не даст
// определённый ответ. Коммит идемпотентен в рамках сессии.
func (s *Store) commitWithRetry(ctx context.Context, commit func() error) error {
	for attempt := 1; ; attempt++ {
		err := commit()
		if err == nil || !hasLabel(err, labelUnknownCommitResult) {
			return err
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("commit result unknown after %d attempts: %w", attempt, err)
		}
		s.logger.WithError(err).WithField("attempt", attempt).Warn("commit result unknown, retrying commit")

		if err := s.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *Store) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// shouldRerun разрешает перезапуск тела транзакции. Неизвестный результат
// коммита сюда не относится.
func shouldRerun(err error) bool {
	if hasLabel(err, labelUnknownCommitResult) {
		return false
	}
	return hasLabel(err, labelTransientTransaction) || errors.Is(err, domain.ErrTxConflict)
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}

func (s *Store) GetItem(ctx context.Context, id string) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return findItem(ctx, s.db, id)
}

// PutItem создаёт или перезаписывает товар, увеличивая версию.
func (s *Store) PutItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if item.ID == "" {
		return domain.Item{}, domain.ErrItemIDRequired
	}
	if item.Stock < 0 {
		return domain.Item{}, domain.ErrNegativeStock
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := newItemDocument(item)
	doc.UpdatedAt = time.Now().UTC()
	set := bson.M{
		"name":        doc.Name,
		"description": doc.Description,
		"category":    doc.Category,
		"price_minor": doc.PriceMinor,
		"stock":       doc.Stock,
		"image":       doc.Image,
		"store_id":    doc.StoreID,
		"store_name":  doc.StoreName,
		"offer":       doc.Offer,
		"updated_at":  doc.UpdatedAt,
	}

	var stored itemDocument
	err := s.db.Collection(itemsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": item.ID},
		bson.M{"$set": set, "$inc": bson.M{"version": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return domain.Item{}, fmt.Errorf("upsert item: %w", err)
	}
	return stored.toDomain(), nil
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := bson.M{}
	if filter.StoreID != "" {
		query["store_id"] = filter.StoreID
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		findOpts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.db.Collection(itemsCollection).Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	var docs []itemDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	items := make([]domain.Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return items, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return findOrder(ctx, s.db, id)
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := bson.M{}
	if filter.StoreID != "" {
		query["store_id"] = filter.StoreID
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.DeliveryPersonID != "" {
		query["delivery_person.id"] = filter.DeliveryPersonID
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query["status"] = bson.M{"$in": statuses}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		findOpts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.db.Collection(ordersCollection).Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.toDomain())
	}
	return orders, nil
}

var _ domain.DocumentStore = (*Store)(nil)
