package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]types.User
	getErr error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int64]types.User{}}
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return types.User{}, f.getErr
	}
	user, ok := f.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.Active = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeUsers) Update(_ context.Context, user types.User) (types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	f.byID[user.ID] = user
	return user, nil
}

type fakeTokens struct {
	mu     sync.Mutex
	nextID int64
	byHash map[string]types.RefreshToken
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{byHash: map[string]types.RefreshToken{}}
}

func (f *fakeTokens) Create(_ context.Context, token types.RefreshToken) (types.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(token), nil
}

func (f *fakeTokens) insert(token types.RefreshToken) types.RefreshToken {
	f.nextID++
	token.ID = f.nextID
	token.CreatedAt = time.Now()
	f.byHash[token.TokenHash] = token
	return token
}

func (f *fakeTokens) GetByHash(_ context.Context, hash string) (types.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.byHash[hash]
	if !ok {
		return types.RefreshToken{}, store.ErrNotFound
	}
	return token, nil
}

func (f *fakeTokens) Rotate(_ context.Context, oldHash string, next types.RefreshToken, now time.Time) (types.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.byHash[oldHash]
	if !ok || old.Revoked || !now.Before(old.ExpiresAt) {
		return types.RefreshToken{}, store.ErrNotFound
	}
	old.Revoked = true
	f.byHash[oldHash] = old
	return f.insert(next), nil
}

func (f *fakeTokens) Revoke(_ context.Context, hash string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token, ok := f.byHash[hash]; ok && token.UserID == userID {
		token.Revoked = true
		f.byHash[hash] = token
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for hash, token := range f.byHash {
		if token.UserID == userID && !token.Revoked {
			token.Revoked = true
			f.byHash[hash] = token
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) active(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, token := range f.byHash {
		if token.UserID == userID && !token.Revoked {
			n++
		}
	}
	return n
}

type fakeProducts struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]types.Product

	lastFilter types.ProductFilter
	lastOffset int
	lastLimit  int
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{byID: map[int64]types.Product{}}
}

func (f *fakeProducts) add(product types.Product) types.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	product.ID = f.nextID
	f.byID[product.ID] = product
	return product
}

func (f *fakeProducts) List(_ context.Context, filter types.ProductFilter, offset, limit int) ([]types.Product, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	f.lastOffset = offset
	f.lastLimit = limit

	var matched []types.Product
	for _, p := range f.byID {
		if !filter.IncludeInactive && p.Status != types.ProductActive {
			continue
		}
		if filter.SellerID > 0 && p.SellerID != filter.SellerID {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(p.Title), strings.ToLower(filter.Query)) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []types.Product{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (f *fakeProducts) Get(_ context.Context, id int64) (types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeProducts) Create(_ context.Context, product types.Product) (types.Product, error) {
	return f.add(product), nil
}

func (f *fakeProducts) Update(_ context.Context, product types.Product) (types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[product.ID]; !ok {
		return types.Product{}, store.ErrNotFound
	}
	f.byID[product.ID] = product
	return product, nil
}

func (f *fakeProducts) SetImage(_ context.Context, id int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	p.ImageKey = key
	f.byID[id] = p
	return nil
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeImages struct {
	mu      sync.Mutex
	objects map[string]storedObject
	deleted []string
}

func newFakeImages() *fakeImages {
	return &fakeImages{objects: map[string]storedObject{}}
}

func (f *fakeImages) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = storedObject{data: data, contentType: contentType}
	return nil
}

func (f *fakeImages) Get(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), storage.ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

func (f *fakeImages) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeCart struct {
	mu       sync.Mutex
	nextID   int64
	items    map[int64]types.CartItem
	products *fakeProducts
}

func newFakeCart(products *fakeProducts) *fakeCart {
	return &fakeCart{items: map[int64]types.CartItem{}, products: products}
}

func (f *fakeCart) ListByUser(ctx context.Context, userID int64) ([]types.CartLine, error) {
	f.mu.Lock()
	var items []types.CartItem
	for _, item := range f.items {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	f.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	lines := make([]types.CartLine, 0, len(items))
	for _, item := range items {
		p, err := f.products.Get(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, types.CartLine{
			ID:            item.ID,
			ProductID:     item.ProductID,
			Title:         p.Title,
			UnitPrice:     p.Price,
			Quantity:      item.Quantity,
			Stock:         p.Stock,
			ProductStatus: p.Status,
		})
	}
	return lines, nil
}

func (f *fakeCart) GetByProduct(_ context.Context, userID, productID int64) (types.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.UserID == userID && item.ProductID == productID {
			return item, nil
		}
	}
	return types.CartItem{}, store.ErrNotFound
}

func (f *fakeCart) AddItem(_ context.Context, userID, productID int64, quantity int) (types.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, item := range f.items {
		if item.UserID == userID && item.ProductID == productID {
			item.Quantity += quantity
			f.items[id] = item
			return item, nil
		}
	}
	f.nextID++
	item := types.CartItem{ID: f.nextID, UserID: userID, ProductID: productID, Quantity: quantity}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakeCart) RemoveItem(_ context.Context, userID, itemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok || item.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.items, itemID)
	return nil
}

type fakeOrders struct {
	mu     sync.Mutex
	byID   map[int64]types.Order
	create func(userID int64) (types.Order, error)

	updateErr error
	cancelled []int64
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{byID: map[int64]types.Order{}}
}

func (f *fakeOrders) put(order types.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[order.ID] = order
}

func (f *fakeOrders) CreateFromCart(_ context.Context, userID int64) (types.Order, error) {
	if f.create == nil {
		return types.Order{}, store.ErrEmptyCart
	}
	order, err := f.create(userID)
	if err != nil {
		return types.Order{}, err
	}
	f.put(order)
	return order, nil
}

func (f *fakeOrders) Get(_ context.Context, id int64) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byID[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (f *fakeOrders) ListByUser(_ context.Context, userID int64, offset, limit int) ([]types.Order, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []types.Order
	for _, order := range f.byID {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	total := len(orders)
	if offset >= total {
		return []types.Order{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return orders[offset:end], total, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id int64, from, to types.OrderStatus) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return types.Order{}, f.updateErr
	}
	order, ok := f.byID[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	if order.Status != from {
		return types.Order{}, store.ErrInvalidTransition
	}
	order.Status = to
	f.byID[id] = order
	return order, nil
}

func (f *fakeOrders) Cancel(_ context.Context, id int64) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.byID[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	if order.Status != types.OrderPending {
		return types.Order{}, store.ErrInvalidTransition
	}
	order.Status = types.OrderCancelled
	f.byID[id] = order
	f.cancelled = append(f.cancelled, id)
	return order, nil
}

type publishedEvent struct {
	channel string
	event   types.OrderEvent
	attrs   map[string]string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakePublisher) PublishJSON(_ context.Context, channel string, v any, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	event, _ := v.(types.OrderEvent)
	f.events = append(f.events, publishedEvent{channel: channel, event: event, attrs: attrs})
	return "msg-1", nil
}

func (f *fakePublisher) published() []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedEvent(nil), f.events...)
}
