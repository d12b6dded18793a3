package application

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/metrics"
	"stockledger/internal/service/inventory/domain"
	"stockledger/internal/service/inventory/domain/port"
)

// DefaultReservationTTL 预留的默认有效期
const DefaultReservationTTL = 15 * time.Minute

// errReservationRejected 用于让事务回滚，不会返回给调用方
var errReservationRejected = errors.New("reservation rejected")

// InventoryService 是库存账本唯一的写入方
type InventoryService struct {
	store    domain.Store
	catalog  port.VariantCatalog
	tracer   trace.Tracer
	clock    clock.Clock
	ttl      time.Duration
	notifier port.StockChangeNotifier
	cache    port.StockSnapshotCache
}

type Option func(*InventoryService)

func WithClock(c clock.Clock) Option { return func(s *InventoryService) { s.clock = c } }

// WithReservationTTL 设置预留有效期，非正数时保持默认值
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *InventoryService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithNotifier 注册事务提交后的库存变更通知
func WithNotifier(n port.StockChangeNotifier) Option {
	return func(s *InventoryService) { s.notifier = n }
}

// WithSnapshotCache 为查询接口启用快照缓存
func WithSnapshotCache(c port.StockSnapshotCache) Option {
	return func(s *InventoryService) { s.cache = c }
}

func WithTracer(t trace.Tracer) Option { return func(s *InventoryService) { s.tracer = t } }

// NewInventoryService 创建库存服务
func NewInventoryService(store domain.Store, catalog port.VariantCatalog, opts ...Option) *InventoryService {
	s := &InventoryService{
		store:   store,
		catalog: catalog,
		tracer:  otel.Tracer("inventory"),
		clock:   clock.Real(),
		ttl:     DefaultReservationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolvedLine 是解析后按 variant 合并的订单行
type resolvedLine struct {
	index     int // 第一次出现的位置，用于按原顺序输出错误
	sku       string
	variantID int64
	quantity  int64
}

type lineError struct {
	index int
	err   error
}

// Reserve 为订单的所有行预留库存，全部成功或全部回滚
// 行级失败（库存不足、SKU 不存在、数量非法）放在 ReserveResult.Errors 中返回；
// 返回 error 表示数据库等意外错误
func (s *InventoryService) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Reserve")
	defer span.End()
	defer observe("reserve", time.Now())

	span.SetAttributes(
		attribute.String("order.id", req.OrderID),
		attribute.Int("order.lines", len(req.Lines)),
	)
	if req.OrderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	if len(req.Lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	lines, lineErrs, err := s.resolveLines(ctx, req.Lines)
	if err != nil {
		return nil, s.fail(ctx, span, "reserve", err)
	}

	now := s.clock.Now()
	result := &ReserveResult{ExpiresAt: now.Add(s.ttl)}
	var changed []domain.StockItem

	err = s.store.Atomic(ctx, func(tx domain.Tx) error {
		result.Reservations, result.Errors, changed = nil, nil, nil

		existing, err := tx.Reservations().FindByOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return domain.ErrOrderAlreadyReserved
		}

		errs := append([]lineError(nil), lineErrs...)
		// 按 variant_id 升序加锁，避免两个订单交叉加锁导致死锁
		for _, line := range lines {
			if _, err := tx.Ledger().GetOrCreate(ctx, line.variantID); err != nil {
				return err
			}
			item, err := tx.Ledger().LockForUpdate(ctx, line.variantID)
			if err != nil {
				return err
			}
			if !item.CanReserve(line.quantity) {
				errs = append(errs, lineError{line.index, &domain.InsufficientStockError{
					SKU:       line.sku,
					VariantID: line.variantID,
					Available: item.Available(),
					Requested: line.quantity,
				}})
				continue
			}
			if len(errs) > 0 {
				// 已经注定回滚，只继续检查其余行
				continue
			}

			updated, err := tx.Ledger().AdjustReserved(ctx, line.variantID, line.quantity)
			if err != nil {
				return err
			}
			r := domain.Reservation{
				ID:        uuid.NewString(),
				OrderID:   req.OrderID,
				VariantID: line.variantID,
				SKU:       line.sku,
				Quantity:  line.quantity,
				ExpiresAt: result.ExpiresAt,
				CreatedAt: now,
			}
			if err := tx.Reservations().Create(ctx, &r); err != nil {
				return err
			}
			result.Reservations = append(result.Reservations, r)
			changed = append(changed, *updated)
		}

		if len(errs) > 0 {
			sort.SliceStable(errs, func(i, j int) bool { return errs[i].index < errs[j].index })
			for _, e := range errs {
				result.Errors = append(result.Errors, e.err)
			}
			return errReservationRejected
		}
		return nil
	})

	switch {
	case errors.Is(err, errReservationRejected):
		result.Reservations = nil
		metrics.ReservationsTotal.WithLabelValues("rejected").Inc()
		span.AddEvent("reservation rejected")
		logger.Ctx(ctx).Info().
			Str("order_id", req.OrderID).
			Strs("errors", result.Messages()).
			Msg("reservation rejected, nothing reserved")
		return result, nil
	case err != nil:
		return nil, s.fail(ctx, span, "reserve", err)
	}

	result.Success = true
	metrics.ReservationsTotal.WithLabelValues("success").Inc()
	logger.Ctx(ctx).Info().
		Str("order_id", req.OrderID).
		Int("reservations", len(result.Reservations)).
		Time("expires_at", result.ExpiresAt).
		Msg("stock reserved")
	s.notify(ctx, changed)
	return result, nil
}

// resolveLines 通过目录把 SKU 解析为 variant，合并重复行并按 variant_id 排序
func (s *InventoryService) resolveLines(ctx context.Context, in []LineItem) ([]resolvedLine, []lineError, error) {
	var errs []lineError
	merged := make(map[int64]*resolvedLine)
	for i, l := range in {
		if l.Quantity <= 0 {
			errs = append(errs, lineError{i, &domain.InvalidQuantityError{SKU: l.SKU, Quantity: l.Quantity}})
			continue
		}
		v, err := s.catalog.FindVariantBySKU(ctx, l.SKU)
		if err != nil {
			if errors.Is(err, domain.ErrVariantNotFound) {
				errs = append(errs, lineError{i, &domain.VariantNotFoundError{SKU: l.SKU}})
				continue
			}
			return nil, nil, err
		}
		if line, ok := merged[v.ID]; ok {
			if l.Quantity > math.MaxInt64-line.quantity {
				errs = append(errs, lineError{i, &domain.QuantityOverflowError{SKU: l.SKU}})
				continue
			}
			line.quantity += l.Quantity
			continue
		}
		merged[v.ID] = &resolvedLine{index: i, sku: l.SKU, variantID: v.ID, quantity: l.Quantity}
	}

	lines := make([]resolvedLine, 0, len(merged))
	for _, line := range merged {
		lines = append(lines, *line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].variantID < lines[j].variantID })
	return lines, errs, nil
}

type settleOp string

const (
	opCommit  settleOp = "commit"
	opRelease settleOp = "release"
)

// Commit 支付成功后把订单的预留转成实际扣减：on_hand 与 reserved 同时减少，预留删除
func (s *InventoryService) Commit(ctx context.Context, orderID string) (*SettlementResult, error) {
	return s.settle(ctx, orderID, opCommit)
}

// Release 支付失败或取消时释放订单的预留：只减少 reserved
func (s *InventoryService) Release(ctx context.Context, orderID string) (*SettlementResult, error) {
	return s.settle(ctx, orderID, opRelease)
}

func (s *InventoryService) settle(ctx context.Context, orderID string, op settleOp) (*SettlementResult, error) {
	ctx, span := s.tracer.Start(ctx, "app."+string(op))
	defer span.End()
	defer observe(string(op), time.Now())
	span.SetAttributes(attribute.String("order.id", orderID))

	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}

	result := &SettlementResult{}
	var changed []domain.StockItem
	err := s.store.Atomic(ctx, func(tx domain.Tx) error {
		*result, changed = SettlementResult{}, nil

		rs, err := tx.Reservations().FindByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		sort.Slice(rs, func(i, j int) bool { return rs[i].VariantID < rs[j].VariantID })

		for _, r := range rs {
			if _, err := tx.Ledger().LockForUpdate(ctx, r.VariantID); err != nil {
				if errors.Is(err, domain.ErrStockItemNotFound) {
					// 库存行缺失属于数据异常：跳过并告警，预留保留给人工处理
					result.Missing = append(result.Missing, r.VariantID)
					continue
				}
				return err
			}
			// 锁内删除，删除失败说明已被其他流程处理（例如过期清理）
			removed, err := tx.Reservations().Delete(ctx, r)
			if err != nil {
				return err
			}
			if !removed {
				continue
			}
			item, err := tx.Ledger().AdjustReserved(ctx, r.VariantID, -r.Quantity)
			if err != nil {
				return err
			}
			if op == opCommit {
				if item, err = tx.Ledger().AdjustOnHand(ctx, r.VariantID, -r.Quantity); err != nil {
					return err
				}
			}
			changed = append(changed, *item)
			result.Applied++
		}
		return nil
	})
	if err != nil {
		if op == opCommit {
			metrics.CommitsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.ReleasesTotal.WithLabelValues("payment_failed", "error").Inc()
		}
		return nil, s.fail(ctx, span, string(op), err)
	}

	if op == opCommit {
		metrics.CommitsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.ReleasesTotal.WithLabelValues("payment_failed", "success").Add(float64(result.Applied))
	}
	for _, variantID := range result.Missing {
		metrics.MissingStockItemTotal.WithLabelValues(string(op)).Inc()
		logger.Ctx(ctx).Warn().
			Str("order_id", orderID).
			Int64("variant_id", variantID).
			Str("op", string(op)).
			Msg("stock item missing, reservation skipped")
	}

	ev := logger.Ctx(ctx).Info()
	if result.Applied == 0 {
		ev = logger.Ctx(ctx).Warn()
	}
	ev.Str("order_id", orderID).Int("applied", result.Applied).Msgf("%s finished", op)

	s.notify(ctx, changed)
	return result, nil
}

// ReleaseExpired 释放所有在 now 之前过期的预留
// 每条预留单独一个事务，单条失败只回滚它自己，返回成功释放的条数
func (s *InventoryService) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "app.ReleaseExpired")
	defer span.End()
	defer observe("release_expired", time.Now())

	var expired []domain.Reservation
	err := s.store.View(ctx, func(tx domain.Tx) error {
		var err error
		expired, err = tx.Reservations().FindExpired(ctx, now)
		return err
	})
	if err != nil {
		return 0, s.fail(ctx, span, "release_expired", err)
	}

	released := 0
	for _, r := range expired {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.releaseOne(ctx, r)
		if err != nil {
			metrics.ReleasesTotal.WithLabelValues("expired", "error").Inc()
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", r.ID).
				Str("order_id", r.OrderID).
				Int64("variant_id", r.VariantID).
				Msg("failed to release expired reservation")
			continue
		}
		if ok {
			released++
		}
	}

	metrics.ExpiredReleasedTotal.Add(float64(released))
	metrics.ReleasesTotal.WithLabelValues("expired", "success").Add(float64(released))
	span.SetAttributes(attribute.Int("reservations.expired", len(expired)), attribute.Int("reservations.released", released))
	if len(expired) > 0 {
		logger.Ctx(ctx).Info().Int("expired", len(expired)).Int("released", released).Msg("expired reservations swept")
	}
	return released, ctx.Err()
}

func (s *InventoryService) releaseOne(ctx context.Context, r domain.Reservation) (bool, error) {
	var removed, missing bool
	var changed *domain.StockItem
	err := s.store.Atomic(ctx, func(tx domain.Tx) error {
		removed, missing, changed = false, false, nil

		_, err := tx.Ledger().LockForUpdate(ctx, r.VariantID)
		switch {
		case errors.Is(err, domain.ErrStockItemNotFound):
			missing = true
		case err != nil:
			return err
		}
		if removed, err = tx.Reservations().Delete(ctx, r); err != nil || !removed {
			return err
		}
		if missing {
			return nil
		}
		changed, err = tx.Ledger().AdjustReserved(ctx, r.VariantID, -r.Quantity)
		return err
	})
	if err != nil {
		return false, err
	}
	if missing && removed {
		metrics.MissingStockItemTotal.WithLabelValues("release_expired").Inc()
		logger.Ctx(ctx).Warn().
			Str("reservation_id", r.ID).
			Int64("variant_id", r.VariantID).
			Msg("stock item missing, expired reservation dropped")
	}
	if changed != nil {
		s.notify(ctx, []domain.StockItem{*changed})
	}
	return removed, nil
}

// GetStockItem 只读查询，结果仅供参考，不能作为预留判断的依据
func (s *InventoryService) GetStockItem(ctx context.Context, variantID int64) (*domain.StockItem, error) {
	load := func(ctx context.Context) (*domain.StockItem, error) {
		var item *domain.StockItem
		err := s.store.View(ctx, func(tx domain.Tx) error {
			var err error
			item, err = tx.Ledger().Find(ctx, variantID)
			return err
		})
		return item, err
	}
	if s.cache != nil {
		return s.cache.GetOrLoad(ctx, variantID, load)
	}
	return load(ctx)
}

// GetStockBySKU 按 SKU 查询库存视图
func (s *InventoryService) GetStockBySKU(ctx context.Context, sku string) (*StockView, error) {
	v, err := s.catalog.FindVariantBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	item, err := s.GetStockItem(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	view := NewStockView(sku, item)
	return &view, nil
}

// AdjustOnHand 入库（delta > 0）或报损（delta < 0），在同一把行锁下执行
func (s *InventoryService) AdjustOnHand(ctx context.Context, sku string, delta int64) (*StockView, error) {
	ctx, span := s.tracer.Start(ctx, "app.AdjustOnHand")
	defer span.End()
	defer observe("adjust_on_hand", time.Now())
	span.SetAttributes(attribute.String("sku", sku), attribute.Int64("delta", delta))

	v, err := s.catalog.FindVariantBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}

	var item *domain.StockItem
	err = s.store.Atomic(ctx, func(tx domain.Tx) error {
		if _, err := tx.Ledger().GetOrCreate(ctx, v.ID); err != nil {
			return err
		}
		if _, err := tx.Ledger().LockForUpdate(ctx, v.ID); err != nil {
			return err
		}
		var err error
		item, err = tx.Ledger().AdjustOnHand(ctx, v.ID, delta)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			return nil, err
		}
		return nil, s.fail(ctx, span, "adjust_on_hand", err)
	}

	logger.Ctx(ctx).Info().Str("sku", sku).Int64("delta", delta).Int64("on_hand", item.OnHand).Msg("on hand adjusted")
	s.notify(ctx, []domain.StockItem{*item})
	view := NewStockView(sku, item)
	return &view, nil
}

func (s *InventoryService) notify(ctx context.Context, items []domain.StockItem) {
	if s.notifier == nil || len(items) == 0 {
		return
	}
	s.notifier.StockChanged(ctx, items)
}

// fail 记录错误并保证返回的错误可以用 errors.Is 识别为事务失败
func (s *InventoryService) fail(ctx context.Context, span trace.Span, op string, err error) error {
	if !errors.Is(err, domain.ErrTransactionFailure) && !isDomainError(err) {
		err = fmt.Errorf("%s: %w: %w", op, domain.ErrTransactionFailure, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if op == "reserve" {
		metrics.ReservationsTotal.WithLabelValues("error").Inc()
	}
	logger.Ctx(ctx).Error().Err(err).Str("op", op).Msg("inventory operation failed")
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrOrderAlreadyReserved) ||
		errors.Is(err, domain.ErrInvariantViolation) ||
		errors.Is(err, domain.ErrVariantNotFound) ||
		errors.Is(err, domain.ErrStockItemNotFound)
}

func observe(op string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
