package gormrepo

import (
	"encoding/json"
	"time"

	domain "github.com/feastline/api/internal/domain"
)

type orderModel struct {
	ID                   string `gorm:"primaryKey;size:64"`
	UserID               string `gorm:"size:64;index"`
	ReceiverName         string `gorm:"size:128"`
	ReceiverPhone        string `gorm:"size:32"`
	DeliveryAddress      string `gorm:"size:512"`
	DeliveryZone         string `gorm:"size:64"`
	DeliveryType         string `gorm:"size:32"`
	PaymentMethod        string `gorm:"size:16"`
	Status               string `gorm:"size:32;index"`
	Subtotal             int64
	DeliveryFee          int64
	DiscountAmount       int64
	PointsUsed           int64
	TotalPrice           int64
	CouponID             *string `gorm:"size:64"`
	CouponHold           string  `gorm:"size:16"`
	GatewayTransactionID *string `gorm:"size:128;uniqueIndex"`
	RefundFlagged        bool
	Note                 *string `gorm:"size:512"`
	CancelReason         *string `gorm:"size:512"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PaidAt               *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time

	Items []orderItemModel `gorm:"foreignKey:OrderID"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	OrderID   string `gorm:"size:64;index"`
	FoodID    string `gorm:"size:64"`
	Name      string `gorm:"size:256"`
	Quantity  int
	UnitPrice int64
	Total     int64
}

func (orderItemModel) TableName() string { return "order_items" }

type foodModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:256"`
	Price      int64
	CategoryID string `gorm:"size:64"`
	Available  bool
}

func (foodModel) TableName() string { return "foods" }

type couponModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	Code              string `gorm:"size:64;uniqueIndex"`
	DiscountType      string `gorm:"size:16"`
	DiscountValue     int64
	MinOrderAmount    int64
	MaxDiscountAmount int64
	MaxUsage          int64
	UsedCount         int64
	MaxUsagePerUser   int
	Type              string `gorm:"size:16"`
	Status            string `gorm:"size:16;index"`
	StartsAt          time.Time
	EndsAt            time.Time `gorm:"index"`
	FoodIDs           string    `gorm:"type:text"`
	CategoryIDs       string    `gorm:"type:text"`
	UserIDs           string    `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (couponModel) TableName() string { return "coupons" }

type couponUsageModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	CouponID       string `gorm:"size:64;uniqueIndex:idx_coupon_order"`
	OrderID        string `gorm:"size:64;uniqueIndex:idx_coupon_order"`
	UserID         string `gorm:"size:64;index"`
	DiscountAmount int64
	CreatedAt      time.Time
}

func (couponUsageModel) TableName() string { return "coupon_usages" }

type rewardPointModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Balance   int64
	UpdatedAt time.Time
}

func (rewardPointModel) TableName() string { return "reward_points" }

type pointHistoryModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"size:64;uniqueIndex:idx_user_order_type"`
	OrderID     *string `gorm:"size:64;uniqueIndex:idx_user_order_type"`
	Type        string  `gorm:"size:16;uniqueIndex:idx_user_order_type"`
	Amount      int64
	Description string `gorm:"size:512"`
	CreatedAt   time.Time
}

func (pointHistoryModel) TableName() string { return "point_histories" }

type orderTrackingModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	OrderID    string `gorm:"size:64;index"`
	FromStatus string `gorm:"size:32"`
	ToStatus   string `gorm:"size:32"`
	Actor      string `gorm:"size:64"`
	Note       string `gorm:"size:512"`
	CreatedAt  time.Time
}

func (orderTrackingModel) TableName() string { return "order_trackings" }

func toOrderModel(o domain.Order) orderModel {
	m := orderModel{
		ID:                   o.ID,
		UserID:               o.UserID,
		ReceiverName:         o.ReceiverName,
		ReceiverPhone:        o.ReceiverPhone,
		DeliveryAddress:      o.DeliveryAddress,
		DeliveryZone:         o.DeliveryZone,
		DeliveryType:         o.DeliveryType,
		PaymentMethod:        string(o.PaymentMethod),
		Status:               string(o.Status),
		Subtotal:             o.Subtotal,
		DeliveryFee:          o.DeliveryFee,
		DiscountAmount:       o.DiscountAmount,
		PointsUsed:           o.PointsUsed,
		TotalPrice:           o.TotalPrice,
		CouponID:             o.CouponID,
		CouponHold:           string(o.CouponHold),
		GatewayTransactionID: o.GatewayTransactionID,
		RefundFlagged:        o.RefundFlagged,
		Note:                 o.Note,
		CancelReason:         o.CancelReason,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
		PaidAt:               o.PaidAt,
		CompletedAt:          o.CompletedAt,
		CancelledAt:          o.CancelledAt,
	}
	for _, it := range o.Items {
		m.Items = append(m.Items, orderItemModel{
			ID:        it.ID,
			OrderID:   o.ID,
			FoodID:    it.FoodID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Total:     it.Total,
		})
	}
	return m
}

func toDomainOrder(m orderModel) domain.Order {
	o := domain.Order{
		ID:                   m.ID,
		UserID:               m.UserID,
		ReceiverName:         m.ReceiverName,
		ReceiverPhone:        m.ReceiverPhone,
		DeliveryAddress:      m.DeliveryAddress,
		DeliveryZone:         m.DeliveryZone,
		DeliveryType:         m.DeliveryType,
		PaymentMethod:        domain.PaymentMethod(m.PaymentMethod),
		Status:               domain.OrderStatus(m.Status),
		Subtotal:             m.Subtotal,
		DeliveryFee:          m.DeliveryFee,
		DiscountAmount:       m.DiscountAmount,
		PointsUsed:           m.PointsUsed,
		TotalPrice:           m.TotalPrice,
		CouponID:             m.CouponID,
		CouponHold:           domain.CouponHoldState(m.CouponHold),
		GatewayTransactionID: m.GatewayTransactionID,
		RefundFlagged:        m.RefundFlagged,
		Note:                 m.Note,
		CancelReason:         m.CancelReason,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		PaidAt:               m.PaidAt,
		CompletedAt:          m.CompletedAt,
		CancelledAt:          m.CancelledAt,
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:        it.ID,
			OrderID:   it.OrderID,
			FoodID:    it.FoodID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Total:     it.Total,
		})
	}
	return o
}

func toCouponModel(c domain.Coupon) couponModel {
	return couponModel{
		ID:                c.ID,
		Code:              c.Code,
		DiscountType:      string(c.DiscountType),
		DiscountValue:     c.DiscountValue,
		MinOrderAmount:    c.MinOrderAmount,
		MaxDiscountAmount: c.MaxDiscountAmount,
		MaxUsage:          c.MaxUsage,
		UsedCount:         c.UsedCount,
		MaxUsagePerUser:   c.MaxUsagePerUser,
		Type:              string(c.Type),
		Status:            string(c.Status),
		StartsAt:          c.StartsAt,
		EndsAt:            c.EndsAt,
		FoodIDs:           marshalIDs(c.FoodIDs),
		CategoryIDs:       marshalIDs(c.CategoryIDs),
		UserIDs:           marshalIDs(c.UserIDs),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func toDomainCoupon(m couponModel) domain.Coupon {
	return domain.Coupon{
		ID:                m.ID,
		Code:              m.Code,
		DiscountType:      domain.DiscountType(m.DiscountType),
		DiscountValue:     m.DiscountValue,
		MinOrderAmount:    m.MinOrderAmount,
		MaxDiscountAmount: m.MaxDiscountAmount,
		MaxUsage:          m.MaxUsage,
		UsedCount:         m.UsedCount,
		MaxUsagePerUser:   m.MaxUsagePerUser,
		Type:              domain.CouponType(m.Type),
		Status:            domain.CouponStatus(m.Status),
		StartsAt:          m.StartsAt,
		EndsAt:            m.EndsAt,
		FoodIDs:           unmarshalIDs(m.FoodIDs),
		CategoryIDs:       unmarshalIDs(m.CategoryIDs),
		UserIDs:           unmarshalIDs(m.UserIDs),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func marshalIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func unmarshalIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}
