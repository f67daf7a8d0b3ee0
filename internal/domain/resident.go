package domain

// Resident 住户领域模型（对应 residents 表，仅包含下单需要的字段）
type Resident struct {
	ResidentID string `db:"resident_id"` // UUID, PRIMARY KEY
	TenantID   string `db:"tenant_id"`   // UUID, NOT NULL（所属机构 facility）

	Name       string `db:"name"`        // VARCHAR(200), NOT NULL
	RoomNumber string `db:"room_number"` // VARCHAR(50), nullable

	// 饮食限制/过敏（自由文本）
	DietaryRestrictions string `db:"dietary_restrictions"`
	Allergies           string `db:"allergies"`

	// 账单信息
	BillingName  string `db:"billing_name"`
	BillingEmail string `db:"billing_email"`

	IsActive bool `db:"is_active"` // BOOLEAN, NOT NULL, DEFAULT TRUE

	// 分配的护理人员（nullable）
	AssignedStaffID string `db:"assigned_staff_id"`

	// 机构配送地址（订单创建时快照）
	DeliveryAddress string `db:"delivery_address"`
}
