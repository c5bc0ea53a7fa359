package domain

import "time"

// SellerBalance — ledger продавца. AvailableMinor никогда не опускается
// ниже нуля: дебет выполняется только условным обновлением на уровне хранилища.
type SellerBalance struct {
	SellerID          string
	AvailableMinor    int64
	PendingMinor      int64
	TotalEarningsMinor int64
	WithdrawnMinor    int64
	UpdatedAt         time.Time
}

// LedgerEntryKind классифицирует запись журнала баланса.
type LedgerEntryKind string

const (
	// LedgerEntrySaleCredit — зачисление выручки в pending после подтверждения оплаты.
	LedgerEntrySaleCredit LedgerEntryKind = "sale_credit"
	// LedgerEntryWithdrawalHold — перенос available → pending под вывод средств.
	LedgerEntryWithdrawalHold LedgerEntryKind = "withdrawal_hold"
	// LedgerEntryRefundDebit — списание available под одобренный возврат покупателю.
	LedgerEntryRefundDebit LedgerEntryKind = "refund_debit"
)

// LedgerEntry — неизменяемая запись каждой мутации баланса с фиксацией
// balanceBefore/balanceAfter для сверки.
type LedgerEntry struct {
	ID                 string
	SellerID           string
	Kind               LedgerEntryKind
	AmountMinor        int64
	BalanceBeforeMinor int64
	BalanceAfterMinor  int64
	// Reference — идентификатор бронирования или вывода, породившего запись.
	Reference string
	Occurred  time.Time
}

// WithdrawalStatus описывает жизненный цикл заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
)

// Withdrawal — заявка продавца на вывод средств.
type Withdrawal struct {
	ID          string
	SellerID    string
	AmountMinor int64
	MethodID    string
	Status      WithdrawalStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PayoutMethod — реквизиты выплаты продавца. Невалидированные методы
// не допускаются к выводу.
type PayoutMethod struct {
	ID       string
	SellerID string
	Verified bool
}
