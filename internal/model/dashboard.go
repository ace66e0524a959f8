package model

import "time"

// MentorProfile はメンターダッシュボードで編集するプロフィール。
type MentorProfile struct {
	UID        string   `json:"uid"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	Bio        string   `json:"bio"`
	Expertise  []string `json:"expertise"`
	HourlyRate float64  `json:"hourly_rate"`
	ImageURL   string   `json:"image"`
}

// Course はメンターが提供するコースを表す。
type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Students    int       `json:"students"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransactionStatus は取引の状態を表す。
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionPending   TransactionStatus = "pending"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction はメンターの売上履歴の1件を表す。
type Transaction struct {
	ID          string            `json:"id"`
	MenteeName  string            `json:"mentee_name"`
	Description string            `json:"description"`
	Amount      float64           `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Date        time.Time         `json:"date"`
}

// AvailabilitySlot は予約カレンダーの空き枠を表す。
type AvailabilitySlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}
