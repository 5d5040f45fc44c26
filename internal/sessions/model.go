package sessions

import "time"

// Session is one logged focus/break interval with its accrued reward balance.
// Rows are append-only: nothing updates or deletes them except the account
// deletion cascade.
type Session struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index:idx_sessions_user_created,priority:1"`
	FocusTime    int64     `gorm:"column:focus_time;not null;default:0"`
	BreakTime    int64     `gorm:"column:break_time;not null;default:0"`
	SessionCount int64     `gorm:"column:session_count;not null;default:0"`
	Balance      int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_sessions_user_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// CreateInput carries the client-supplied counters for one session row.
// Values are stored as-is; the aggregator applies no range validation.
type CreateInput struct {
	FocusTime    int64
	BreakTime    int64
	SessionCount int64
	Balance      int64
}

// LifetimeTotals aggregates every session row owned by one user.
type LifetimeTotals struct {
	FocusTime int64 `json:"focus_time"`
	BreakTime int64 `json:"break_time"`
	AllTime   int64 `json:"all_time"`
	Sessions  int64 `json:"sessions"`
	Balance   int64 `json:"balance"`
}

// TodayTotals aggregates the rows created on the current local calendar date.
// Balance is the lifetime sum, not today's.
type TodayTotals struct {
	FocusTime int64 `json:"focus_time"`
	Sessions  int64 `json:"sessions"`
	Balance   int64 `json:"balance"`
}
