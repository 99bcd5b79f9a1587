package dto

import "price_history/internal/feature/pricebars/domain/entity"

// SyncRunResponse wraps a run report with its derived state.
type SyncRunResponse struct {
	entity.RunReport
	Partial bool `json:"partial"`
}

// SyncRunsResponse は GET /sync/runs のレスポンスです。
type SyncRunsResponse struct {
	Runs []SyncRunResponse `json:"runs"`
}
