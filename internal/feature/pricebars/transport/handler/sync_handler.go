package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/feature/pricebars/transport/http/dto"
	jwtmw "price_history/internal/platform/jwt"
)

const defaultRunsLimit = 20

// SyncRunner runs one synchronization pass.
type SyncRunner interface {
	Run(ctx context.Context) (entity.RunReport, error)
}

// RunLister lists stored run reports.
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]entity.RunReport, error)
}

// SyncHandler は同期の手動実行と実行履歴を扱います。
type SyncHandler struct {
	runner SyncRunner
	runs   RunLister
}

// NewSyncHandler は SyncHandler を生成します。runs が nil の場合、履歴は空で返します。
func NewSyncHandler(runner SyncRunner, runs RunLister) *SyncHandler {
	return &SyncHandler{runner: runner, runs: runs}
}

// Trigger は同期を1回実行し、レポートを返します。実行中の場合は409を返します。
//
// POST /sync
func (h *SyncHandler) Trigger(c *gin.Context) {
	slog.Info("manual sync requested", "subject", c.GetString(jwtmw.ContextSubject))

	report, err := h.runner.Run(c.Request.Context())
	if err != nil {
		c.JSON(StatusOf(err), dto.ErrorResponse{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if len(report.FailedSymbols) > 0 && len(report.FailedSymbols) == len(report.Outcomes) {
		status = http.StatusBadGateway
	}
	c.JSON(status, dto.SyncRunResponse{RunReport: report, Partial: report.Partial()})
}

// ListRuns は直近の実行履歴を新しい順に返します。
//
// GET /sync/runs?limit=20
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunsLimit)))
	if err != nil || limit <= 0 || limit > 500 {
		limit = defaultRunsLimit
	}

	out := dto.SyncRunsResponse{Runs: []dto.SyncRunResponse{}}
	if h.runs == nil {
		c.JSON(http.StatusOK, out)
		return
	}

	reports, err := h.runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(StatusOf(err), dto.ErrorResponse{Error: err.Error()})
		return
	}
	for _, r := range reports {
		out.Runs = append(out.Runs, dto.SyncRunResponse{RunReport: r, Partial: r.Partial()})
	}
	c.JSON(http.StatusOK, out)
}
