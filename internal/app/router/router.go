package router

import (
	"github.com/gin-gonic/gin"

	barshandler "price_history/internal/feature/pricebars/transport/handler"
	"price_history/internal/platform/http/handler"
	jwtmw "price_history/internal/platform/jwt"
)

// NewRouter はHTTPルーティングを構築します。
func NewRouter(bars *barshandler.BarsHandler, sync *barshandler.SyncHandler, checks map[string]handler.ReadinessCheck) *gin.Engine {
	r := gin.Default()

	// 認証不要
	// 導通確認用
	r.GET("/healthz", handler.Health)
	r.HEAD("/healthz", handler.Health)
	// 依存先の疎通確認
	r.GET("/readyz", handler.Readiness(checks))

	// 参照系
	r.GET("/bars/:symbol", bars.GetBars)
	r.GET("/watermarks", bars.Watermarks)

	// 同期系は sync:run スコープ付きの JWT が必要
	syncGroup := r.Group("/sync")
	syncGroup.Use(jwtmw.AuthRequired(jwtmw.ScopeSync))
	{
		syncGroup.POST("", sync.Trigger)
		syncGroup.GET("/runs", sync.ListRuns)
	}

	return r
}
