package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"golang.org/x/time/rate"
	"usdtpool.com/internal/api/handler"
	"usdtpool.com/pkg/common"
	"usdtpool.com/pkg/ratelimit"
	"usdtpool.com/pkg/safe"
)

// Deps 路由依赖
type Deps struct {
	Wallet        *handler.Wallet
	Consolidation *handler.Consolidation
}

// NewRouter 组装 HTTP 路由；ctx 结束时回收后台清理协程
func NewRouter(ctx context.Context, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(common.RequestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// /metrics
	prom := ginprometheus.NewPrometheus("usdtpool")
	prom.Use(r)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ts": time.Now().Unix()})
	})

	// 生成/导入涉及密钥材料，限流收紧一点
	keyLimiter := ratelimit.NewStore(rate.Every(time.Second), 5, 10*time.Minute)
	safe.Go(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				keyLimiter.GC()
			}
		}
	})

	v1 := r.Group("/api/v1")

	admin := v1.Group("/admin/usdt-wallets")
	{
		admin.GET("", deps.Wallet.List)
		admin.GET("/stats", deps.Wallet.Stats)
		admin.POST("/generate", perKeyLimit(keyLimiter), deps.Wallet.Generate)
		admin.POST("/import", perKeyLimit(keyLimiter), deps.Wallet.Import)
		admin.PUT("/:id/status", deps.Wallet.SetStatus)
		admin.POST("/:id/release", deps.Wallet.ForceRelease)
	}

	cons := v1.Group("/fund-consolidation")
	{
		cons.GET("/statistics", deps.Consolidation.Statistics)
		cons.GET("/scan", deps.Consolidation.Scan)
		cons.POST("/execute", deps.Consolidation.Execute)
	}

	user := v1.Group("/user-wallets")
	{
		user.GET("/admin/overview", deps.Wallet.Overview)
		user.GET("/admin/user/:id/wallets", deps.Wallet.UserWallets)
		user.POST("/admin/user/:id/allocate", deps.Wallet.AllocateForUser)
		user.POST("/:id/release", deps.Wallet.Release)
		user.POST("/consolidate", deps.Consolidation.ConsolidateUser)
	}

	return r
}

func perKeyLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !store.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    http.StatusTooManyRequests,
				"message": "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
