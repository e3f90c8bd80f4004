package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"usdtpool.com/internal/core/service"
	"usdtpool.com/pkg/common"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/xerr"
)

// Consolidation 资金归集接口
type Consolidation struct {
	cons *service.Consolidator
}

func NewConsolidation(cons *service.Consolidator) *Consolidation {
	return &Consolidation{cons: cons}
}

// Statistics GET /api/v1/fund-consolidation/statistics
func (h *Consolidation) Statistics(c *gin.Context) {
	stats, err := h.cons.Statistics(c.Request.Context())
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, stats)
}

// Scan GET /api/v1/fund-consolidation/scan
func (h *Consolidation) Scan(c *gin.Context) {
	report, err := h.cons.ScanAndStore(c.Request.Context())
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, report)
}

type executeReq struct {
	TaskIDs  []string `json:"task_ids" binding:"required"`
	Strategy string   `json:"strategy"`
}

// Execute POST /api/v1/fund-consolidation/execute
func (h *Consolidation) Execute(c *gin.Context) {
	var req executeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}
	if req.Strategy != "" {
		if _, ok := service.ParseStrategy(req.Strategy); !ok {
			common.FailFromError(c, xerr.New(xerr.RequestParamsError, "invalid strategy"))
			return
		}
		// 策略进审计日志，批内任务本身相互独立
		logger.Info(c.Request.Context(), "归集执行策略", zap.String("strategy", req.Strategy))
	}

	res, err := h.cons.Execute(c.Request.Context(), req.TaskIDs)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, res)
}

type userConsolidateReq struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// ConsolidateUser POST /api/v1/user-wallets/consolidate
func (h *Consolidation) ConsolidateUser(c *gin.Context) {
	var req userConsolidateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}

	res, err := h.cons.ConsolidateUser(c.Request.Context(), req.UserID)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, res)
}
