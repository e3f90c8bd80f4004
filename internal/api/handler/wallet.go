package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"usdtpool.com/internal/core/service"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/common"
	"usdtpool.com/pkg/xerr"
)

// Wallet 钱包池管理接口
type Wallet struct {
	svc   *service.WalletService
	alloc *service.Allocator
}

func NewWallet(svc *service.WalletService, alloc *service.Allocator) *Wallet {
	return &Wallet{svc: svc, alloc: alloc}
}

// Stats GET /api/v1/admin/usdt-wallets/stats
func (h *Wallet) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, stats)
}

// List GET /api/v1/admin/usdt-wallets?page&limit&network&status
func (h *Wallet) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	q := domain.ListQuery{
		Network: domain.Network(c.Query("network")),
		Status:  domain.WalletStatus(c.Query("status")),
		Page:    page,
		Limit:   limit,
	}
	if q.Network != "" && !q.Network.Valid() {
		common.FailFromError(c, xerr.New(xerr.RequestParamsError, "invalid network"))
		return
	}
	if q.Status != "" && !q.Status.Valid() {
		common.FailFromError(c, xerr.New(xerr.RequestParamsError, "invalid status"))
		return
	}

	wallets, total, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, gin.H{
		"list":  wallets,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

type generateReq struct {
	Network    string `json:"network" binding:"required"`
	Count      int    `json:"count" binding:"required"`
	NamePrefix string `json:"name_prefix"`
}

// Generate POST /api/v1/admin/usdt-wallets/generate
func (h *Wallet) Generate(c *gin.Context) {
	var req generateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}
	if req.NamePrefix == "" {
		req.NamePrefix = "pool"
	}

	success, err := h.svc.Generate(c.Request.Context(), domain.Network(req.Network), req.Count, req.NamePrefix)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, gin.H{"success_count": success})
}

type importReq struct {
	Network    string `json:"network" binding:"required"`
	PrivateKey string `json:"private_key" binding:"required"`
	WalletName string `json:"wallet_name"`
}

// Import POST /api/v1/admin/usdt-wallets/import
func (h *Wallet) Import(c *gin.Context) {
	var req importReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}

	w, err := h.svc.Import(c.Request.Context(), domain.Network(req.Network), req.PrivateKey, req.WalletName)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, w)
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus PUT /api/v1/admin/usdt-wallets/:id/status
func (h *Wallet) SetStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}

	w, err := h.svc.SetStatus(c.Request.Context(), id, domain.WalletStatus(req.Status))
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, w)
}

// ForceRelease POST /api/v1/admin/usdt-wallets/:id/release
func (h *Wallet) ForceRelease(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}

	w, err := h.svc.ForceRelease(c.Request.Context(), id)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, w)
}

// Overview GET /api/v1/user-wallets/admin/overview
// 当前所有被占用钱包按用户聚合
func (h *Wallet) Overview(c *gin.Context) {
	wallets, total, err := h.svc.List(c.Request.Context(), domain.ListQuery{
		Status: domain.WalletStatusOccupied,
		Page:   1,
		Limit:  1000,
	})
	if err != nil {
		common.FailFromError(c, err)
		return
	}

	byUser := make(map[int64]int)
	for i := range wallets {
		if wallets[i].UserID != nil {
			byUser[*wallets[i].UserID]++
		}
	}
	common.Success(c, gin.H{
		"occupied_total": total,
		"by_user":        byUser,
		"wallets":        wallets,
	})
}

// UserWallets GET /api/v1/user-wallets/admin/user/:id/wallets
func (h *Wallet) UserWallets(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}

	wallets, err := h.svc.UserWallets(c.Request.Context(), uid)
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, wallets)
}

type allocateReq struct {
	Network  string `json:"network" binding:"required"`
	OrderID  int64  `json:"order_id" binding:"required"`
	Strategy string `json:"strategy"`
}

// AllocateForUser POST /api/v1/user-wallets/admin/user/:id/allocate
func (h *Wallet) AllocateForUser(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}
	var req allocateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}
	strategy, ok := service.ParseStrategy(req.Strategy)
	if !ok {
		common.FailFromError(c, xerr.New(xerr.RequestParamsError, "invalid strategy"))
		return
	}

	w, err := h.alloc.Allocate(c.Request.Context(), &service.AllocationRequest{
		Network:  domain.Network(req.Network),
		OrderID:  req.OrderID,
		UserID:   &uid,
		Strategy: strategy,
	})
	if err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, w)
}

type releaseReq struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

// Release POST /api/v1/user-wallets/:id/release (带归属校验的常规释放)
func (h *Wallet) Release(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}
	var req releaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromError(c, xerr.NewErrCode(xerr.RequestParamsError))
		return
	}

	if err := h.alloc.Release(c.Request.Context(), id, req.OrderID); err != nil {
		common.FailFromError(c, err)
		return
	}
	common.Success(c, gin.H{"released": true})
}
