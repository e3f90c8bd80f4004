package chain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/logger"
	"usdtpool.com/pkg/xerr"
)

// Config 签名网关配置
// 私钥不出本服务；真正的链上广播走独立的签名网关，这里只是 HTTP 客户端
type Config struct {
	Endpoint string        `mapstructure:"endpoint"` // 签名网关地址，空则启用模拟模式
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Gateway 调用外部签名网关完成归集转账
type Gateway struct {
	cfg    Config
	client *http.Client
}

var _ domain.ChainTransfer = (*Gateway)(nil)

func NewGateway(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type transferReq struct {
	TaskID      string `json:"task_id"`
	Network     string `json:"network"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Amount      string `json:"amount"`
}

type transferResp struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash"`
	Message string `json:"message"`
}

// SendConsolidation 发起一笔归集转账，成功返回链上交易哈希
func (g *Gateway) SendConsolidation(ctx context.Context, task *domain.ConsolidationTask) (string, error) {
	if g.cfg.Endpoint == "" {
		// 模拟模式：本地联调用，哈希由 taskId 决定，幂等可复现
		sum := sha256.Sum256([]byte(task.TaskID))
		logger.Warn(ctx, "签名网关未配置，模拟转账",
			zap.String("task_id", task.TaskID),
			zap.String("network", string(task.Network)))
		return "0x" + hex.EncodeToString(sum[:]), nil
	}

	body, err := json.Marshal(transferReq{
		TaskID:      task.TaskID,
		Network:     string(task.Network),
		FromAddress: task.FromAddress,
		ToAddress:   task.ToAddress,
		Amount:      task.Amount.String(),
	})
	if err != nil {
		return "", xerr.New(xerr.TransferFailed, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.Endpoint+"/v1/transfer", bytes.NewReader(body))
	if err != nil {
		return "", xerr.New(xerr.TransferFailed, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", xerr.New(xerr.TransferFailed, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", xerr.New(xerr.TransferFailed, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return "", xerr.New(xerr.TransferFailed,
			fmt.Sprintf("gateway status %d: %s", resp.StatusCode, string(raw)))
	}

	var out transferResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", xerr.New(xerr.TransferFailed, err.Error())
	}
	if !out.Success || out.TxHash == "" {
		return "", xerr.New(xerr.TransferFailed, out.Message)
	}
	return out.TxHash, nil
}
