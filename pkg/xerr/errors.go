package xerr

import (
	"errors"
	"fmt"
)

// 通用错误码
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	DbError            = 501
	RecordNotFound     = 404
)

// 钱包池 / 归集业务错误码
const (
	NoWalletAvailable    = 600101 // 池子里没有可分配的钱包
	Conflict             = 600102 // CAS 状态流转失败 (并发竞争)
	OwnershipMismatch    = 600103 // 释放请求的订单和占用订单不一致
	TransferFailed       = 600201 // 链上转账失败/超时
	InvalidNetworkConfig = 600202 // 网络缺少主钱包或阈值配置
	InconsistentWallet   = 600301 // current_order_id 和 status 不满足不变式
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Is 判断 err 是否携带指定业务码
func Is(err error, code int) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf 提取业务码，非 CodeError 一律按 ServerCommonError 处理
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case NoWalletAvailable:
		return "没有可用的钱包"
	case Conflict:
		return "并发冲突，请重试"
	case OwnershipMismatch:
		return "订单与钱包归属不一致"
	case TransferFailed:
		return "归集转账失败"
	case InvalidNetworkConfig:
		return "网络配置缺失"
	case InconsistentWallet:
		return "钱包状态不一致"
	default:
		return "未知错误"
	}
}
