package keygen

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/xerr"
)

// Generator 负责按网络生成/导入钱包密钥并派生地址
// 私钥出门前必须走 AES-GCM 密封，外面只见密文
type Generator struct {
	sealKey []byte // 32 字节
}

func New(secretHex string) (*Generator, error) {
	key, err := hex.DecodeString(secretHex)
	if err != nil || len(key) != 32 {
		return nil, xerr.New(xerr.RequestParamsError, "keystore secret must be 32 bytes hex")
	}
	return &Generator{sealKey: key}, nil
}

// Generated 一次生成/导入的结果
type Generated struct {
	Address             string
	EncryptedPrivateKey string
}

// Generate 生成一个新钱包：secp256k1 私钥 + 按网络派生地址
func (g *Generator) Generate(network domain.Network) (*Generated, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerr.New(xerr.ServerCommonError, fmt.Sprintf("generate key failed: %v", err))
	}
	return g.seal(network, priv)
}

// Import 导入外部私钥 (hex)，地址由服务端派生，不信任客户端给的地址
func (g *Generator) Import(network domain.Network, privateKeyHex string) (*Generated, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	priv, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid private key: %v", err))
	}
	return g.seal(network, priv)
}

func (g *Generator) seal(network domain.Network, priv *ecdsa.PrivateKey) (*Generated, error) {
	addr, err := DeriveAddress(network, priv)
	if err != nil {
		return nil, err
	}

	ciphertext, err := g.encrypt(crypto.FromECDSA(priv))
	if err != nil {
		return nil, err
	}
	return &Generated{Address: addr, EncryptedPrivateKey: ciphertext}, nil
}

// DeriveAddress 按网络派生地址
// ERC20/BEP20: 标准以太坊地址
// TRC20: 0x41 前缀 + keccak 公钥哈希后 20 字节，再 base58check
func DeriveAddress(network domain.Network, priv *ecdsa.PrivateKey) (string, error) {
	switch network {
	case domain.NetworkERC20, domain.NetworkBEP20:
		return crypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
	case domain.NetworkTRC20:
		ethAddr := crypto.PubkeyToAddress(priv.PublicKey)
		payload := append([]byte{0x41}, ethAddr.Bytes()...)
		return base58.CheckEncode(payload[1:], payload[0]), nil
	default:
		return "", xerr.New(xerr.RequestParamsError, fmt.Sprintf("unsupported network: %s", network))
	}
}

// ValidateAddress 校验地址格式是否匹配网络
func ValidateAddress(network domain.Network, address string) bool {
	switch network {
	case domain.NetworkERC20, domain.NetworkBEP20:
		return common.IsHexAddress(address)
	case domain.NetworkTRC20:
		payload, version, err := base58.CheckDecode(address)
		return err == nil && version == 0x41 && len(payload) == 20
	default:
		return false
	}
}

// encrypt AES-256-GCM，随机 nonce 拼在密文前面
func (g *Generator) encrypt(plain []byte) (string, error) {
	block, err := aes.NewCipher(g.sealKey)
	if err != nil {
		return "", xerr.New(xerr.ServerCommonError, fmt.Sprintf("cipher init failed: %v", err))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", xerr.New(xerr.ServerCommonError, fmt.Sprintf("gcm init failed: %v", err))
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", xerr.New(xerr.ServerCommonError, fmt.Sprintf("nonce failed: %v", err))
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt 解封私钥，只给签名边界内的调用方用
func (g *Generator) Decrypt(ciphertextHex string) ([]byte, error) {
	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, xerr.New(xerr.RequestParamsError, "invalid ciphertext")
	}

	block, err := aes.NewCipher(g.sealKey)
	if err != nil {
		return nil, xerr.New(xerr.ServerCommonError, fmt.Sprintf("cipher init failed: %v", err))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerr.New(xerr.ServerCommonError, fmt.Sprintf("gcm init failed: %v", err))
	}
	if len(raw) < gcm.NonceSize() {
		return nil, xerr.New(xerr.RequestParamsError, "ciphertext too short")
	}

	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return nil, xerr.New(xerr.RequestParamsError, "decrypt failed")
	}
	return plain, nil
}
