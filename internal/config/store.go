package config

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"usdtpool.com/internal/core/service"
	"usdtpool.com/internal/domain"
	"usdtpool.com/pkg/logger"
)

// Store 配置快照仓：热更新整体换指针，读方永远拿到一份不再被写的快照
// 网络表和评分参数按需解析并按快照缓存，解析失败的那一项沿用上一份有效值
type Store struct {
	ptr atomic.Pointer[Config]

	mu      sync.Mutex
	seen    *Config
	net     domain.NetworkTable
	scoring *service.ScoringConfig
}

// NewStore 启动时的首份配置必须整体合法
func NewStore(initial *Config) (*Store, error) {
	net, err := initial.NetworkTable()
	if err != nil {
		return nil, err
	}
	scoring, err := initial.ScoringConfig()
	if err != nil {
		return nil, err
	}
	s := &Store{seen: initial, net: net, scoring: scoring}
	s.ptr.Store(initial)
	return s, nil
}

// Swap 换入一份新快照 (热更新回调用)；next 之后不能再被写
func (s *Store) Swap(next *Config) {
	s.ptr.Store(next)
}

// Current 当前生效的配置快照
func (s *Store) Current() *Config {
	return s.ptr.Load()
}

// Networks 当前网络表
func (s *Store) Networks() domain.NetworkTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.net
}

// Scoring 当前评分参数
func (s *Store) Scoring() *service.ScoringConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.scoring
}

// refreshLocked 快照指针没换就直接用缓存，换了才重新解析
func (s *Store) refreshLocked() {
	cur := s.ptr.Load()
	if cur == s.seen {
		return
	}
	if net, err := cur.NetworkTable(); err != nil {
		logger.Error(context.Background(), "网络配置热更新解析失败，沿用旧配置", zap.Error(err))
	} else {
		s.net = net
	}
	if scoring, err := cur.ScoringConfig(); err != nil {
		logger.Error(context.Background(), "评分配置热更新解析失败，沿用旧配置", zap.Error(err))
	} else {
		s.scoring = scoring
	}
	s.seen = cur
}
