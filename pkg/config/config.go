package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load 加载 etc/{service}.yaml 并反序列化到 out
// 环境变量覆盖约定：POOL_MYSQL_DSN 覆盖 mysql.dsn
func Load(service string, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./etc")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	v.SetEnvPrefix(strings.ToUpper(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}

// Watch 监听文件变更，变更时把 viper 交给回调
// 回调在 fsnotify 的 goroutine 里跑，要热更新就 Unmarshal 到一份
// 新结构再整体换指针，不要往启动时那份结构里写
func Watch(v *viper.Viper, onChange func(*viper.Viper)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("config file changed: %s", e.Name)
		onChange(v)
	})
}
