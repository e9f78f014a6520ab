package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cerro/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition 描述一个可复用的回测档案：标的、周期、策略与参数。
type ProfileDefinition struct {
	Name      string         `yaml:"-"`
	Symbols   []string       `yaml:"symbols"`
	Timeframe string         `yaml:"timeframe"`
	Strategy  string         `yaml:"strategy"`
	Params    map[string]any `yaml:"params"`
	// 回测资金参数；0 表示沿用全局默认。
	InitialBalance float64 `yaml:"initial_balance"`
	FeeRate        float64 `yaml:"fee_rate"`
	SlippageBps    float64 `yaml:"slippage_bps"`
	PositionPct    float64 `yaml:"position_pct"`
	CloseOnFinish  bool    `yaml:"close_on_finish"`
	Default        bool    `yaml:"default"`

	symbolsUpper []string
}

// SymbolsUpper 返回归一化后的标的列表。
func (d ProfileDefinition) SymbolsUpper() []string {
	out := make([]string, len(d.symbolsUpper))
	copy(out, d.symbolsUpper)
	return out
}

// ParamsJSON 把策略参数编码为 JSON，供 RunRequest 直接使用。
func (d ProfileDefinition) ParamsJSON() (json.RawMessage, error) {
	if len(d.Params) == 0 {
		return nil, nil
	}
	return json.Marshal(d.Params)
}

// FileConfig 是完整的 profile 配置文件结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `yaml:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Names 返回排序后的 profile 名。
func (s ProfileSnapshot) Names() []string {
	names := make([]string, 0, len(s.Profiles))
	for k := range s.Profiles {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DefaultProfile 返回标记为 default 的档案；没有时返回 false。
func (s ProfileSnapshot) DefaultProfile() (ProfileDefinition, bool) {
	for _, name := range s.Names() {
		if s.Profiles[name].Default {
			return s.Profiles[name], true
		}
	}
	return ProfileDefinition{}, false
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ParamsValidator 校验某个策略的参数；由上层注入，避免 loader 绑定策略实现。
type ParamsValidator func(strategy string, params map[string]any) error

// ProfileLoader 负责从 YAML 文件中加载回测档案，并监听热更新。
type ProfileLoader struct {
	path     string
	v        *viper.Viper
	validate ParamsValidator

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。
func NewProfileLoader(path string, validate ParamsValidator) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, v: v, validate: validate}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Profile 按名称返回档案。
func (l *ProfileLoader) Profile(name string) (ProfileDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Profiles[name]
	return def, ok
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	fileCfg, err := readProfileFile(l.path)
	if err != nil {
		return err
	}
	normalized := make(map[string]ProfileDefinition)
	for name, def := range fileCfg.Profiles {
		norm, err := normalizeProfileDefinition(name, def)
		if err != nil {
			return err
		}
		if l.validate != nil {
			if err := l.validate(norm.Strategy, norm.Params); err != nil {
				return fmt.Errorf("profile %s params invalid: %w", name, err)
			}
		}
		normalized[name] = norm
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

// readProfileFile 用严格模式解析 YAML，未知字段直接报错。
func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	return cfg, nil
}

func normalizeProfileDefinition(name string, def ProfileDefinition) (ProfileDefinition, error) {
	def.Name = name
	def.symbolsUpper = normalizeSymbols(def.Symbols)
	if len(def.symbolsUpper) == 0 {
		return def, fmt.Errorf("profile %s requires at least one symbol", name)
	}
	def.Timeframe = strings.ToLower(strings.TrimSpace(def.Timeframe))
	if def.Timeframe == "" {
		def.Timeframe = "1h"
	}
	def.Strategy = strings.TrimSpace(def.Strategy)
	if def.Strategy == "" {
		def.Strategy = "crossover"
	}
	return def, nil
}

func normalizeSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cloneSnapshot(in ProfileSnapshot) ProfileSnapshot {
	out := ProfileSnapshot{
		Version:  in.Version,
		LoadedAt: in.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(in.Profiles)),
	}
	for name, def := range in.Profiles {
		cp := def
		cp.Symbols = append([]string(nil), def.Symbols...)
		cp.symbolsUpper = append([]string(nil), def.symbolsUpper...)
		if def.Params != nil {
			params := make(map[string]any, len(def.Params))
			for k, v := range def.Params {
				params[k] = v
			}
			cp.Params = params
		}
		out.Profiles[name] = cp
	}
	return out
}
