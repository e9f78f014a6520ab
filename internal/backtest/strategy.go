package backtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"cerro/internal/market"
)

// Params 为策略参数的通用载体，来自配置文件或 HTTP 请求。
type Params map[string]any

// Strategy 将完整 K 线序列映射为逐根信号。实现必须是纯函数：
// 相同 (candles, params) 恒产出相同信号序列，且 idx 处只依赖 candles[0..idx]。
type Strategy interface {
	Name() string
	// ParamSchema 返回参数的 JSON Schema；空串表示无参数。
	ParamSchema() string
	Signals(candles []market.Candle, params Params) ([]Signal, error)
}

// Registry 管理可用策略与参数校验。
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	schemas    map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		schemas:    make(map[string]*jsonschema.Schema),
	}
}

// DefaultRegistry 返回内置策略集合。
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	for _, s := range []Strategy{&CrossoverStrategy{}, &PrevDayLevelStrategy{}} {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册策略并编译其参数 schema。
func (r *Registry) Register(s Strategy) error {
	if s == nil || s.Name() == "" {
		return fmt.Errorf("策略名不能为空")
	}
	var compiled *jsonschema.Schema
	if raw := s.ParamSchema(); raw != "" {
		compiler := jsonschema.NewCompiler()
		url := "strategy://" + s.Name()
		if err := compiler.AddResource(url, bytes.NewReader([]byte(raw))); err != nil {
			return fmt.Errorf("策略 %s schema 无效: %w", s.Name(), err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("策略 %s schema 编译失败: %w", s.Name(), err)
		}
		compiled = sch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name()]; exists {
		return fmt.Errorf("策略 %s 已注册", s.Name())
	}
	r.strategies[s.Name()] = s
	if compiled != nil {
		r.schemas[s.Name()] = compiled
	}
	return nil
}

// Get 按名称返回策略。
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names 返回已注册策略名（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateParams 按策略 schema 校验原始 JSON 参数并解码为 Params。
func (r *Registry) ValidateParams(name string, raw json.RawMessage) (Params, error) {
	r.mu.RLock()
	_, ok := r.strategies[name]
	sch := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知策略 %q: %w", name, ErrInvalidParameter)
	}
	if len(raw) == 0 {
		return Params{}, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("策略参数不是合法 JSON: %w", ErrInvalidParameter)
	}
	if sch != nil {
		if err := sch.Validate(decoded); err != nil {
			return nil, fmt.Errorf("策略参数校验失败: %v: %w", err, ErrInvalidParameter)
		}
	}
	params, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("策略参数必须是 JSON 对象: %w", ErrInvalidParameter)
	}
	return Params(params), nil
}

// CrossoverStrategy 为 SMA 穿越策略：收盘在均线上方做多、下方做空。
type CrossoverStrategy struct{}

type crossoverParams struct {
	Window   int  `mapstructure:"window"`
	LongOnly bool `mapstructure:"long_only"`
}

func (s *CrossoverStrategy) Name() string { return "crossover" }

func (s *CrossoverStrategy) ParamSchema() string {
	return `{
	  "type": "object",
	  "properties": {
	    "window": {"type": "integer", "minimum": 1},
	    "long_only": {"type": "boolean"}
	  },
	  "additionalProperties": false
	}`
}

func (s *CrossoverStrategy) Signals(candles []market.Candle, params Params) ([]Signal, error) {
	p := crossoverParams{Window: 20}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	signals, err := CrossoverSignals(candles, p.Window)
	if err != nil {
		return nil, err
	}
	if p.LongOnly {
		dropShorts(signals)
	}
	return signals, nil
}

// PrevDayLevelStrategy 为前日高低点突破策略（PDH/PDL）。
type PrevDayLevelStrategy struct{}

type prevDayParams struct {
	LongOnly bool `mapstructure:"long_only"`
}

func (s *PrevDayLevelStrategy) Name() string { return "prev_day_levels" }

func (s *PrevDayLevelStrategy) ParamSchema() string {
	return `{
	  "type": "object",
	  "properties": {
	    "long_only": {"type": "boolean"}
	  },
	  "additionalProperties": false
	}`
}

func (s *PrevDayLevelStrategy) Signals(candles []market.Candle, params Params) ([]Signal, error) {
	p := prevDayParams{}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	signals := PrevDayLevelSignals(candles)
	if p.LongOnly {
		dropShorts(signals)
	}
	return signals, nil
}

func decodeParams(params Params, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(params)); err != nil {
		return fmt.Errorf("策略参数解码失败: %v: %w", err, ErrInvalidParameter)
	}
	return nil
}

func dropShorts(signals []Signal) {
	for i, s := range signals {
		if s == SignalShort {
			signals[i] = SignalFlat
		}
	}
}
