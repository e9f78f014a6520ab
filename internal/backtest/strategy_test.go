package backtest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"crossover", "prev_day_levels"}, reg.Names())

	s, ok := reg.Get("crossover")
	require.True(t, ok)
	assert.NotEmpty(t, s.ParamSchema())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&CrossoverStrategy{}))
	assert.Error(t, reg.Register(&CrossoverStrategy{}))
}

func TestValidateParams(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	params, err := reg.ValidateParams("crossover", json.RawMessage(`{"window": 5, "long_only": true}`))
	require.NoError(t, err)
	assert.EqualValues(t, 5, params["window"])

	// 空参数合法，走策略默认值
	params, err = reg.ValidateParams("crossover", nil)
	require.NoError(t, err)
	assert.Empty(t, params)

	_, err = reg.ValidateParams("crossover", json.RawMessage(`{"window": 0}`))
	assert.ErrorIs(t, err, ErrInvalidParameter, "schema minimum=1")

	_, err = reg.ValidateParams("crossover", json.RawMessage(`{"lookback": 5}`))
	assert.ErrorIs(t, err, ErrInvalidParameter, "additionalProperties=false")

	_, err = reg.ValidateParams("crossover", json.RawMessage(`not-json`))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = reg.ValidateParams("missing", nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestCrossoverStrategyLongOnly(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12, 11, 10})
	s := &CrossoverStrategy{}

	signals, err := s.Signals(candles, Params{"window": 2})
	require.NoError(t, err)
	assert.Contains(t, signals, SignalShort)

	signals, err = s.Signals(candles, Params{"window": 2, "long_only": true})
	require.NoError(t, err)
	assert.NotContains(t, signals, SignalShort)
	assert.Contains(t, signals, SignalLong)
}

// mapstructure 弱类型解码：JSON 数字到 int 的转换必须生效。
func TestCrossoverStrategyWeaklyTypedWindow(t *testing.T) {
	candles := candlesFromCloses([]float64{10, 11, 12, 11, 10})
	s := &CrossoverStrategy{}

	fromFloat, err := s.Signals(candles, Params{"window": float64(2)})
	require.NoError(t, err)
	fromInt, err := s.Signals(candles, Params{"window": 2})
	require.NoError(t, err)
	assert.Equal(t, fromInt, fromFloat)
}

func TestPrevDayLevelStrategyName(t *testing.T) {
	s := &PrevDayLevelStrategy{}
	assert.Equal(t, "prev_day_levels", s.Name())

	candles := candlesFromCloses([]float64{10, 11, 12})
	signals, err := s.Signals(candles, nil)
	require.NoError(t, err)
	assert.Len(t, signals, 3)
}
