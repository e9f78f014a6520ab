package backtest

import "math"

// Report 汇总资金曲线的绩效统计。
type Report struct {
	InitialEquity  float64 `json:"initial_equity"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturn    float64 `json:"total_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	AnnualizedVol  float64 `json:"annualized_vol"`
	EquityPeak     float64 `json:"equity_peak"`
	EquityValley   float64 `json:"equity_valley"`
	PeriodsPerYear float64 `json:"periods_per_year"`
}

// Summarize 从资金曲线计算总收益、最大回撤与年化波动率。
// 纯函数，无副作用；空曲线返回零值 Report。
func Summarize(snapshots []Snapshot, tf Timeframe) Report {
	if len(snapshots) == 0 {
		return Report{}
	}
	rep := Report{
		InitialEquity:  snapshots[0].Equity,
		FinalEquity:    snapshots[len(snapshots)-1].Equity,
		EquityPeak:     snapshots[0].Equity,
		EquityValley:   snapshots[0].Equity,
		PeriodsPerYear: tf.PeriodsPerYear(),
	}

	peak := snapshots[0].Equity
	for _, s := range snapshots {
		if s.Equity > rep.EquityPeak {
			rep.EquityPeak = s.Equity
		}
		if s.Equity < rep.EquityValley {
			rep.EquityValley = s.Equity
		}
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak > 0 {
			dd := (peak - s.Equity) / peak
			if dd > rep.MaxDrawdown {
				rep.MaxDrawdown = dd
			}
		}
	}

	if rep.InitialEquity > 0 {
		rep.TotalReturn = (rep.FinalEquity - rep.InitialEquity) / rep.InitialEquity
	}
	rep.AnnualizedVol = annualizedVol(snapshots, rep.PeriodsPerYear)
	return rep
}

// annualizedVol 为逐根收益率的样本标准差 × sqrt(年化周期数)。
func annualizedVol(snapshots []Snapshot, periodsPerYear float64) float64 {
	if len(snapshots) < 3 || periodsPerYear <= 0 {
		return 0
	}
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, snapshots[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	return std * math.Sqrt(periodsPerYear)
}
