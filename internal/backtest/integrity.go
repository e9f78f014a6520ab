package backtest

import "context"

// Gap 表示一个缺失的 open_time 闭区间。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述某区间内本地数据的完整程度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

// Complete 判断区间内数据是否无缺口。
func (r IntegrityReport) Complete() bool {
	return r.Expected > 0 && r.Present >= r.Expected && len(r.Gaps) == 0
}

// CheckIntegrity 对齐区间后比对网格期望与实际 open_time，汇总缺口。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	start, end = tf.AlignRange(start, end)
	report := IntegrityReport{Expected: tf.ExpectedCandles(start, end)}
	if report.Expected <= 0 {
		return report, nil
	}
	present, err := s.LoadOpenTimes(ctx, symbol, timeframe, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Present = int64(len(present))

	step := tf.durationMillis()
	idx := 0
	var gapStart int64 = -1
	for ts := start; ts <= end; ts += step {
		found := false
		for idx < len(present) && present[idx] <= ts {
			if present[idx] == ts {
				found = true
			}
			idx++
		}
		if found {
			if gapStart >= 0 {
				report.Gaps = append(report.Gaps, Gap{From: gapStart, To: ts - step})
				gapStart = -1
			}
			continue
		}
		if gapStart < 0 {
			gapStart = ts
		}
	}
	if gapStart >= 0 {
		report.Gaps = append(report.Gaps, Gap{From: gapStart, To: alignDown(end, step)})
	}
	return report, nil
}
