package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cerro/internal/market"
)

// CSVSource 从本地目录读取 <SYMBOL>.csv 格式的历史数据。
// 列顺序：timestamp,open,high,low,close,volume；首行可为表头；
// 时间戳接受 Unix 毫秒或 "2006-01-02 15:04:05" / "2006-01-02"。
type CSVSource struct {
	root string
}

func NewCSVSource(root string) *CSVSource {
	return &CSVSource{root: root}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空: %w", ErrInvalidParameter)
	}
	path := filepath.Join(s.root, strings.ToUpper(req.Symbol)+".csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("csv 文件 %s 不存在: %w", path, ErrDataUnavailable)
		}
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}

	step := intervalMillis(req.Interval)
	var out []market.Candle
	for i, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := parseCSVTime(row[0])
		if err != nil {
			if i == 0 {
				continue // 表头
			}
			return nil, fmt.Errorf("%s 第 %d 行时间戳无效: %w", path, i+1, err)
		}
		if req.Start > 0 && ts < req.Start {
			continue
		}
		if req.End > 0 && ts > req.End {
			continue
		}
		c := market.Candle{
			OpenTime:  ts,
			CloseTime: ts + step - 1,
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		}
		out = append(out, c)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("csv %s 区间内无数据: %w", req.Symbol, ErrDataUnavailable)
	}
	out = market.SortAscending(out)
	if err := market.EnsureAscending(out); err != nil {
		return nil, err
	}
	return out, nil
}

func intervalMillis(interval string) int64 {
	if tf, err := ParseTimeframe(interval); err == nil {
		return tf.durationMillis()
	}
	return int64(time.Minute / time.Millisecond)
}

func parseCSVTime(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// 秒级时间戳统一提升到毫秒。
		if ms < 1e12 {
			ms *= 1000
		}
		return ms, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("无法解析时间 %q", raw)
}
