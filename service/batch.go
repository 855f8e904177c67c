package service

import (
	"context"
	"sync"

	"github.com/TIANLI0/BuildingKit/utils"
	"go.uber.org/zap"
)

// BatchReport 批处理统计
type BatchReport struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failures  []string `json:"failures,omitempty"`
}

// Merge 合并另一个批次的统计
func (r *BatchReport) Merge(o BatchReport) {
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Failures = append(r.Failures, o.Failures...)
}

// RunBatch 以固定数量的 worker 并发处理各项。单项失败只记录并跳过，不影响其他项；
// ctx 取消后不再派发新任务。
func RunBatch(ctx context.Context, workers int, items []string, fn func(item string) error) BatchReport {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report BatchReport
	)
	semaphore := make(chan struct{}, workers)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return report
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(item string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := fn(item)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				utils.Logger.Warn("item skipped", zap.String("item", item), zap.Error(err))
				report.Skipped++
				report.Failures = append(report.Failures, item)
				return
			}
			report.Processed++
		}(item)
	}

	wg.Wait()
	return report
}
