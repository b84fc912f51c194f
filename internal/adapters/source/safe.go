package source

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"cine-agenda/internal/domain"
)

type fetchOutcome struct {
	result domain.FetchResult
	err    error
}

// SafeFetch вызывает адаптер с ограничением по времени. Паника и любая
// ошибка адаптера возвращаются значением *domain.AdapterFailure. Адаптер,
// игнорирующий отмену контекста, не задерживает вызывающего дольше timeout.
func SafeFetch(ctx context.Context, sourceID string, adapter domain.SourceAdapter, timeout time.Duration) (domain.FetchResult, *domain.AdapterFailure) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchOutcome{err: &domain.AdapterFailure{
					SourceID: sourceID,
					Reason:   "panic",
					At:       time.Now(),
					Err:      fmt.Errorf("%v\n%s", r, debug.Stack()),
				}}
			}
		}()
		res, err := adapter.Fetch(ctx)
		done <- fetchOutcome{result: res, err: err}
	}()

	var out fetchOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = fetchOutcome{err: ctx.Err()}
	}
	if out.err == nil {
		return out.result, nil
	}
	return domain.FetchResult{}, classify(sourceID, out.err)
}

func classify(sourceID string, err error) *domain.AdapterFailure {
	var af *domain.AdapterFailure
	if errors.As(err, &af) {
		return af
	}
	reason := "fetch failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	return &domain.AdapterFailure{SourceID: sourceID, Reason: reason, At: time.Now(), Err: err}
}
