package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPersistence 报警记录写入/更新失败
	ErrPersistence = errors.New("alert persistence failed")
	// ErrUnknownBatch 录像回调对应的批次不存在（已过期或从未激活）
	ErrUnknownBatch = errors.New("unknown alert batch")
)

// PersistError 按监护人记录的持久化失败，兄弟记录互不影响
type PersistError struct {
	Op      string
	BatchID string
	Failed  map[string]error // monitor_id -> error
}

func newPersistError(op, batchID string) *PersistError {
	return &PersistError{Op: op, BatchID: batchID, Failed: map[string]error{}}
}

func (e *PersistError) add(monitorID string, err error) {
	e.Failed[monitorID] = err
}

// orNil 没有失败时返回 nil，避免返回非空的 nil 接口
func (e *PersistError) orNil() error {
	if len(e.Failed) == 0 {
		return nil
	}
	return e
}

// FailedMonitors 失败的监护人ID（已排序）
func (e *PersistError) FailedMonitors() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *PersistError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, id := range e.FailedMonitors() {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("%s batch %s: %d record(s) failed: %s",
		e.Op, e.BatchID, len(e.Failed), strings.Join(parts, "; "))
}

// Is 支持 errors.Is(err, ErrPersistence)
func (e *PersistError) Is(target error) bool {
	return target == ErrPersistence
}
