package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/hunyuan3d/types"
)

// =============================================================================
// 📒 任务注册表
// =============================================================================

// registry 保存 task_id → task 映射及活跃集合。
// 所有方法只在锁内做内存操作，回调与文件 I/O 由调用方在锁外完成。
type registry struct {
	mu     sync.Mutex
	tasks  map[string]*task
	active map[string]struct{}
	now    func() time.Time
}

// change 是一次状态推进的结果
type change struct {
	from       State
	info       TaskInfo
	progress   ProgressSink
	completion CompletionSink
}

func newRegistry() *registry {
	return &registry{
		tasks:  make(map[string]*task),
		active: make(map[string]struct{}),
		now:    time.Now,
	}
}

// insert 登记新任务；task_id 重复时返回错误
func (r *registry) insert(t *task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.info.ID]; exists {
		return types.Errorf(types.ErrInternalError, "task %s already tracked", t.info.ID)
	}
	now := r.now()
	t.info.CreatedAt = now
	t.info.UpdatedAt = now
	r.tasks[t.info.ID] = t
	if t.info.State.IsActive() {
		r.active[t.info.ID] = struct{}{}
	}
	return nil
}

// get 返回任务快照
func (r *registry) get(id string) (TaskInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info, true
}

// remove 移除任务并返回其条目；不存在时返回 false。
// 只有拿到条目的调用方负责释放文件，保证文件恰好删除一次。
func (r *registry) remove(id string) (*task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	delete(r.tasks, id)
	delete(r.active, id)
	return t, true
}

// removeAll 清空注册表
func (r *registry) removeAll() []*task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.tasks = make(map[string]*task)
	r.active = make(map[string]struct{})
	return out
}

// markInactiveLocked 把任务移出活跃集合但保留条目，调用方须持有 r.mu
func (r *registry) markInactiveLocked(id string) bool {
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.active, id)
	return true
}

// transition 校验并推进状态。任务不存在或转换非法时返回 false。
func (r *registry) transition(id string, to State, mutate func(*TaskInfo)) (change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok || !t.info.State.CanTransitionTo(to) {
		return change{}, false
	}

	from := t.info.State
	t.info.State = to
	t.info.UpdatedAt = r.now()
	if mutate != nil {
		mutate(&t.info)
	}
	if !to.IsActive() {
		r.markInactiveLocked(id)
	}
	return change{from: from, info: t.info, progress: t.progress, completion: t.completion}, true
}

// update 在不改变状态的前提下修改快照；fn 返回 false 表示放弃修改
func (r *registry) update(id string, fn func(*TaskInfo) bool) (change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return change{}, false
	}
	if !fn(&t.info) {
		return change{}, false
	}
	t.info.UpdatedAt = r.now()
	return change{from: t.info.State, info: t.info, progress: t.progress, completion: t.completion}, true
}

// activeIDs 返回活跃任务 id 的副本
func (r *registry) activeIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// snapshot 返回全部任务快照，按创建时间排序
func (r *registry) snapshot() []TaskInfo {
	r.mu.Lock()
	out := make([]TaskInfo, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// counts 返回任务总数与活跃数
func (r *registry) counts() (total, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks), len(r.active)
}
