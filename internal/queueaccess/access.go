package queueaccess

import (
	"context"
	"fmt"

	"stagewise/internal/chain"
	"stagewise/internal/ipc"
	"stagewise/internal/storage"
)

// Access provides task operations regardless of IPC or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]ipc.Task, error)
	Show(ctx context.Context, id int64) (*ipc.TaskShowResponse, error)
	Add(ctx context.Context, kind, payload string) (ipc.Task, error)
	Remove(ctx context.Context, ids []int64) (int64, error)
	Resume(ctx context.Context, ids []int64) (int64, error)
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct store access.
func NewStoreAccess(store storage.Backend, chains chain.Definitions) Access {
	return &storeAccess{store: store, chains: chains}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Stats(_ context.Context) (map[string]int, error) {
	resp, err := a.client.Status()
	if err != nil {
		return nil, err
	}
	return resp.TaskStats, nil
}

func (a *ipcAccess) List(_ context.Context, statuses []string) ([]ipc.Task, error) {
	resp, err := a.client.TaskList(statuses)
	if err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (a *ipcAccess) Show(_ context.Context, id int64) (*ipc.TaskShowResponse, error) {
	return a.client.TaskShow(id)
}

func (a *ipcAccess) Add(_ context.Context, kind, payload string) (ipc.Task, error) {
	resp, err := a.client.TaskAdd(kind, payload)
	if err != nil {
		return ipc.Task{}, err
	}
	return resp.Task, nil
}

func (a *ipcAccess) Remove(_ context.Context, ids []int64) (int64, error) {
	resp, err := a.client.TaskRemove(ids)
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) Resume(_ context.Context, ids []int64) (int64, error) {
	resp, err := a.client.Resume(ids)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

type storeAccess struct {
	store  storage.Backend
	chains chain.Definitions
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out, nil
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]ipc.Task, error) {
	filters, err := ipc.ParseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	tasks, err := a.store.List(ctx, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]ipc.Task, 0, len(tasks))
	for _, task := range tasks {
		ch, _ := a.chains.Lookup(task.Kind)
		out = append(out, ipc.FromTask(task, ch))
	}
	return out, nil
}

func (a *storeAccess) Show(ctx context.Context, id int64) (*ipc.TaskShowResponse, error) {
	task, err := a.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %d not found", id)
	}
	ch, ok := a.chains.Lookup(task.Kind)
	resp := &ipc.TaskShowResponse{Task: ipc.FromTask(task, ch)}
	if ok {
		for _, stage := range ch.Stages() {
			resp.Stages = append(resp.Stages, stage.Completed())
		}
	}
	return resp, nil
}

func (a *storeAccess) Add(ctx context.Context, kind, payload string) (ipc.Task, error) {
	task, err := a.store.NewTask(ctx, kind, payload)
	if err != nil {
		return ipc.Task{}, err
	}
	ch, _ := a.chains.Lookup(task.Kind)
	return ipc.FromTask(task, ch), nil
}

func (a *storeAccess) Remove(ctx context.Context, ids []int64) (int64, error) {
	var count int64
	for _, id := range ids {
		removed, err := a.store.Remove(ctx, id)
		if err != nil {
			return count, err
		}
		if removed {
			count++
		}
	}
	return count, nil
}

func (a *storeAccess) Resume(ctx context.Context, ids []int64) (int64, error) {
	return a.store.Resume(ctx, ids...)
}
