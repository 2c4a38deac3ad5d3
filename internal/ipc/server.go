package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"stagewise/internal/daemon"
	"stagewise/internal/logging"
	"stagewise/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) task(t *queue.Task) Task {
	if t == nil {
		return Task{}
	}
	ch, _ := s.daemon.Chain(t.Kind)
	return FromTask(t, ch)
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LockPath = status.LockPath
	resp.StorePath = status.StorePath
	resp.TaskStats = make(map[string]int, len(status.TaskStats))
	for k, v := range status.TaskStats {
		resp.TaskStats[string(k)] = v
	}
	resp.Engine = EngineStats{
		Fired:     status.Engine.Fired,
		Completed: status.Engine.Completed,
		Suspended: status.Engine.Suspended,
		Failed:    status.Engine.Failed,
		Running:   status.Engine.Running,
	}
	resp.RunningTasks = status.RunningTasks
	resp.Kinds = status.Kinds
	resp.LastFire = status.LastFire
	resp.LastError = status.LastError
	for _, h := range status.Processors {
		resp.Processors = append(resp.Processors, ProcessorHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return nil
}

func (s *service) Fire(_ FireRequest, resp *FireResponse) error {
	fired, err := s.daemon.Fire(s.ctx)
	if err != nil {
		return err
	}
	resp.Fired = fired
	s.logger.Info("fire requested via IPC",
		logging.String(logging.FieldEventType, "ipc_fire"),
		logging.Int("fired", fired))
	return nil
}

func (s *service) Suspend(req SuspendRequest, resp *SuspendResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("suspend requires at least one id")
	}
	var errs []error
	for _, id := range req.IDs {
		requested, err := s.daemon.Suspend(s.ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %d: %w", id, err))
		}
		if requested {
			resp.Requested = append(resp.Requested, id)
		} else if err == nil {
			resp.Pending = append(resp.Pending, id)
		}
	}
	s.logger.Info("suspension requested via IPC",
		logging.String(logging.FieldEventType, "ipc_suspend"),
		logging.Int("requested_count", len(resp.Requested)))
	return errors.Join(errs...)
}

func (s *service) Resume(req ResumeRequest, resp *ResumeResponse) error {
	updated, err := s.daemon.Resume(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	s.logger.Info("tasks resumed via IPC",
		logging.String(logging.FieldEventType, "ipc_resume"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) TaskAdd(req TaskAddRequest, resp *TaskAddResponse) error {
	task, err := s.daemon.AddTask(s.ctx, req.Kind, req.Payload)
	if err != nil {
		return err
	}
	resp.Task = s.task(task)
	return nil
}

func (s *service) TaskList(req TaskListRequest, resp *TaskListResponse) error {
	statuses, err := ParseStatuses(req.Statuses)
	if err != nil {
		return err
	}
	tasks, err := s.daemon.ListTasks(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Tasks = make([]Task, 0, len(tasks))
	for _, task := range tasks {
		if task != nil {
			resp.Tasks = append(resp.Tasks, s.task(task))
		}
	}
	return nil
}

func (s *service) TaskShow(req TaskShowRequest, resp *TaskShowResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid task id %d", req.ID)
	}
	task, err := s.daemon.GetTask(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", req.ID)
	}
	resp.Task = s.task(task)
	if ch, ok := s.daemon.Chain(task.Kind); ok {
		for _, stage := range ch.Stages() {
			resp.Stages = append(resp.Stages, stage.Completed())
		}
	}
	return nil
}

func (s *service) TaskRemove(req TaskRemoveRequest, resp *TaskRemoveResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("remove requires at least one id")
	}
	for _, id := range req.IDs {
		removed, err := s.daemon.RemoveTask(s.ctx, id)
		if err != nil {
			return fmt.Errorf("task %d: %w", id, err)
		}
		if removed {
			resp.Removed++
		}
	}
	s.logger.Info("tasks removed via IPC",
		logging.String(logging.FieldEventType, "ipc_remove"),
		logging.Int64("removed_count", resp.Removed))
	return nil
}

// ParseStatuses converts status names, rejecting unknown values.
func ParseStatuses(values []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(values))
	for _, value := range values {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, parsed)
	}
	return statuses, nil
}
