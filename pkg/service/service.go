// Package service implements the service surface (C9): the four
// remote operations (StartTask, StopTask, QueryTask,
// TaskOutputStream) adapted onto the task registry, the isolation
// engine, and the fan-out log. It is the thinnest layer that still
// belongs to the core — the wire codec and the transport bootstrap
// that call into it live in cmd/rrockerd instead.
package service

import (
	"bufio"
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rrockerd/rrockerd/pkg/auth"
	"github.com/rrockerd/rrockerd/pkg/fanout"
	"github.com/rrockerd/rrockerd/pkg/isolate"
	"github.com/rrockerd/rrockerd/pkg/log"
	"github.com/rrockerd/rrockerd/pkg/metrics"
	"github.com/rrockerd/rrockerd/pkg/registry"
)

// stopGracePeriod bounds how long StopTask waits after SIGTERM before
// escalating to SIGKILL. The escalation ladder itself is an explicit
// extension point per spec.md §9; this is one reasonable choice.
const stopGracePeriod = 5 * time.Second

// Config is the subset of daemon configuration the service surface
// needs to spawn isolated tasks.
type Config struct {
	RootDir      string
	MountCgroup2 bool
}

// Service adapts the registry to the four remote operations.
type Service struct {
	reg *registry.Registry
	cfg Config

	mu      sync.Mutex
	running map[uuid.UUID]*isolate.Result
}

// New returns an empty service with its own registry.
func New(cfg Config) *Service {
	return &Service{
		reg:     registry.New(),
		cfg:     cfg,
		running: make(map[uuid.UUID]*isolate.Result),
	}
}

// Registry exposes the task registry backing this service, for callers
// outside the RPC surface — currently just the metrics collector, which
// polls task counts on its own schedule.
func (s *Service) Registry() *registry.Registry {
	return s.reg
}

// StartTaskRequest is the Go-level shape of StartTaskRequest (§6).
type StartTaskRequest struct {
	Cmd  string
	Args []string
}

// TaskHandle is the Go-level shape of TaskHandle (§6).
type TaskHandle struct {
	UUID string
}

// StartTaskReply is the Go-level shape of StartTaskReply (§6).
type StartTaskReply struct {
	Handle TaskHandle
}

// StartTask admits a start request, creates a Task, and asynchronously
// launches the isolated process whose output feeds the task's log.
// StartTask itself returns as soon as the handle exists; it does not
// wait for the child to finish (or even to start).
func (s *Service) StartTask(ctx context.Context, req StartTaskRequest) (StartTaskReply, error) {
	a, ok := auth.FromContext(ctx)
	if !ok {
		return StartTaskReply{}, status.Error(codes.Internal, "Missing ClientAuth extension")
	}

	task := s.reg.Create(a, req.Cmd, req.Args)
	log.WithTaskID(task.Handle.String()).Info().
		Str("principal", a.ID).Str("cmd", req.Cmd).Msg("task admitted")

	go s.run(task, req.Cmd, req.Args)

	return StartTaskReply{Handle: TaskHandle{UUID: task.Handle.String()}}, nil
}

// run drives one task's whole isolated-process lifecycle: spawn,
// stream output into the fan-out log, wait, record the exit state.
// It owns no lock the registry or the log need, so it never blocks
// either structure's other operations.
func (s *Service) run(task *registry.Task, cmd string, args []string) {
	timer := metrics.NewTimer()

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		s.fail(task, err)
		return
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		s.fail(task, err)
		return
	}

	env, err := execArgsEnv(cmd, args)
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		s.fail(task, err)
		return
	}

	res, err := isolate.Spawn(context.Background(), isolate.SpawnOptions{
		ThunkName:    execThunkName,
		RootDir:      s.cfg.RootDir,
		MountCgroup2: s.cfg.MountCgroup2,
		Stdout:       stdoutW,
		Stderr:       stderrW,
		ExtraEnv:     env,
	})

	// The parent's own copies of the write ends must close regardless
	// of outcome, or the read ends never see EOF.
	stdoutW.Close()
	stderrW.Close()

	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		s.fail(task, err)
		return
	}

	task.SetPID(res.PID())
	timer.ObserveDuration(metrics.TaskStartDuration)
	s.mu.Lock()
	s.running[task.Handle] = res
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(&wg, stdoutR, task.Writer, fanout.Stdout)
	go pumpLines(&wg, stderrR, task.Writer, fanout.Stderr)

	value, recvErr := res.Recv()
	waitErr := res.Wait()
	wg.Wait()

	task.Writer.Close()

	s.mu.Lock()
	delete(s.running, task.Handle)
	s.mu.Unlock()

	switch {
	case recvErr != nil:
		log.WithTaskID(task.Handle.String()).Error().Err(recvErr).Msg("isolated task reported a failure")
		task.SetExit(registry.Failed, -1)
		metrics.TasksTotal.WithLabelValues("failed").Inc()
	case waitErr != nil:
		log.WithTaskID(task.Handle.String()).Error().Err(waitErr).Msg("isolated task exited abnormally")
		task.SetExit(registry.Failed, -1)
		metrics.TasksTotal.WithLabelValues("failed").Inc()
	default:
		result, ok := value.(execResult)
		if !ok {
			task.SetExit(registry.Failed, -1)
			metrics.TasksTotal.WithLabelValues("failed").Inc()
			return
		}
		st := registry.Exited
		if result.Code != 0 {
			st = registry.Failed
		}
		task.SetExit(st, result.Code)
		metrics.TasksTotal.WithLabelValues(statusString(st)).Inc()
	}
}

func (s *Service) fail(task *registry.Task, err error) {
	log.WithTaskID(task.Handle.String()).Error().Err(err).Msg("failed to start isolated task")
	task.SetExit(registry.Failed, -1)
	task.Writer.Close()
	metrics.TasksTotal.WithLabelValues("failed").Inc()
}

// pumpLines copies line-delimited output from r into w, tagged with
// stream, until r reaches EOF (the child side of the pipe closed,
// which happens when the isolated process exits).
func pumpLines(wg *sync.WaitGroup, r *os.File, w *fanout.Writer, stream fanout.Stream) {
	defer wg.Done()
	defer r.Close()

	label := streamString(stream)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		w.Write(fanout.Chunk{Line: scanner.Text() + "\n", Stream: stream})
		metrics.FanoutChunksWritten.WithLabelValues(label).Inc()
	}
}

func streamString(s fanout.Stream) string {
	if s == fanout.Stderr {
		return "stderr"
	}
	return "stdout"
}

func statusString(s registry.Status) string {
	switch s {
	case registry.Exited:
		return "exited"
	case registry.Failed:
		return "failed"
	default:
		return "running"
	}
}

func parseHandle(uuidStr string) (uuid.UUID, error) {
	h, err := uuid.Parse(uuidStr)
	if err != nil {
		return uuid.UUID{}, status.Error(codes.InvalidArgument, "TaskHandle.uuid is not a valid UUIDv4")
	}
	return h, nil
}

func (s *Service) lookup(ctx context.Context, uuidStr string) (registry.ClientAuth, *registry.Task, error) {
	a, ok := auth.FromContext(ctx)
	if !ok {
		return registry.ClientAuth{}, nil, status.Error(codes.Internal, "Missing ClientAuth extension")
	}
	handle, err := parseHandle(uuidStr)
	if err != nil {
		return registry.ClientAuth{}, nil, err
	}
	task, err := s.reg.Lookup(a, handle)
	if err != nil {
		return registry.ClientAuth{}, nil, status.Error(codes.InvalidArgument, "Invalid task handle")
	}
	return a, task, nil
}

// StopTask validates handle, then signals the underlying process.
// Signal escalation (SIGTERM, then SIGKILL after a grace period if
// still running) is this implementation's choice of an explicitly
// unspecified extension point (spec.md §9).
func (s *Service) StopTask(ctx context.Context, handle TaskHandle) error {
	_, task, err := s.lookup(ctx, handle.UUID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	res, ok := s.running[task.Handle]
	s.mu.Unlock()

	if ok {
		_ = res.Signal(syscall.SIGTERM)
		go func() {
			time.Sleep(stopGracePeriod)
			s.mu.Lock()
			stillRunning := s.running[task.Handle] == res
			s.mu.Unlock()
			if stillRunning {
				_ = res.Signal(syscall.SIGKILL)
			}
		}()
	}

	s.reg.Remove(task.Handle)
	return nil
}

// QueryTaskReply is the Go-level shape of QueryTaskReply (§6).
type QueryTaskReply struct {
	Status string
	Code   int32
}

// QueryTask returns the task's last-known state.
func (s *Service) QueryTask(ctx context.Context, handle TaskHandle) (QueryTaskReply, error) {
	_, task, err := s.lookup(ctx, handle.UUID)
	if err != nil {
		return QueryTaskReply{}, err
	}
	st, code := task.Snapshot()
	return QueryTaskReply{Status: statusString(st), Code: int32(code)}, nil
}
