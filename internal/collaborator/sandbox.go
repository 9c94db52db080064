package collaborator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/model"
)

// Sandbox invokes the sandbox collaborator (spec.md §4.5, §6) for one
// ExecuteJob.
type Sandbox struct {
	cli   *client.Client
	image string
}

// NewSandbox wraps an existing Docker client, targeting image (the
// SANDBOX_IMAGE configuration value).
func NewSandbox(cli *client.Client, image string) *Sandbox {
	return &Sandbox{cli: cli, image: image}
}

// Request is the per-invocation input to Sandbox.Run.
type Request struct {
	BinaryPath       string // host path to the binary, mounted read-only at /work/binary
	InstructionLimit uint64
	Stdin            []byte
	EnvVars          map[string]string
	NetworkEnabled   bool
	MemoryLimitMB    int
	TimeoutSec       int
}

// Run executes req inside a fresh container per spec.md §4.5 steps 4-7:
// read-only root, tmpfs overlays for /tmp and /var, memory-capped, network
// disabled unless req.NetworkEnabled, LIMIT and env_vars passed through,
// stdin streamed in, stdout/stderr captured, wall-clock enforced
// independently of the instruction limit.
func (s *Sandbox) Run(ctx context.Context, req Request) (model.ExecutionResult, error) {
	timeout := req.TimeoutSec
	if timeout <= 0 {
		timeout = 30
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	memMB := req.MemoryLimitMB
	if memMB <= 0 {
		memMB = 256
	}
	memBytes := int64(memMB) * 1024 * 1024

	env := []string{fmt.Sprintf(`LIMIT=%d`, req.InstructionLimit)}
	for k, v := range req.EnvVars {
		env = append(env, k+`=`+v)
	}

	networkMode := container.NetworkMode(`none`)
	if req.NetworkEnabled {
		networkMode = container.NetworkMode(`bridge`)
	}

	created, err := s.cli.ContainerCreate(runCtx, &container.Config{
		Image:        s.image,
		Env:          env,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		StdinOnce:    true,
	}, &container.HostConfig{
		AutoRemove:     false,
		ReadonlyRootfs: true,
		NetworkMode:    networkMode,
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes,
		},
		Tmpfs: map[string]string{
			`/tmp`: `rw,exec,nosuid,size=64m`,
			`/var`: `rw,nosuid,size=16m`,
		},
		Binds: []string{req.BinaryPath + `:/work/binary:ro`},
	}, nil, nil, ``)
	if err != nil {
		return model.ExecutionResult{}, apperror.Wrap(apperror.KindInternal, `create sandbox container`, err)
	}
	defer func() { _ = s.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true}) }()

	attach, err := s.cli.ContainerAttach(runCtx, created.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return model.ExecutionResult{}, apperror.Wrap(apperror.KindInternal, `attach sandbox container`, err)
	}
	defer attach.Close()

	if err := s.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return model.ExecutionResult{}, apperror.Wrap(apperror.KindInternal, `start sandbox container`, err)
	}

	go func() {
		_, _ = attach.Conn.Write(req.Stdin)
		_ = attach.CloseWrite()
	}()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	waitCh, errCh := s.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case <-runCtx.Done():
		return model.ExecutionResult{}, apperror.Timeout(`sandbox exceeded %ds wall clock`, timeout)
	case err := <-errCh:
		if err != nil {
			return model.ExecutionResult{}, apperror.Wrap(apperror.KindInternal, `wait for sandbox container`, err)
		}
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	}
	<-copyDone

	stats, trimmedStderr := splitStatsLine(stderr.Bytes())

	return model.ExecutionResult{
		Instructions:     stats.Instructions,
		MemoryPeakKB:     stats.MemoryPeakKB,
		MemoryRSSKB:      uintOr(stats.MemoryRSSKB, 0),
		MemoryHWMKB:      uintOr(stats.MemoryHWMKB, 0),
		MemoryDataKB:     uintOr(stats.MemoryDataKB, 0),
		MemoryStackKB:    uintOr(stats.MemoryStackKB, 0),
		IOReadBytes:      uintOr(stats.IOReadBytes, 0),
		IOWriteBytes:     uintOr(stats.IOWriteBytes, 0),
		GuestMmapBytes:   uintOr(stats.GuestMmapBytes, 0),
		GuestMmapPeak:    uintOr(stats.GuestMmapPeak, 0),
		GuestHeapBytes:   uintOr(stats.GuestHeapBytes, 0),
		LimitReached:     stats.LimitReached,
		ExitCode:         exitCode,
		Stdout:           encodeBase64(stdout.Bytes()),
		Stderr:           encodeBase64(trimmedStderr),
		ExecutionTimeMs:  0, // set by the caller, which holds the wall-clock start time
		Syscalls:         uintOr(stats.Syscalls, 0),
		SyscallBreakdown: stats.SyscallBreakdown,
	}, nil
}
