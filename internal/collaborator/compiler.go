package collaborator

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/joeycumines/ctf-arena/internal/apperror"
	"github.com/joeycumines/ctf-arena/internal/langs"
)

// Compiler invokes the compiler collaborator (spec.md §4.4, §6) for one
// CompileJob.
type Compiler struct {
	cli   *client.Client
	image string
}

// NewCompiler wraps an existing Docker client, targeting image (the
// COMPILER_IMAGE configuration value).
func NewCompiler(cli *client.Client, image string) *Compiler {
	return &Compiler{cli: cli, image: image}
}

// CompileRequest is the per-invocation input to Compiler.Compile.
type CompileRequest struct {
	SourceCode    string
	Language      langs.Tag
	Optimization  string
	Flags         map[string]string
	MemoryLimitMB int
	TimeoutSec    int
}

// CompileOutcome is what Compiler.Compile extracts from a successful run.
// Compiler version and flags files are best-effort (spec.md §4.4 step 5).
type CompileOutcome struct {
	Binary          []byte
	CompilerVersion string
	CompileFlagsRaw []byte
	Stdout          string
	Stderr          string
	ExitCode        int
}

// Compile runs the compiler image against req. Network is intentionally
// left enabled (spec.md §4.4 step 3: "package managers may be required");
// only the execute sandbox isolates network access.
func (c *Compiler) Compile(ctx context.Context, req CompileRequest) (CompileOutcome, error) {
	desc, ok := langs.Lookup(req.Language)
	if !ok {
		return CompileOutcome{}, apperror.Validation(`unsupported language %q`, req.Language)
	}

	timeout := req.TimeoutSec
	if timeout <= 0 {
		timeout = 120
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	memMB := req.MemoryLimitMB
	if memMB <= 0 {
		memMB = 512
	}
	memBytes := int64(memMB) * 1024 * 1024

	sourceFile := `source.` + desc.Extension
	env := append([]string{
		`LANGUAGE=` + string(req.Language),
		`OPTIMIZATION=` + req.Optimization,
		`SOURCE_FILE=` + sourceFile,
		`OUTPUT_FILE=output`,
	}, mustFlagsToEnv(req.Flags)...)

	created, err := c.cli.ContainerCreate(runCtx, &container.Config{
		Image:        c.image,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	}, &container.HostConfig{
		Resources: container.Resources{Memory: memBytes, MemorySwap: memBytes},
	}, nil, nil, ``)
	if err != nil {
		return CompileOutcome{}, apperror.Wrap(apperror.KindInternal, `create compiler container`, err)
	}
	defer func() { _ = c.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true}) }()

	if err := c.cli.CopyToContainer(runCtx, created.ID, `/work`, sourceTar(sourceFile, req.SourceCode), container.CopyToContainerOptions{}); err != nil {
		return CompileOutcome{}, apperror.Wrap(apperror.KindInternal, `copy source into compiler container`, err)
	}

	if err := c.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return CompileOutcome{}, apperror.Wrap(apperror.KindInternal, `start compiler container`, err)
	}

	waitCh, errCh := c.cli.ContainerWait(runCtx, created.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case <-runCtx.Done():
		return CompileOutcome{}, apperror.Timeout(`compile exceeded %ds`, timeout)
	case err := <-errCh:
		if err != nil {
			return CompileOutcome{}, apperror.Wrap(apperror.KindInternal, `wait for compiler container`, err)
		}
	case status := <-waitCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := c.containerLogs(context.Background(), created.ID)
	if err != nil {
		return CompileOutcome{}, apperror.Wrap(apperror.KindInternal, `fetch compiler logs`, err)
	}

	outcome := CompileOutcome{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	if exitCode != 0 {
		return outcome, apperror.CompileError(`compiler exited %d: %s`, exitCode, stderr)
	}

	binary, err := c.copyFileFromContainer(context.Background(), created.ID, `/work/output`)
	if err != nil {
		return outcome, apperror.CompileError(`compiler reported success but did not produce /work/output: %v`, err)
	}
	if len(binary) == 0 {
		return outcome, apperror.CompileError(`compiler produced an empty binary`)
	}
	outcome.Binary = binary

	if version, err := c.copyFileFromContainer(context.Background(), created.ID, `/work/compiler_version.txt`); err == nil {
		outcome.CompilerVersion = string(bytes.TrimSpace(version))
	}
	if flags, err := c.copyFileFromContainer(context.Background(), created.ID, `/work/compile_flags.json`); err == nil {
		outcome.CompileFlagsRaw = flags
	}

	return outcome, nil
}

func (c *Compiler) containerLogs(ctx context.Context, id string) (stdout, stderr string, err error) {
	logs, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return ``, ``, err
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logs); err != nil && err != io.EOF {
		return ``, ``, err
	}
	return outBuf.String(), errBuf.String(), nil
}

func (c *Compiler) copyFileFromContainer(ctx context.Context, id, path string) ([]byte, error) {
	reader, _, err := c.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return nil, err
	}
	return io.ReadAll(tr)
}

func sourceTar(name, content string) io.Reader {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))})
	_, _ = tw.Write([]byte(content))
	_ = tw.Close()
	return &buf
}

func mustFlagsToEnv(flags map[string]string) []string {
	env, err := flagsToEnv(flags)
	if err != nil {
		// flagsToEnv only fails if json.Marshal fails on a map[string]string,
		// which cannot happen.
		panic(fmt.Sprintf(`collaborator: unreachable flagsToEnv error: %v`, err))
	}
	return env
}
