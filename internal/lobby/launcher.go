package lobby

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/udisondev/gamehub/internal/bundle"
)

// ErrLaunchFail covers every failure between manifest lookup and a
// running child: no room is created when it is returned.
var ErrLaunchFail = errors.New("LAUNCH_FAIL")

const portAllocAttempts = 16

// Launcher spawns game-server children from uploaded bundles per the
// launch contract: the manifest's server_cmd argv prefix plus
// `--port <port> --token <token> --room-id <id>`, cwd set to the
// bundle's version directory.
type Launcher struct {
	storage  *bundle.Storage
	portMin  int
	portMax  int
	randPort func(min, max int) int
}

// NewLauncher creates a launcher allocating child ports from
// [portMin, portMax].
func NewLauncher(storage *bundle.Storage, portMin, portMax int) *Launcher {
	return &Launcher{
		storage: storage,
		portMin: portMin,
		portMax: portMax,
		randPort: func(min, max int) int {
			return min + rand.Intn(max-min+1)
		},
	}
}

// Process owns one spawned game-server child. Terminate signals it;
// the single Wait caller observes the exit.
type Process struct {
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
}

// Wait blocks until the child exits. Safe to call from multiple
// goroutines; all observe the same result.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Terminate asks the child to exit. Signalling an already-dead
// process is a no-op.
func (p *Process) Terminate() {
	if p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Debug("terminate signal failed", "pid", p.cmd.Process.Pid, "err", err)
	}
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Start launches the game server for (gameID, version) and returns
// the running child and its listening port. Every failure wraps
// ErrLaunchFail.
func (l *Launcher) Start(gameID, version, roomID, token string) (*Process, int, error) {
	versionDir := l.storage.VersionDir(gameID, version)

	manifest, err := bundle.LoadManifest(versionDir)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: loading manifest: %w", ErrLaunchFail, err)
	}
	if len(manifest.ServerCmd) == 0 {
		return nil, 0, fmt.Errorf("%w: manifest of %s %s has no server_cmd", ErrLaunchFail, gameID, version)
	}

	port, err := l.allocatePort()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrLaunchFail, err)
	}

	argv := append([]string(nil), manifest.ServerCmd...)
	argv = append(argv,
		"--port", strconv.Itoa(port),
		"--token", token,
		"--room-id", roomID,
	)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = versionDir

	slog.Info("launching game server", "game", gameID, "version", version, "room", roomID, "port", port, "argv", argv)

	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("%w: starting %q: %w", ErrLaunchFail, argv[0], err)
	}

	return &Process{cmd: cmd}, port, nil
}

// allocatePort picks a random port in the configured range and probes
// it with a throwaway listener. Collisions are retried a bounded
// number of times.
func (l *Launcher) allocatePort() (int, error) {
	for i := 0; i < portAllocAttempts; i++ {
		port := l.randPort(l.portMin, l.portMax)
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d after %d attempts", l.portMin, l.portMax, portAllocAttempts)
}
