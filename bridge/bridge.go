package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Default configuration values.
const (
	DefaultCallTimeout      = 60 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultStopGrace        = 5 * time.Second

	// protocolVersion is sent in the initialize handshake.
	protocolVersion = "2024-11-05"

	// catalogRetryDelay is the single bounded retry applied when the
	// first tools/list comes back empty.
	catalogRetryDelay = 500 * time.Millisecond
)

// Options configures a Bridge.
type Options struct {
	// ServerPath is an explicit path to a prebuilt tool-server binary.
	// When empty, resolution falls back to a project-local build output
	// and then the PATH (see resolveExecutable).
	ServerPath string

	// ServerArgs are extra launch arguments inserted before the
	// capability flags. Useful when the server runs under an interpreter
	// or a test harness.
	ServerArgs []string

	// CallTimeout bounds each outstanding request.
	// Default: 60s.
	CallTimeout time.Duration

	// HandshakeTimeout bounds the initialize exchange during Start.
	// Default: 10s.
	HandshakeTimeout time.Duration

	// StopGrace is how long Stop waits after SIGTERM before force-killing.
	// Default: 5s.
	StopGrace time.Duration

	// Framer overrides the wire framing. Default: LineFramer.
	Framer Framer

	// Logger is the structured logger for bridge events.
	// Default: logrus.StandardLogger().
	Logger logrus.FieldLogger

	// ClientName and ClientVersion identify this client in the
	// initialize handshake.
	ClientName    string
	ClientVersion string
}

func (o *Options) applyDefaults() {
	if o.CallTimeout == 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.StopGrace == 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.Framer == nil {
		o.Framer = LineFramer{}
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.ClientName == "" {
		o.ClientName = "terre-agent"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "dev"
	}
}

// ServerInfo is the identity the tool server reported during initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Status is a synchronous snapshot of the bridge.
type Status struct {
	Running     bool       `json:"running"`
	ProjectRoot string     `json:"projectRoot,omitempty"`
	Server      ServerInfo `json:"server,omitempty"`
	Tools       []string   `json:"tools,omitempty"`
}

// Bridge owns at most one tool-server child process and the request
// correlation state for it. A second Start always stops the first
// process before launching the new one.
type Bridge struct {
	opts Options
	log  logrus.FieldLogger

	// nextID allocates request ids, monotonically increasing across the
	// bridge's lifetime so a late response from a previous process can
	// never match a fresh request.
	nextID atomic.Int64

	mu        sync.Mutex
	proc      *serverProc
	tools     []ToolDescriptor
	root      string
	server    ServerInfo
	lastFlags Flags
}

// New creates a Bridge in the stopped state.
func New(opts Options) *Bridge {
	opts.applyDefaults()
	return &Bridge{opts: opts, log: opts.Logger}
}

// Start launches the tool server with rootDir as working directory and
// the capability flags as arguments. Any running instance is stopped
// first. The initialize handshake must succeed before Start returns;
// failure or timeout leaves the bridge stopped. The tool catalog is
// fetched after the handshake, with one bounded retry when it comes back
// empty.
func (b *Bridge) Start(ctx context.Context, rootDir string, flags Flags) error {
	b.Stop()

	exe, err := resolveExecutable(b.opts, rootDir)
	if err != nil {
		return err
	}

	args := append(append([]string{}, b.opts.ServerArgs...), flags.args()...)
	cmd := exec.Command(exe, args...)
	cmd.Dir = rootDir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrTerminated, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrTerminated, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrTerminated, exe, err)
	}

	proc := newServerProc(cmd, stdin, b.opts.Framer, b.log.WithField("component", "bridge"))
	go proc.readLoop(stdout)
	go func() {
		waitErr := cmd.Wait()
		proc.exited(waitErr)
		b.reap(proc)
	}()

	b.log.WithFields(logrus.Fields{"exe": exe, "root": rootDir}).Info("tool server started")

	info, err := b.handshake(ctx, proc)
	if err != nil {
		proc.terminate(b.opts.StopGrace)
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	tools, err := b.fetchCatalog(ctx, proc)
	if err != nil {
		proc.terminate(b.opts.StopGrace)
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	b.mu.Lock()
	b.proc = proc
	b.tools = tools
	b.root = rootDir
	b.server = info
	b.lastFlags = flags
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"server": info.Name, "version": info.Version, "tools": len(tools),
	}).Info("tool server ready")
	return nil
}

// Restart stops the current process and starts a fresh one against the
// same project root and capability flags.
func (b *Bridge) Restart(ctx context.Context) error {
	b.mu.Lock()
	root, flags := b.root, b.lastFlags
	b.mu.Unlock()
	if root == "" {
		return ErrNotRunning
	}
	return b.Start(ctx, root, flags)
}

// Stop tears down the running process: SIGTERM, a bounded grace period,
// then a force kill. All bridge state resets and every outstanding call
// fails with ErrTerminated. Stop on a stopped bridge is a no-op.
func (b *Bridge) Stop() {
	b.mu.Lock()
	proc := b.proc
	b.proc = nil
	b.tools = nil
	b.root = ""
	b.server = ServerInfo{}
	b.mu.Unlock()

	if proc == nil {
		return
	}
	proc.terminate(b.opts.StopGrace)
	b.log.Info("tool server stopped")
}

// reap clears bridge state when the child exits on its own.
func (b *Bridge) reap(proc *serverProc) {
	b.mu.Lock()
	if b.proc == proc {
		b.proc = nil
		b.tools = nil
		b.root = ""
		b.server = ServerInfo{}
		b.log.Warn("tool server exited")
	}
	b.mu.Unlock()
}

// Running reports whether a handshake-complete process is alive.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proc != nil
}

// ListTools returns the cached tool catalog.
func (b *Bridge) ListTools() []ToolDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ToolDescriptor, len(b.tools))
	copy(out, b.tools)
	return out
}

// Status returns a snapshot of the bridge state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{Running: b.proc != nil, ProjectRoot: b.root, Server: b.server}
	for _, t := range b.tools {
		st.Tools = append(st.Tools, t.Name)
	}
	return st
}

// Call issues one request to the running tool server and waits for its
// correlated response. Each call carries its own timeout; expiry fails
// only this call.
func (b *Bridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	proc := b.proc
	b.mu.Unlock()
	if proc == nil {
		return nil, ErrNotRunning
	}
	return proc.call(ctx, b.nextID.Add(1), method, params, b.opts.CallTimeout)
}

// CallTool invokes a named tool and unwraps the nested result envelope.
// An application-level error inside the payload is returned as a
// *ToolError; a payload that is not valid JSON comes back as raw text.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := b.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return unwrapToolResult(raw)
}

func (b *Bridge) handshake(ctx context.Context, proc *serverProc) (ServerInfo, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo": map[string]any{
			"name":    b.opts.ClientName,
			"version": b.opts.ClientVersion,
		},
	}
	raw, err := proc.call(ctx, b.nextID.Add(1), "initialize", params, b.opts.HandshakeTimeout)
	if err != nil {
		return ServerInfo{}, err
	}
	var result struct {
		ServerInfo ServerInfo `json:"serverInfo"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return ServerInfo{}, fmt.Errorf("malformed initialize result: %w", err)
	}
	return result.ServerInfo, nil
}

func (b *Bridge) fetchCatalog(ctx context.Context, proc *serverProc) ([]ToolDescriptor, error) {
	tools, err := b.listOnce(ctx, proc)
	if err != nil {
		return nil, err
	}
	if len(tools) == 0 {
		// Some servers register tools a beat after initialize.
		select {
		case <-time.After(catalogRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if tools, err = b.listOnce(ctx, proc); err != nil {
			return nil, err
		}
		if len(tools) == 0 {
			b.log.Warn("tool server reported an empty catalog")
		}
	}
	return tools, nil
}

func (b *Bridge) listOnce(ctx context.Context, proc *serverProc) ([]ToolDescriptor, error) {
	raw, err := proc.call(ctx, b.nextID.Add(1), "tools/list", map[string]any{}, b.opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []wireTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	out := make([]ToolDescriptor, 0, len(result.Tools))
	for _, w := range result.Tools {
		out = append(out, newDescriptor(w))
	}
	return out, nil
}

// request is one outbound JSON-RPC frame.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is one inbound JSON-RPC frame. A nil ID marks a notification.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// serverProc is one live child process with its correlation state. The
// pending table and inbound buffer belong exclusively to it; a new Start
// builds a fresh serverProc, so stale state can never leak across
// process generations.
type serverProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	framer Framer
	log    logrus.FieldLogger

	// wmu serializes frame writes. The blocking pipe write underneath is
	// the backpressure point: excess writers wait here, nothing is
	// dropped or queued without bound.
	wmu sync.Mutex

	pmu     sync.Mutex
	pending map[int64]chan callOutcome
	dead    bool
	deadErr error

	done chan struct{}
}

func newServerProc(cmd *exec.Cmd, stdin io.WriteCloser, framer Framer, log logrus.FieldLogger) *serverProc {
	return &serverProc{
		cmd:     cmd,
		stdin:   stdin,
		framer:  framer,
		log:     log,
		pending: make(map[int64]chan callOutcome),
		done:    make(chan struct{}),
	}
}

// call registers a pending entry, writes one frame, and waits for the
// correlated outcome. The entry is settled exactly once: by dispatch, by
// the timeout, or by process death.
func (p *serverProc) call(ctx context.Context, id int64, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	ch := make(chan callOutcome, 1)

	p.pmu.Lock()
	if p.dead {
		p.pmu.Unlock()
		return nil, p.deadErr
	}
	p.pending[id] = ch
	p.pmu.Unlock()

	frame, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		p.drop(id)
		return nil, fmt.Errorf("bridge: marshal %s request: %w", method, err)
	}
	if err := p.write(frame); err != nil {
		p.drop(id)
		return nil, fmt.Errorf("%w: write %s request: %v", ErrTerminated, method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-timer.C:
		if p.drop(id) {
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, method, timeout)
		}
		// The response raced the timer and is already buffered.
		out := <-ch
		return out.result, out.err
	case <-ctx.Done():
		if p.drop(id) {
			return nil, ctx.Err()
		}
		out := <-ch
		return out.result, out.err
	}
}

func (p *serverProc) write(frame []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_, err := p.stdin.Write(p.framer.Encode(frame))
	return err
}

// drop removes a pending entry, reporting whether it was still present.
func (p *serverProc) drop(id int64) bool {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	_, ok := p.pending[id]
	delete(p.pending, id)
	return ok
}

// readLoop accumulates inbound bytes, splits complete frames, and
// dispatches them in order. It ends when the child's stdout closes.
func (p *serverProc) readLoop(r io.Reader) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			var frames [][]byte
			frames, buf = p.framer.Split(buf)
			for _, f := range frames {
				p.dispatch(f)
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatch routes one inbound frame. Unparseable lines and unmatched ids
// are logged and dropped without affecting the bridge.
func (p *serverProc) dispatch(frame []byte) {
	var resp response
	if err := json.Unmarshal(frame, &resp); err != nil {
		p.log.WithError(err).Warn("dropping unparseable frame")
		return
	}
	if resp.ID == nil {
		if resp.Method != "" {
			p.log.WithField("method", resp.Method).Debug("ignoring server notification")
		} else {
			p.log.Warn("dropping frame without id")
		}
		return
	}

	id := *resp.ID
	p.pmu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.pmu.Unlock()
	if !ok {
		p.log.WithField("id", id).Debug("ignoring response with no pending request")
		return
	}

	if resp.Error != nil {
		ch <- callOutcome{err: resp.Error}
		return
	}
	ch <- callOutcome{result: resp.Result}
}

// exited marks the process dead and fails every outstanding call.
func (p *serverProc) exited(waitErr error) {
	err := ErrTerminated
	if waitErr != nil {
		err = fmt.Errorf("%w: %v", ErrTerminated, waitErr)
	}
	p.fail(err)
	close(p.done)
}

func (p *serverProc) fail(err error) {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	if p.dead {
		return
	}
	p.dead = true
	p.deadErr = err
	for id, ch := range p.pending {
		delete(p.pending, id)
		ch <- callOutcome{err: err}
	}
}

// terminate asks the process to exit, waits out the grace period, then
// force-kills. It returns once the process has fully exited.
func (p *serverProc) terminate(grace time.Duration) {
	if p.cmd == nil || p.cmd.Process == nil {
		p.fail(ErrTerminated)
		return
	}
	_ = p.stdin.Close()
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
	case <-time.After(grace):
		p.log.Warn("tool server ignored SIGTERM, killing")
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}
