package fake

import (
	"context"
	"strings"
	"sync"

	"meshnet/internal/runner"
)

var _ runner.Runner = (*Runner)(nil)

// Response is one scripted outcome of a command.
type Response struct {
	Result runner.Result
	Err    error
}

// OK is a successful response with the given stdout.
func OK(stdout string) Response {
	return Response{Result: runner.Result{Stdout: stdout}}
}

// Exit is a response with a non-zero exit code.
func Exit(code int, stderr string) Response {
	return Response{Result: runner.Result{ExitCode: code, Stderr: stderr}}
}

type rule struct {
	prefix    string
	responses []Response
}

// Runner answers commands from a script keyed by command-line prefix.
// Unscripted commands succeed with empty output. When a rule has several
// responses they are consumed in order and the last one repeats.
type Runner struct {
	CallRecorder

	mu    sync.Mutex
	rules []*rule
	paths map[string]string
	// OnRun, when set, observes every command before it is answered.
	OnRun func(c runner.Cmd)
}

func NewRunner() *Runner {
	return &Runner{paths: make(map[string]string)}
}

// On scripts the responses for commands starting with prefix.
func (r *Runner) On(prefix string, responses ...Response) *Runner {
	r.mu.Lock()
	r.rules = append(r.rules, &rule{prefix: prefix, responses: responses})
	r.mu.Unlock()
	return r
}

// Install makes LookPath resolve each name to /usr/bin/<name>.
func (r *Runner) Install(names ...string) *Runner {
	r.mu.Lock()
	for _, n := range names {
		r.paths[n] = "/usr/bin/" + n
	}
	r.mu.Unlock()
	return r
}

// InstallAt makes LookPath resolve name to path.
func (r *Runner) InstallAt(name, path string) *Runner {
	r.mu.Lock()
	r.paths[name] = path
	r.mu.Unlock()
	return r
}

func (r *Runner) LookPath(name string) (string, error) {
	r.Record("LookPath", name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.paths[name]; ok {
		return p, nil
	}
	return "", runner.ErrNotFound
}

func (r *Runner) Run(_ context.Context, c runner.Cmd) (runner.Result, error) {
	line := c.String()
	r.Record("Run", line)
	if r.OnRun != nil {
		r.OnRun(c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var best *rule
	for _, rl := range r.rules {
		if strings.HasPrefix(line, rl.prefix) && (best == nil || len(rl.prefix) > len(best.prefix)) {
			best = rl
		}
	}
	if best == nil || len(best.responses) == 0 {
		return runner.Result{}, nil
	}
	resp := best.responses[0]
	if len(best.responses) > 1 {
		best.responses = best.responses[1:]
	}
	return resp.Result, resp.Err
}

// Commands returns every command line passed to Run, in order.
func (r *Runner) Commands() []string {
	calls := r.Calls("Run")
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Args[0].(string)
	}
	return out
}

// Count returns how many Run command lines start with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, line := range r.Commands() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
