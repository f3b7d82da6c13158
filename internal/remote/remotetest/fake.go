// Package remotetest provides a scripted remote.Channel for tests.
package remotetest

import (
	"context"
	"strings"
	"sync"

	"github.com/jbweber/gridvm/internal/remote"
)

// Handler produces the result of one command execution.
type Handler func(cmd string) (string, error)

// Upload records a call to Upload.
type Upload struct {
	LocalPath  string
	RemotePath string
}

type rule struct {
	match   string
	handler Handler
}

// Fake is a remote.Channel whose responses are scripted by substring match.
// Rules are evaluated in registration order; the first rule whose match string
// is contained in the command wins. Unmatched commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	rules     []rule
	calls     []string
	uploads   []Upload
	uploadErr error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

// On registers a handler for commands containing match.
func (f *Fake) On(match string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, handler: h})
	return f
}

// FailUploads makes every subsequent Upload fail with err.
func (f *Fake) FailUploads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadErr = err
}

// Execute implements remote.Channel.
func (f *Fake) Execute(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	var h Handler
	for _, r := range f.rules {
		if strings.Contains(cmd, r.match) {
			h = r.handler
			break
		}
	}
	f.mu.Unlock()

	if h == nil {
		return "", nil
	}
	return h(cmd)
}

// Upload implements remote.Channel.
func (f *Fake) Upload(_ context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return &remote.TransferError{LocalPath: localPath, RemotePath: remotePath, Err: f.uploadErr}
	}
	f.uploads = append(f.uploads, Upload{LocalPath: localPath, RemotePath: remotePath})
	return nil
}

// Calls returns every executed command in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Uploads returns every successful upload in order.
func (f *Fake) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// CallsMatching returns the executed commands containing substr.
func (f *Fake) CallsMatching(substr string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Reply returns a handler that always prints out.
func Reply(out string) Handler {
	return func(string) (string, error) { return out, nil }
}

// Fail returns a handler that always exits with code and stderr.
func Fail(code int, stderr string) Handler {
	return func(cmd string) (string, error) {
		return "", &remote.CommandError{Command: cmd, ExitCode: code, Stderr: stderr}
	}
}

// Sequence returns a handler that plays hs in order and repeats the last one.
func Sequence(hs ...Handler) Handler {
	var (
		mu sync.Mutex
		i  int
	)
	return func(cmd string) (string, error) {
		mu.Lock()
		h := hs[i]
		if i < len(hs)-1 {
			i++
		}
		mu.Unlock()
		return h(cmd)
	}
}

// File simulates a small remote text file. Wire Read to `cat` commands,
// Write to `echo N > file` commands and Remove to `rm` commands.
type File struct {
	mu      sync.Mutex
	content string
	exists  bool
}

// NewFile returns a File with initial content.
func NewFile(content string) *File {
	return &File{content: content, exists: true}
}

// Read is a handler for commands that print the file.
func (f *File) Read(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return "", &remote.CommandError{Command: cmd, ExitCode: 1, Stderr: "No such file or directory"}
	}
	return f.content, nil
}

// Write is a handler for `echo <value> > <file>` commands.
func (f *File) Write(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fields := strings.Fields(cmd)
	if len(fields) >= 2 && fields[0] == "echo" {
		f.content = fields[1]
		f.exists = true
	}
	return "", nil
}

// Remove is a handler for commands that delete the file.
func (f *File) Remove(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = ""
	f.exists = false
	return "", nil
}

// Exists reports whether the file is present.
func (f *File) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

// Content returns the current file content.
func (f *File) Content() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}
