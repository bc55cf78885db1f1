package session

import "context"

// Committer dispatches the reply of a completed job.
type Committer interface {
	Commit(ctx context.Context, transcript string, response string) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(ctx context.Context, transcript string, response string) error

func (f CommitFunc) Commit(ctx context.Context, transcript string, response string) error {
	return f(ctx, transcript, response)
}
