package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/gosuri/uiprogress"
)

// Feedback receives progress of a run.
type Feedback interface {
	Stage(ctx context.Context, s Stage)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
}

// LogFeedback reports through a structured logger.
type LogFeedback struct {
	Log *slog.Logger
}

func (f LogFeedback) logger() *slog.Logger {
	if f.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.Log
}

func (f LogFeedback) Stage(ctx context.Context, s Stage) {
	f.logger().InfoContext(ctx, "stage reached", "state", s.String())
}

func (f LogFeedback) Info(ctx context.Context, msg string, args ...any) {
	f.logger().InfoContext(ctx, msg, args...)
}

func (f LogFeedback) Warn(ctx context.Context, msg string, args ...any) {
	f.logger().WarnContext(ctx, msg, args...)
}

// ProgressFeedback draws a terminal progress bar over the run's stages and
// forwards messages to Next.
type ProgressFeedback struct {
	Next Feedback

	progress *uiprogress.Progress
	bar      *uiprogress.Bar
	current  atomic.Int32
}

func NewProgressFeedback(out io.Writer, next Feedback) *ProgressFeedback {
	if next == nil {
		next = LogFeedback{}
	}
	f := &ProgressFeedback{Next: next, progress: uiprogress.New()}
	f.progress.SetOut(out)
	f.bar = f.progress.AddBar(int(StageDone)).AppendCompleted().PrependElapsed()
	f.bar.PrependFunc(func(*uiprogress.Bar) string {
		return padStage(Stage(f.current.Load()).String())
	})
	return f
}

func padStage(s string) string {
	const w = 10
	for len(s) < w {
		s += " "
	}
	return s
}

func (f *ProgressFeedback) Start() { f.progress.Start() }
func (f *ProgressFeedback) Stop()  { f.progress.Stop() }

func (f *ProgressFeedback) Stage(ctx context.Context, s Stage) {
	f.current.Store(int32(s))
	_ = f.bar.Set(int(s))
	f.Next.Stage(ctx, s)
}

func (f *ProgressFeedback) Info(ctx context.Context, msg string, args ...any) {
	f.Next.Info(ctx, msg, args...)
}

func (f *ProgressFeedback) Warn(ctx context.Context, msg string, args ...any) {
	f.Next.Warn(ctx, msg, args...)
}
