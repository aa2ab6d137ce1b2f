package joku

import (
	"context"
	"fmt"
	"time"

	"github.com/lmittmann/tint"
)

// rotatorTask is the handle for the single background status rotator.
// At most one is active; starting a new one cancels and drains the
// previous one first.
type rotatorTask struct {
	cancel context.CancelFunc
	done   chan error
}

// startRotator cancels any prior rotator, drains its result (logging, never
// propagating, whatever it raised), then starts a fresh task cycling the
// configured status strings.
func (b *Bot) startRotator(ctx context.Context) {
	b.stopRotator(ctx)

	taskCtx, cancel := context.WithCancel(ctx)
	task := &rotatorTask{
		cancel: cancel,
		done:   make(chan error, 1),
	}
	b.rotatorMu.Lock()
	b.rotator = task
	b.rotatorMu.Unlock()

	go func() {
		task.done <- b.rotateGameText(taskCtx)
	}()
}

// stopRotator cancels the active rotator, if any, and waits for it to
// finish. Errors it returned are swallowed and logged - cancellation is
// the expected steady-state shutdown path, not a failure.
func (b *Bot) stopRotator(_ context.Context) {
	b.rotatorMu.Lock()
	task := b.rotator
	b.rotator = nil
	b.rotatorMu.Unlock()

	if task == nil {
		return
	}
	task.cancel()
	if err := <-task.done; err != nil {
		b.logger.Error("rotator task failed", tint.Err(err))
	}
}

// rotateGameText cycles through the configured game rotation forever,
// requesting a presence update then sleeping for the rotator interval.
// An empty rotation idles until cancelled. Cancellation returns nil.
func (b *Bot) rotateGameText(ctx context.Context) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			err = fmt.Errorf("rotator panic: %v", rc)
		}
	}()

	rotation := b.config.GameRotation
	if len(rotation) == 0 {
		<-ctx.Done()
		return nil
	}

	for i := 0; ; i++ {
		name := rotation[i%len(rotation)]
		if updateErr := b.session().UpdateGameStatus(0, name); updateErr != nil {
			b.logger.Warn("failed to update presence", tint.Err(updateErr))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.rotatorInterval):
		}
	}
}
