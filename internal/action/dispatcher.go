// SPDX-License-Identifier: MIT

// Package action resolves a configured Action to its side effect
// (forwarding to the Upload Service or running a subprocess) and runs
// the enabled actions for one completion cycle.
package action

import (
	"context"
	"log/slog"
	"time"

	"github.com/qingrang/stream-rec/internal/model"
)

// Dispatcher runs the enabled actions for one end-of-session or
// parted-download cycle. Actions within a single Dispatch call run
// sequentially; independent Dispatch calls (different broadcasters,
// or a later cycle of the same one) are independent of each other.
type Dispatcher struct {
	Upload UploadService
	Logger *slog.Logger
}

// Dispatch runs every enabled action in actions against items, in
// order, waiting for each to complete before starting the next.
// Unknown action variants fail that action only; the remaining
// actions in the batch still run.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []model.Action, items []model.StreamData) {
	for _, a := range model.EnabledActions(actions) {
		if err := d.dispatchOne(ctx, a, items); err != nil && d.Logger != nil {
			d.Logger.Error("action dispatch failed", "kind", a.Kind, "error", err)
		}
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, a model.Action, items []model.StreamData) error {
	switch a.Kind {
	case model.ActionUpload:
		return d.dispatchUpload(ctx, a.Upload, items)
	case model.ActionCommand:
		return RunCommand(ctx, a.Command.Program, d.Logger)
	default:
		return &model.ErrUnsupportedAction{Kind: a.Kind}
	}
}

func (d *Dispatcher) dispatchUpload(ctx context.Context, cfg *model.UploadAction, items []model.StreamData) error {
	job := NewUploadJob(UploadConfig{RemotePath: cfg.RemotePath, ExtraArgs: cfg.ExtraArgs}, items, time.Now())
	return d.Upload.Submit(ctx, job)
}
