// Package bridge moves initialization code from the host into the page.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ElLumy/chameleon/internal/chameleon/bootstrap"
	"github.com/ElLumy/chameleon/internal/chameleon/waitfor"
)

// ErrNoRoot is returned by documents asked to attach a node before the root exists.
var ErrNoRoot = errors.New("document root does not exist")

var carrierSeq atomic.Uint64

// Script is the transient carrier element holding injected code.
type Script struct {
	ID   string
	Name string
	Code string
}

// Document is the slice of the page's document tree the bridge needs.
type Document interface {
	// HasRoot reports whether the root node exists.
	HasRoot() bool
	// Observe calls notify after every structural change until detached.
	Observe(notify func()) (detach func())
	// Append attaches the carrier under the root. Attaching schedules the
	// carrier's code to run in the page; it does not wait for it.
	Append(s *Script) error
	// Remove detaches the carrier.
	Remove(s *Script) error
}

// Bridge injects payloads into one document.
type Bridge struct {
	doc    Document
	logger *zap.Logger
}

// New creates a bridge for doc.
func New(doc Document, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{doc: doc, logger: logger.Named("bridge")}
}

// Inject transfers payload into the page. When the root already exists the
// carrier is appended and removed immediately. Otherwise a one-shot watcher
// waits for the root, injects once, and detaches. Cancelling ctx detaches a
// watcher that has not fired yet.
//
// Errors raised on the deferred path are logged, not returned.
func (b *Bridge) Inject(ctx context.Context, payload bootstrap.Payload) error {
	if payload.Script == "" {
		return errors.New("bridge: empty payload")
	}
	s := &Script{
		ID:   fmt.Sprintf("carrier-%d", carrierSeq.Add(1)),
		Name: payload.Name,
		Code: payload.Script,
	}

	var immediateErr error
	pending := waitfor.Once(ctx, b.doc.HasRoot, b.doc.Observe, func() {
		if err := b.place(s); err != nil {
			immediateErr = err
			b.logger.Error("Injection failed", zap.String("carrier", s.ID), zap.Error(err))
		}
	})
	if pending {
		b.logger.Debug("Document root missing, waiting for it before injecting", zap.String("carrier", s.ID))
		return nil
	}
	return immediateErr
}

// place appends the carrier and removes it again so no marker stays in the tree.
func (b *Bridge) place(s *Script) error {
	if err := b.doc.Append(s); err != nil {
		return fmt.Errorf("bridge: append carrier: %w", err)
	}
	if err := b.doc.Remove(s); err != nil {
		return fmt.Errorf("bridge: remove carrier: %w", err)
	}
	b.logger.Debug("Payload injected", zap.String("carrier", s.ID), zap.Int("bytes", len(s.Code)))
	return nil
}
