package handlers

import (
	"context"
	"time"

	"cleanconvert/internal/batch"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/formats"
	"cleanconvert/internal/history"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/memory"
	"cleanconvert/internal/startup"
)

// CapabilityReporter lists the output formats available in this process.
type CapabilityReporter interface {
	Capabilities() formats.Capabilities
}

// RejectionObserver counts files turned away at intake.
type RejectionObserver interface {
	ObserveRejection(code errs.Code)
}

// Deps are the collaborators the HTTP surface serves. History, Memory and
// Rejections are optional.
type Deps struct {
	Batch      *batch.Batch
	Engine     CapabilityReporter
	Registry   *lifecycle.Registry
	History    *history.Store
	Memory     *memory.Monitor
	Rejections RejectionObserver
	Config     *startup.Config
	Logger     *logging.Logger
	// BaseContext outlives single requests and bounds asynchronous
	// processing passes. Defaults to context.Background.
	BaseContext context.Context
}

// Handlers serves the single batch of this server process.
type Handlers struct {
	batch      *batch.Batch
	engine     CapabilityReporter
	registry   *lifecycle.Registry
	history    *history.Store
	memory     *memory.Monitor
	rejections RejectionObserver
	cfg        *startup.Config
	log        *logging.Logger
	baseCtx    context.Context
	started    time.Time
}

// New creates the handler set.
func New(d Deps) *Handlers {
	cfg := d.Config
	if cfg == nil {
		cfg = startup.Defaults()
	}
	ctx := d.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handlers{
		batch:      d.Batch,
		engine:     d.Engine,
		registry:   d.Registry,
		history:    d.History,
		memory:     d.Memory,
		rejections: d.Rejections,
		cfg:        cfg,
		log:        logging.OrDefault(d.Logger).With("handlers:"),
		baseCtx:    ctx,
		started:    time.Now(),
	}
}
