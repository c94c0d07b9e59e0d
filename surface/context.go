// Package surface - Hardware contexts, images and surface pools on top of a VA driver.
//
// A Context owns a display connection (or borrows one), a video processing
// config and context, and optionally a bridge into an inference accelerator.
// Images are surfaces bound to a Context. Pools cache surfaces by
// (width, height, format) so the decoder and the consumer can trade surfaces
// without reallocating them.
package surface

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/va"
)

// Accelerator is an inference engine that can reference the surfaces of a
// Context directly.
type Accelerator interface {
	// ShareContext establishes the bridge for ctx. The returned SharedContext is
	// closed by ctx during teardown, so it must not hold a reference to ctx.
	ShareContext(ctx *Context) (SharedContext, error)
}

// SharedContext is the accelerator side of a bridge created by ShareContext.
type SharedContext interface {
	Close() error
}

// Option configures a Context.
type Option func(*contextOptions)

type contextOptions struct {
	log         *zap.SugaredLogger
	accelerator Accelerator
	poolOptions []PoolOption
}

// WithLogger sets the logger used for driver messages and teardown failures.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *contextOptions) {
		o.log = log
	}
}

// WithAccelerator bridges the context into acc as part of construction.
func WithAccelerator(acc Accelerator) Option {
	return func(o *contextOptions) {
		o.accelerator = acc
	}
}

// WithPoolOptions configures the pool returned by Context.Pool.
func WithPoolOptions(opts ...PoolOption) Option {
	return func(o *contextOptions) {
		o.poolOptions = append(o.poolOptions, opts...)
	}
}

// Context is a reference counted hardware context. It is torn down when the
// last reference is closed; every image created under it holds a reference.
type Context struct {
	driver      va.Driver
	display     va.Display
	config      va.ConfigID
	id          va.ContextID
	ownsDisplay bool
	log         *zap.SugaredLogger
	// handler is this context's registration among the display's message
	// handlers.
	handler va.HandlerID

	// procMu serializes picture submission on the processing context.
	procMu sync.Mutex

	mu          sync.Mutex
	refs        int
	shared      SharedContext
	pool        *Pool
	poolOptions []PoolOption
}

// NewContext opens a new display on driver and creates a processing context on
// it. The returned context owns the display and terminates it on teardown.
//
// Arguments:
//   - driver: The VA driver.
//   - opts: Logger, accelerator bridge and pool options.
//
// Returns:
//   - *Context: The context, holding one reference.
//   - error: A driver error if the display or processing context cannot be created.
func NewContext(driver va.Driver, opts ...Option) (*Context, error) {
	if driver == nil {
		return nil, invalidArgument("nil driver")
	}
	display, err := driver.OpenDisplay()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open display")
	}
	return newContext(driver, display, true, opts)
}

// FromDisplay wraps a display owned by the caller. The display is never
// terminated by the returned context.
func FromDisplay(driver va.Driver, display va.Display, opts ...Option) (*Context, error) {
	if driver == nil {
		return nil, invalidArgument("nil driver")
	}
	return newContext(driver, display, false, opts)
}

func resolveOptions(opts []Option) contextOptions {
	o := contextOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	return o
}

func newContext(driver va.Driver, display va.Display, owns bool, opts []Option) (*Context, error) {
	o := resolveOptions(opts)

	release := func() {
		if !owns {
			return
		}
		if err := driver.Terminate(display); err != nil {
			o.log.Errorw("failed to terminate display", "error", err)
		}
	}

	config, err := driver.CreateConfig(display)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "failed to create processing config")
	}
	id, err := driver.CreateContext(display, config)
	if err != nil {
		if derr := driver.DestroyConfig(display, config); derr != nil {
			o.log.Errorw("failed to destroy processing config", "error", derr)
		}
		release()
		return nil, errors.Wrap(err, "failed to create processing context")
	}

	ctx := &Context{
		driver:      driver,
		display:     display,
		config:      config,
		id:          id,
		ownsDisplay: owns,
		log:         o.log.With("driver", driver.Name(), "display", uintptr(display), "context", uint32(id)),
		refs:        1,
		poolOptions: o.poolOptions,
	}
	ctx.handler = driver.SetMessageHandler(display, messageLogger{log: ctx.log})

	if o.accelerator != nil {
		if err := ctx.CreateSharedContext(o.accelerator); err != nil {
			ctx.Close()
			return nil, err
		}
	}
	return ctx, nil
}

// messageLogger routes driver messages to the context's logger.
type messageLogger struct {
	log *zap.SugaredLogger
}

func (m messageLogger) DriverError(message string) {
	m.log.Errorw("VA driver error", "message", message)
}

func (m messageLogger) DriverInfo(message string) {
	m.log.Infow("VA driver info", "message", message)
}

// CreateSharedContext bridges the context into acc so that its surfaces can be
// bound as inference inputs. A second call on a bridged context is a no-op.
func (c *Context) CreateSharedContext(acc Accelerator) error {
	if acc == nil {
		return invalidArgument("nil accelerator")
	}

	c.mu.Lock()
	if c.refs <= 0 {
		c.mu.Unlock()
		return errors.Wrap(ErrClosed, "create shared context")
	}
	if c.shared != nil {
		c.mu.Unlock()
		c.log.Warnw("shared context already created, ignoring")
		return nil
	}
	c.mu.Unlock()

	shared, err := acc.ShareContext(c)
	if err != nil {
		return errors.Wrap(err, "failed to create shared context")
	}

	c.mu.Lock()
	c.shared = shared
	c.mu.Unlock()

	c.log.Infow("shared context created")
	return nil
}

// SharedContext returns the accelerator bridge, or nil.
func (c *Context) SharedContext() SharedContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shared
}

// Driver returns the driver the context issues calls on.
func (c *Context) Driver() va.Driver {
	return c.driver
}

// Display returns the display handle.
func (c *Context) Display() va.Display {
	return c.display
}

// ID returns the processing context id.
func (c *Context) ID() va.ContextID {
	return c.id
}

// OwnsDisplay reports whether teardown terminates the display.
func (c *Context) OwnsDisplay() bool {
	return c.ownsDisplay
}

// Logger returns the context's logger.
func (c *Context) Logger() *zap.SugaredLogger {
	return c.log
}

// Pool returns the surface pool of the context, creating it on first use.
func (c *Context) Pool() *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		opts := append([]PoolOption{WithPoolLogger(c.log)}, c.poolOptions...)
		c.pool = NewPool(c.driver, c.display, opts...)
	}
	return c.pool
}

// Retain adds a reference and returns the context.
func (c *Context) Retain() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
	return c
}

// References returns the current reference count.
func (c *Context) References() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// Close drops a reference. The last reference tears the context down in order:
// shared context, pool, processing context, config and, if owned, the display.
// Teardown failures are logged.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.refs <= 0 {
		c.mu.Unlock()
		return nil
	}
	c.refs--
	if c.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	shared, pool := c.shared, c.pool
	c.shared, c.pool = nil, nil
	c.mu.Unlock()

	if shared != nil {
		if err := shared.Close(); err != nil {
			c.log.Errorw("failed to close shared context", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}
	if err := c.driver.DestroyContext(c.display, c.id); err != nil {
		c.log.Errorw("failed to destroy processing context", "error", err)
	}
	if err := c.driver.DestroyConfig(c.display, c.config); err != nil {
		c.log.Errorw("failed to destroy processing config", "error", err)
	}
	c.driver.ClearMessageHandler(c.display, c.handler)
	if c.ownsDisplay {
		if err := c.driver.Terminate(c.display); err != nil {
			c.log.Errorw("failed to terminate display", "error", err)
		}
	}
	c.log.Debugw("context closed")
	return nil
}

// sameAs reports whether both contexts issue commands on the same display and
// processing context.
func (c *Context) sameAs(other *Context) bool {
	return c == other || (c.display == other.display && c.id == other.id)
}
