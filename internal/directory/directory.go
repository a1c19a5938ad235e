package directory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/ptconnect/internal/core"
)

// API is the part of the REST API the directory consumes
type API interface {
	Trainers(ctx context.Context) ([]core.Trainer, error)
	MyConnections(ctx context.Context) ([]core.Connection, error)
	TrainerConnections(ctx context.Context) ([]core.Connection, error)
	RequestConnection(ctx context.Context, trainerID string) error
	AcceptConnection(ctx context.Context, id core.ConnectionID) error
	CancelConnection(ctx context.Context, id core.ConnectionID) error
}

// Snapshot is an immutable view of the directory
type Snapshot struct {
	Connections []core.Connection
	Trainers    []core.Trainer
	Active      core.ConnectionID
}

// Directory keeps the connections of the signed-in user.
// All writes go through its own operations; readers get copies.
type Directory struct {
	api  API
	role core.Role

	lock        sync.RWMutex
	connections []core.Connection
	trainers    []core.Trainer
	active      core.ConnectionID

	listenersLock sync.Mutex
	listeners     []func(Snapshot)
}

func New(api API, role core.Role) *Directory {
	return &Directory{
		api:  api,
		role: role,
	}
}

func (d *Directory) Role() core.Role {
	return d.role
}

// OnChange registers a callback fired after every list or selection change
func (d *Directory) OnChange(fn func(Snapshot)) {
	d.listenersLock.Lock()
	defer d.listenersLock.Unlock()

	d.listeners = append(d.listeners, fn)
}

// Load refreshes the list. Failures keep the previous state.
func (d *Directory) Load(ctx context.Context) {
	logger := log.With().Str("service", "directory").Str("role", string(d.role)).Logger()

	var (
		conns    []core.Connection
		trainers []core.Trainer
		err      error
	)

	if d.role.IsTrainer() {
		conns, err = d.api.TrainerConnections(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("load trainer connections")
			return
		}
	} else {
		trainers, err = d.api.Trainers(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("load trainers")
			return
		}
		conns, err = d.api.MyConnections(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("load connections")
			return
		}
	}

	d.lock.Lock()
	d.connections = conns
	if !d.role.IsTrainer() {
		d.trainers = trainers
	}
	if _, ok := d.find(d.active); !ok {
		d.active = ""
	}
	if d.active == "" && len(conns) > 0 {
		d.active = conns[0].ID
	}
	d.lock.Unlock()

	d.notify()
}

// RequestConnect asks a trainer for a connection unless one is already pending or active
func (d *Directory) RequestConnect(ctx context.Context, trainerID string) {
	if d.role.IsTrainer() {
		return
	}

	d.lock.RLock()
	for _, c := range d.connections {
		if c.Trainer.ID == trainerID && c.Status.IsOpen() {
			d.lock.RUnlock()
			return
		}
	}
	d.lock.RUnlock()

	if err := d.api.RequestConnection(ctx, trainerID); err != nil {
		log.Warn().Err(err).Str("service", "directory").Str("trainerID", trainerID).Msg("request connection")
		return
	}

	d.Load(ctx)
}

// Accept is available to trainers only
func (d *Directory) Accept(ctx context.Context, id core.ConnectionID) {
	if !d.role.IsTrainer() {
		return
	}

	if err := d.api.AcceptConnection(ctx, id); err != nil {
		log.Warn().Err(err).Str("service", "directory").Str("connectionID", string(id)).Msg("accept connection")
		return
	}

	d.Load(ctx)
}

// Decline cancels a connection. Trainers decline requests, clients cancel them.
func (d *Directory) Decline(ctx context.Context, id core.ConnectionID) {
	if err := d.api.CancelConnection(ctx, id); err != nil {
		log.Warn().Err(err).Str("service", "directory").Str("connectionID", string(id)).Msg("cancel connection")
		return
	}

	d.Load(ctx)
}

// Select makes a known connection active
func (d *Directory) Select(id core.ConnectionID) bool {
	d.lock.Lock()
	if _, ok := d.find(id); !ok {
		d.lock.Unlock()
		return false
	}
	changed := d.active != id
	d.active = id
	d.lock.Unlock()

	if changed {
		d.notify()
	}
	return true
}

// Active returns the selected connection if it is still listed
func (d *Directory) Active() (core.Connection, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if d.active == "" {
		return core.Connection{}, false
	}
	return d.find(d.active)
}

func (d *Directory) Get(id core.ConnectionID) (core.Connection, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.find(id)
}

func (d *Directory) Snapshot() Snapshot {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.snapshot()
}

func (d *Directory) snapshot() Snapshot {
	return Snapshot{
		Connections: append([]core.Connection(nil), d.connections...),
		Trainers:    append([]core.Trainer(nil), d.trainers...),
		Active:      d.active,
	}
}

func (d *Directory) find(id core.ConnectionID) (core.Connection, bool) {
	for _, c := range d.connections {
		if c.ID == id {
			return c, true
		}
	}
	return core.Connection{}, false
}

func (d *Directory) notify() {
	snapshot := d.Snapshot()

	d.listenersLock.Lock()
	listeners := append(([]func(Snapshot))(nil), d.listeners...)
	d.listenersLock.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
