package api

import (
	"net/http"

	"github.com/starford/duet/internal/identity"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/notes"
	"github.com/starford/duet/internal/pairing"
	"github.com/starford/duet/internal/profiles"
	"github.com/starford/duet/internal/reconcile"
	"github.com/starford/duet/internal/reports"
	"github.com/starford/duet/internal/schedule"
	"github.com/starford/duet/internal/sse"
)

// Sessions starts and stops the background session of a principal.
type Sessions interface {
	Ensure(uid string)
	Stop(uid string)
}

// Services are the domain collaborators served by the API.
type Services struct {
	Identity   identity.Provider
	Profiles   *profiles.Service
	Pairing    *pairing.Service
	Reconciler *reconcile.Reconciler
	Notes      *notes.Service
	Reports    *reports.Service

	// Optional.
	Sessions Sessions
	Events   http.Handler
}

// Notifier forwards session observations to the event stream of the principal.
type Notifier struct {
	broker *sse.Broker
}

var _ reconcile.Events = (*Notifier)(nil)

// NewNotifier creates a notifier publishing to broker.
func NewNotifier(broker *sse.Broker) *Notifier {
	return &Notifier{broker: broker}
}

// PairChanged implements reconcile.Events.
func (n *Notifier) PairChanged(uid string, pair *models.Pair) {
	n.broker.Publish(uid, sse.Event{Type: sse.PairUpdated, Data: PairResponse{Pair: pairView(pair, uid)}})
}

// ProfileChanged implements reconcile.Events.
func (n *Notifier) ProfileChanged(uid string, p *models.Profile) {
	var data any
	if p != nil {
		data = profileView(uid, p)
	}
	n.broker.Publish(uid, sse.Event{Type: sse.ProfileUpdated, Data: data})
}

// ScheduleChanged implements reconcile.Events.
func (n *Notifier) ScheduleChanged(uid string, s schedule.Schedule) {
	n.broker.Publish(uid, sse.Event{Type: sse.ScheduleUpdated, Data: s})
}
