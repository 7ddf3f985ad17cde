package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mmx233/ChatRelay/protocol"
	"github.com/Mmx233/ChatRelay/server/registry"
)

// Peers delivers presence frames to every other authenticated connection.
// A failed send to one peer does not stop delivery to the rest.
type Peers struct {
	registry *registry.Registry
}

var _ Subscriber = (*Peers)(nil)

func NewPeers(reg *registry.Registry) *Peers {
	return &Peers{registry: reg}
}

func (p *Peers) Deliver(_ context.Context, ev Event) error {
	frame, err := protocol.Encode(ev.Frame())
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range p.registry.Authenticated() {
		if conn.Identity() == ev.Email {
			continue
		}
		if err := conn.Send(frame); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", conn.ID, err))
		}
	}
	return errors.Join(errs...)
}
