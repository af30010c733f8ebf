package notify

import (
	"context"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/db"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
)

// Recipient is one (channel, destination) a notification is delivered to.
type Recipient struct {
	Channel     registry.Channel
	Destination string
}

// Recipients resolves who is told about a profile's events: fixed operator
// destinations plus contacts registered for the profile owner's address.
type Recipients struct {
	Directory db.DirectoryStore
	SMS       []string
	Email     []string
}

// Resolve returns operator recipients first, then owner contacts, without duplicates.
// An empty owner address skips the contact lookup.
func (r Recipients) Resolve(ctx context.Context, ownerAddress string) ([]Recipient, error) {
	var out []Recipient
	seen := map[Recipient]struct{}{}
	add := func(rc Recipient) {
		if rc.Destination == "" {
			return
		}
		if _, ok := seen[rc]; ok {
			return
		}
		seen[rc] = struct{}{}
		out = append(out, rc)
	}

	for _, to := range r.SMS {
		add(Recipient{Channel: registry.ChannelSMS, Destination: to})
	}
	for _, to := range r.Email {
		add(Recipient{Channel: registry.ChannelEmail, Destination: to})
	}

	if ownerAddress == "" || r.Directory == nil {
		return out, nil
	}
	contacts, err := r.Directory.ContactsForAddress(ctx, ownerAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients for %s: %w", ownerAddress, err)
	}
	for _, c := range contacts {
		add(Recipient{Channel: c.Channel, Destination: c.Destination})
	}
	return out, nil
}
