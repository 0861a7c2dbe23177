package stepauth

import (
	"context"

	"github.com/lsasec/stepauth/store"
)

// Delivery carries issued one-time codes to their out-of-band channel.
// The engine persists the code before calling Delivery, so a failed or
// timed-out send never corrupts code state: the same code can be
// re-delivered without re-issuing. Implementations should impose their
// own send timeouts via ctx.
type Delivery interface {
	SendEmailCode(ctx context.Context, identity *store.Identity, code string) error
	SendSMSCode(ctx context.Context, identity *store.Identity, code string) error
}

// NoOpDelivery discards codes. Useful while wiring an integration.
type NoOpDelivery struct{}

func (NoOpDelivery) SendEmailCode(context.Context, *store.Identity, string) error { return nil }
func (NoOpDelivery) SendSMSCode(context.Context, *store.Identity, string) error { return nil }

// SentCode is one captured delivery, recorded by [ChannelDelivery].
type SentCode struct {
	IdentityID string
	Channel    store.Channel
	Code       string
}

// ChannelDelivery buffers sends on a channel. Used by tests to assert
// exactly which codes the engine asked to deliver.
type ChannelDelivery struct {
	sends chan SentCode
}

// NewChannelDelivery creates a ChannelDelivery with the given buffer.
func NewChannelDelivery(buffer int) *ChannelDelivery {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelDelivery{sends: make(chan SentCode, buffer)}
}

func (d *ChannelDelivery) SendEmailCode(ctx context.Context, identity *store.Identity, code string) error {
	return d.send(ctx, SentCode{IdentityID: identity.ID, Channel: store.ChannelEmail, Code: code})
}

func (d *ChannelDelivery) SendSMSCode(ctx context.Context, identity *store.Identity, code string) error {
	return d.send(ctx, SentCode{IdentityID: identity.ID, Channel: store.ChannelSMS, Code: code})
}

func (d *ChannelDelivery) send(ctx context.Context, sent SentCode) error {
	select {
	case d.sends <- sent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sends exposes the captured deliveries.
func (d *ChannelDelivery) Sends() <-chan SentCode {
	return d.sends
}
