package daemon

import (
	"context"
	"fmt"

	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/channel/cryptohook"
	"github.com/satrio/kurir/pkg/channel/longpoll"
	"github.com/satrio/kurir/pkg/channel/mailbox"
	"github.com/satrio/kurir/pkg/channel/wsgateway"
	"github.com/satrio/kurir/pkg/message"
)

// adapterFactories is the compile-time adapter catalog. Adding a channel
// family means adding a constructor here and a manifest below.
var adapterFactories = map[string]func() channel.Adapter{
	"wsgateway":  func() channel.Adapter { return wsgateway.New() },
	"cryptohook": func() channel.Adapter { return cryptohook.New() },
	"longpoll":   func() channel.Adapter { return longpoll.New() },
	"mailbox":    func() channel.Adapter { return mailbox.New() },
}

var adapterManifests = map[string]channel.Manifest{
	"wsgateway": {
		Name:        "wsgateway",
		Version:     "1.0.0",
		Slot:        channel.SlotChannel,
		Description: "Opcode WebSocket gateway with identify/resume sessions",
	},
	"cryptohook": {
		Name:        "cryptohook",
		Version:     "1.0.0",
		Slot:        channel.SlotChannel,
		Description: "Signed and AES-encrypted HTTP callback endpoint",
	},
	"longpoll": {
		Name:        "longpoll",
		Version:     "1.0.0",
		Slot:        channel.SlotChannel,
		Description: "Cursor-based long-poll bot transport",
	},
	"mailbox": {
		Name:        "mailbox",
		Version:     "1.0.0",
		Slot:        channel.SlotChannel,
		Description: "IMAP mailbox watcher with SMTP replies",
	},
}

// buildChannels instantiates, initializes and registers an adapter for
// every enabled config section. One channel's bad credentials never
// block the others; New fails only when every enabled channel is
// unusable.
func (d *Daemon) buildChannels() error {
	enabled := d.config.EnabledChannels()
	if len(enabled) == 0 {
		d.logger.Warn().Msg("No channels enabled")
		return nil
	}

	failed := 0
	for name, settings := range enabled {
		factory, ok := adapterFactories[name]
		if !ok {
			d.logger.Error().Str("channel", name).Msg("Unknown channel in config")
			failed++
			continue
		}

		adapter := factory()
		if err := adapter.Initialize(d.ctx, settings); err != nil {
			d.logger.Error().Err(err).Str("channel", name).Msg("Channel initialization failed")
			failed++
			continue
		}

		adapter.OnMessage(d.handleInbound)

		if err := d.registry.Register(adapterManifests[name], adapter); err != nil {
			d.logger.Error().Err(err).Str("channel", name).Msg("Channel registration failed")
			failed++
			continue
		}
		d.logger.Info().Str("channel", name).Msg("Channel registered")
	}

	if failed == len(enabled) {
		return fmt.Errorf("all %d enabled channels failed to initialize", failed)
	}
	return nil
}

// handleInbound is the bridge every adapter delivers into. Streaming is
// not used on channel transports, so onChunk stays nil.
func (d *Daemon) handleInbound(ctx context.Context, msg message.Inbound) (string, error) {
	return d.router.HandleMessage(ctx, msg, nil)
}
