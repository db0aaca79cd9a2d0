package app

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
)

const (
	stateReady     = daemon.SdNotifyReady
	stateReloading = daemon.SdNotifyReloading
	stateStopping  = daemon.SdNotifyStopping
)

// notify tells systemd about a state change. Outside of a Type=notify unit
// it does nothing.
func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("Notified systemd")
	}
}
