package metrics

import "github.com/kilianp07/organlink/core/factory"

// Config lists the sinks to build.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" koanf:"sinks"`
	// ListenAddr also serves /metrics on a dedicated port when set.
	ListenAddr string `json:"listen_addr" koanf:"listen_addr"`
}
