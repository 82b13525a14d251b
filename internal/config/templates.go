package config

import (
	"fmt"
	"os"
)

// Template returns the starter TOML for a relayctl deployment.
func Template() string {
	return relayTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(relayTemplate), 0o600)
}

const relayTemplate = `name = "relayctl"

[frontend]
listen_addr = "127.0.0.1:5555"
queue_depth = 128

[backend]
queue_depth = 128

[limits]
max_frame_bytes = 1048576
max_frames = 64

[relay]
poll_timeout = "25ms"
forward_retry_budget = 20
backoff_initial = "1ms"
backoff_multiplier = 2.0
backoff_max = "50ms"

[workers]
count = 4
poll_interval = "10ms"

[clients]
count = 2
send_interval = "5ms"

[ops]
addr = ":9300"
cors_origins = ["http://localhost:3000"]
control_token = ""

[phases]
plain = "250ms"
hooked = "250ms"
`
