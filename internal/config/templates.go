package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the example daemon configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(daemonTemplate), 0o600)
}

const daemonTemplate = `socket = "wlcore-0"
# runtime_dir defaults to $XDG_RUNTIME_DIR
admin_addr = "127.0.0.1:9200"
cors_origins = ["http://localhost:3000"]
write_timeout = "5s"
log_level = "info"

[[global]]
interface = "test_global"
version = 5

[[global]]
interface = "test_child"
version = 3
allow_uids = [0]
`
