package config

import (
	"fmt"
	"os"
)

// Template is a commented starting point for `ubindctl config init`.
const Template = `# ubind runtime settings
context_id = "ubind.local"
dialect = "typed"              # "typed" or "generic"
workers = 8
sync_timeout = "2s"
legacy_blocking_sync = false
local_clock = false

[remote]
address = "127.0.0.1:54000"
dial_timeout = "5s"
max_connect_attempts = 0       # 0 retries forever
max_payload_bytes = 8388608

[remote.tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""               # defaults to the address host
insecure_skip_verify = false

[admin]
address = ""                   # e.g. "127.0.0.1:9464" serves /metrics and /healthz
token = ""                     # when set, requests need "Authorization: Bearer <token>"
`

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}
