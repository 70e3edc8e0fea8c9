package provider

import "fmt"

// serverSettingProtocols and serverSettingKeys drive the caller-facing
// key renaming: clients send `imap_hostname`, backends expect
// `imap_server_hostname`, and likewise for ports and SMTP.
var (
	serverSettingProtocols = []string{"smtp", "imap"}
	serverSettingKeys      = []string{"hostname", "port"}
)

// NormalizeSettings returns a copy of the caller-supplied settings
// with the `{protocol}_{hostname,port}` keys renamed to their
// `{protocol}_server_{hostname,port}` form. Keys already in the
// server form pass through untouched.
func NormalizeSettings(info Settings) Settings {
	out := info.Clone()

	for _, protocol := range serverSettingProtocols {
		for _, setting := range serverSettingKeys {
			key := fmt.Sprintf("%s_%s", protocol, setting)
			newKey := fmt.Sprintf("%s_server_%s", protocol, setting)

			if v, ok := out[key]; ok {
				out[newKey] = v
				delete(out, key)
			}
		}
	}

	return out
}
