// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

/*
Package config loads the wrapper configuration with koanf.

# Configuration Sources

Layers are applied in order, later layers overriding earlier ones:

 1. Built-in defaults
 2. <preset>/cm_wrapper_params.json, merged under "params". The file may
    contain comments and trailing commas.
 3. A YAML file: CONFIG_PATH, config.yaml, config.yml, or the same names
    under /etc/acwrapper/
 4. Environment variables listed in envMappings
 5. Command-line overrides

# Wrapper Params

The params file is the one the wrapped server's tooling writes:

	{
	  "port": 80,
	  "verboseLog": true,
	  "downloadSpeedLimit": 1e6,        // bytes per second, 0 for unlimited
	  "downloadPasswordOnly": true,     // content downloads need the server password
	  "publishPasswordChecksum": true,
	  "description": "Sunday league"
	}

The listen port is params.port unless server.port (HTTP_PORT) is set.

# Example YAML

	wrapper:
	  executable: /opt/acserver/acServer
	  preset_dir: /opt/acserver/presets/SERVER_00
	upstream:
	  timeout: 5s
	geo:
	  providers: [ip-api, ipapi.co]
	metrics:
	  enabled: true
*/
package config
