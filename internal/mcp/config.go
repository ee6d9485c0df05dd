package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// configFile is the on-disk shape of MCP_CONFIG_PATH: a map of server name
// to either {command, args, env} or
// {type: STREAMABLE_HTTP|SSE, url, bearerToken?, headers?}.
type configFile struct {
	Servers map[string]serverEntry `json:"servers"`
}

type serverEntry struct {
	Type TransportType `json:"type,omitempty"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	URL         string            `json:"url,omitempty"`
	BearerToken string            `json:"bearerToken,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`

	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// LoadConfig parses the tool-server configuration at path, honouring
// ${NAME} environment-variable substitution in every string value.
func LoadConfig(path string) ([]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}

	var out []*ServerConfig
	for name, entry := range file.Servers {
		cfg := &ServerConfig{
			Name:        name,
			Command:     substituteEnv(entry.Command),
			URL:         substituteEnv(entry.URL),
			BearerToken: substituteEnv(entry.BearerToken),
			Timeout:     time.Duration(entry.TimeoutSeconds) * time.Second,
		}
		for _, arg := range entry.Args {
			cfg.Args = append(cfg.Args, substituteEnv(arg))
		}
		if len(entry.Env) > 0 {
			cfg.Env = make(map[string]string, len(entry.Env))
			for k, v := range entry.Env {
				cfg.Env[k] = substituteEnv(v)
			}
		}
		if len(entry.Headers) > 0 {
			cfg.Headers = make(map[string]string, len(entry.Headers))
			for k, v := range entry.Headers {
				cfg.Headers[k] = substituteEnv(v)
			}
		}

		switch entry.Type {
		case TransportStreamableHTTP, TransportSSE:
			cfg.Transport = entry.Type
			if cfg.URL == "" {
				return nil, fmt.Errorf("mcp server %q: url is required for %s transport", name, entry.Type)
			}
		case "":
			cfg.Transport = TransportStdio
			if cfg.Command == "" {
				return nil, fmt.Errorf("mcp server %q: command is required for stdio transport", name)
			}
		default:
			return nil, fmt.Errorf("mcp server %q: unknown transport type %q", name, entry.Type)
		}

		out = append(out, cfg)
	}
	return out, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv expands ${NAME} references against the process environment;
// unset variables expand to the empty string.
func substituteEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
