// Package audit logs one structured entry per command invocation: the
// command, the config file it resolved, and the settings in effect. Secret
// values are reduced to "set" or "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// entry is one environment variable reported in the audit log.
type entry struct {
	key    string
	secret bool
}

// auditKeys is the ordered list of variables reported for every command.
var auditKeys = []entry{
	{"MODEL_PROVIDER", false},
	{"OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"GEMINI_MODEL", false},
	{"ARK_API_KEY", true},
	{"ARK_MODEL", false},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"EMBEDDING_API_KEY", true},
	{"VECTOR_STORE_URI", false},
	{"VECTOR_COLLECTION_PREFIX", false},
	{"QDRANT_API_KEY", true},
	{"COHERE_API_KEY", true},
	{"COHERE_RERANK_MODEL", false},
	{"LLAMA_CLOUD_API_KEY", true},
	{"DOCRAG_STORAGE_DIR", false},
	{"DOCRAG_UPLOAD_DIR", false},
	{"DOCRAG_API_KEY", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// secretKeys is derived from auditKeys so the two can never disagree.
var secretKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart logs the audit entry for command. configPath is the YAML
// file that was applied, or "".
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	)
	for _, e := range auditKeys {
		attrs = append(attrs, slog.String(e.key, SanitiseKey(e.key, os.Getenv(e.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value for logging: "set"/"unset" for secrets, the
// value itself (or "unset") otherwise.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case secretKeys[key]:
		return "set"
	default:
		return value
	}
}

// displayPath shortens the home directory to "~"; "" becomes "none".
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + strings.TrimPrefix(p, home)
	}
	return p
}
