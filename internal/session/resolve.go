package session

import "github.com/nestmate/chatsync/internal/config"

// ResolveUser determines the active user using precedence:
// 1. flagOverride (--user flag)
// 2. config.toml default_user
func ResolveUser(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil {
		return cfg.DefaultUser
	}
	return ""
}
