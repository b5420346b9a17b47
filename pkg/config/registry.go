package config

// Persistent state keys (Registry)
const (
	KeyActiveEngine    = "active_engine"
	KeyDefaultLanguage = "default_language"
	KeyDefaultMode     = "default_mode"
	KeyDefaultSpeed    = "default_speed"
)

// SettingKeys lists the keys runtime settings may write.
var SettingKeys = []string{KeyActiveEngine, KeyDefaultLanguage, KeyDefaultMode, KeyDefaultSpeed}
