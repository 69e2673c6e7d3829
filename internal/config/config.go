package config

import "time"

// Server holds broker configuration values.
type Server struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AdminAddr       string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	NotesDir        string        `mapstructure:"notes_dir" yaml:"notes_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
}

// Client holds client engine configuration values.
type Client struct {
	ServerAddr       string `mapstructure:"server_addr" yaml:"server_addr"`
	NotesDir         string `mapstructure:"notes_dir" yaml:"notes_dir"`
	ReceivedNotesDir string `mapstructure:"received_notes_dir" yaml:"received_notes_dir"`
	AudioPort        int    `mapstructure:"audio_port" yaml:"audio_port"`
	LogLevel         string `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultServer returns server configuration with reasonable starter defaults.
func DefaultServer() Server {
	return Server{
		Addr:            ":7000",
		AdminAddr:       "",
		NotesDir:        "voiceNotes",
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
	}
}

// DefaultClient returns client configuration with reasonable starter defaults.
func DefaultClient() Client {
	return Client{
		ServerAddr:       "127.0.0.1:7000",
		NotesDir:         "voiceNotes",
		ReceivedNotesDir: "receivedVoiceNotes",
		AudioPort:        4000,
		LogLevel:         "info",
	}
}
